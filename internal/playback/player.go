// Package playback plays webhook replies through an external player
// command, one instance at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/internal/observability/telemetry"
	"github.com/tiger/mari-voice/providers/common/httpadapter"
)

// ErrNotPlayable rejects results that carry no audio.
var ErrNotPlayable = errors.New("result carries no playable audio")

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("player is closed")

// DefaultCommand plays a file headless and exits at the end.
var DefaultCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"}

// Config configures a Player.
type Config struct {
	// Command is the player argv; the audio file path is appended.
	Command   []string
	TempDir   string
	Client    *resty.Client
	SurfaceID string
	Emitter   telemetry.Emitter
	Logger    *zap.Logger
}

// Player owns at most one playback instance.
type Player struct {
	cfg    Config
	client *resty.Client

	playMu  sync.Mutex
	mu      sync.Mutex
	current *instance
	closed  bool
}

type instance struct {
	id     string
	path   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New returns a Player with defaults applied.
func New(cfg Config) *Player {
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Emitter = telemetry.OrNoop(cfg.Emitter)
	client := cfg.Client
	if client == nil {
		client = httpadapter.NewClient(httpadapter.ClientConfig{Name: "playback", Logger: cfg.Logger})
	}
	return &Player{cfg: cfg, client: client}
}

// Play stops any current instance and starts playing result. It returns
// once the player process has started.
func (p *Player) Play(ctx context.Context, result voice.Result) error {
	if !result.IsPlayable() {
		return ErrNotPlayable
	}
	p.playMu.Lock()
	defer p.playMu.Unlock()
	if p.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Stop()

	id := uuid.NewString()
	file, err := p.materialize(ctx, id, result)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	args := append(append([]string{}, p.cfg.Command[1:]...), file)
	cmd := exec.CommandContext(runCtx, p.cfg.Command[0], args...)
	if err := cmd.Start(); err != nil {
		cancel()
		_ = os.Remove(file)
		return fmt.Errorf("start player %s: %w", p.cfg.Command[0], err)
	}

	inst := &instance{id: id, path: file, cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		_ = cmd.Wait()
		_ = os.Remove(file)
		return ErrClosed
	}
	p.current = inst
	p.mu.Unlock()

	p.emit(telemetry.EventPlaybackStarted, "playback started", id)
	go p.wait(cmd, inst)
	return nil
}

func (p *Player) wait(cmd *exec.Cmd, inst *instance) {
	err := cmd.Wait()
	inst.cancel()
	if rmErr := os.Remove(inst.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		p.cfg.Logger.Warn("remove playback file", zap.String("path", inst.path), zap.Error(rmErr))
	}

	p.mu.Lock()
	if p.current == inst {
		p.current = nil
	}
	p.mu.Unlock()

	if err != nil {
		inst.err = fmt.Errorf("player exited: %w", err)
		p.cfg.Logger.Debug("player exited with error", zap.String("playback_id", inst.id), zap.Error(err))
	}
	p.emit(telemetry.EventPlaybackReleased, "playback released", inst.id)
	close(inst.done)
}

func (p *Player) materialize(ctx context.Context, id string, result voice.Result) (string, error) {
	if len(result.Audio) > 0 {
		file := filepath.Join(p.cfg.TempDir, "mari-reply-"+id+"."+voice.ExtensionFor(result.MediaType))
		if err := os.WriteFile(file, result.Audio, 0o600); err != nil {
			return "", fmt.Errorf("write reply audio: %w", err)
		}
		return file, nil
	}

	file := filepath.Join(p.cfg.TempDir, "mari-reply-"+id+"."+extensionForURL(result.AudioURL))
	resp, err := p.client.R().SetContext(ctx).SetOutput(file).Get(result.AudioURL)
	if err != nil {
		_ = os.Remove(file)
		return "", fmt.Errorf("fetch reply audio: %w", err)
	}
	if outcome := httpadapter.NormalizeStatus(resp.StatusCode(), ""); outcome.Class != httpadapter.OutcomeSuccess {
		_ = os.Remove(file)
		return "", fmt.Errorf("fetch reply audio: status %d", resp.StatusCode())
	}
	return file, nil
}

// Stop kills the current instance, if any, and waits for its release.
func (p *Player) Stop() {
	p.mu.Lock()
	inst := p.current
	p.mu.Unlock()
	if inst == nil {
		return
	}
	inst.cancel()
	<-inst.done
}

// Playing reports whether an instance is active.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Wait blocks until the current instance ends or ctx is done.
func (p *Player) Wait(ctx context.Context) error {
	p.mu.Lock()
	inst := p.current
	p.mu.Unlock()
	if inst == nil {
		return nil
	}
	select {
	case <-inst.done:
		return inst.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Player) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops playback and refuses new instances.
func (p *Player) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Stop()
}

func (p *Player) emit(name, message, id string) {
	p.cfg.Emitter.EmitLog(name, "info", message, map[string]string{"playback_id": id}, telemetry.Correlation{
		SurfaceID: p.cfg.SurfaceID,
		Component: "playback",
	})
}

func extensionForURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "mp3"
	}
	ext := path.Ext(u.Path)
	if n := len(ext); n > 1 && n <= 5 {
		return ext[1:]
	}
	return "mp3"
}
