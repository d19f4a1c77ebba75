// Package surface wires one audio chat screen: microphone session,
// webhook submission, optional speech synthesis, playback and toasts.
package surface

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/internal/capture"
	"github.com/tiger/mari-voice/internal/notify"
	"github.com/tiger/mari-voice/internal/observability/telemetry"
	"github.com/tiger/mari-voice/internal/recording"
)

// Submitter sends a finalized recording to the webhook.
type Submitter interface {
	Submit(ctx context.Context, payload voice.AudioPayload) (voice.Result, error)
}

// Speaker turns text-only results into audio.
type Speaker interface {
	Speak(ctx context.Context, result voice.Result) (voice.Result, error)
}

// Player plays playable results. Close stops playback and refuses new
// instances.
type Player interface {
	Play(ctx context.Context, result voice.Result) error
	Playing() bool
	Stop()
	Close()
}

// Reply is the outcome of one submitted recording.
type Reply struct {
	SessionID string
	Result    voice.Result
	Err       error
}

type Config struct {
	Device    capture.Device
	Submitter Submitter
	// Speaker is optional; without it text replies are only shown.
	Speaker  Speaker
	Player   Player
	Notifier notify.Notifier
	User     func() voice.UserMetadata

	OnStateChange func(voice.RecordingState)
	OnElapsed     func(seconds int)

	Clock        clockwork.Clock
	TickInterval time.Duration
	MaxDuration  time.Duration
	SurfaceID    string
	Emitter      telemetry.Emitter
	Logger       *zap.Logger
}

// AudioChat is one audio chat surface.
type AudioChat struct {
	cfg     Config
	manager *recording.Manager
	replies chan Reply
	// submitting guards against a second payload entering the pipeline.
	submitting atomic.Bool
}

func New(cfg Config) (*AudioChat, error) {
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if cfg.Player == nil {
		return nil, fmt.Errorf("player is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Multi{}
	}
	if cfg.SurfaceID == "" {
		cfg.SurfaceID = "audio-" + uuid.NewString()[:8]
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Logger = cfg.Logger.Named("surface").With(zap.String("surface_id", cfg.SurfaceID))
	cfg.Emitter = telemetry.OrNoop(cfg.Emitter)

	a := &AudioChat{cfg: cfg, replies: make(chan Reply, 8)}
	manager, err := recording.New(recording.Config{
		Device:       cfg.Device,
		Sink:         recording.PayloadSinkFunc(a.handlePayload),
		Observer:     observer{a: a},
		Busy:         a.busy,
		User:         cfg.User,
		Clock:        cfg.Clock,
		TickInterval: cfg.TickInterval,
		MaxDuration:  cfg.MaxDuration,
		SurfaceID:    cfg.SurfaceID,
		Emitter:      cfg.Emitter,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.manager = manager
	return a, nil
}

// Toggle is the microphone button.
func (a *AudioChat) Toggle(ctx context.Context) error {
	return a.notifyErr(a.manager.Toggle(ctx))
}

func (a *AudioChat) Start(ctx context.Context) error {
	return a.notifyErr(a.manager.Start(ctx))
}

func (a *AudioChat) Stop() { a.manager.Stop() }

// State returns the microphone session state.
func (a *AudioChat) State() voice.RecordingState { return a.manager.State() }

// ElapsedSeconds returns the recording timer.
func (a *AudioChat) ElapsedSeconds() int { return a.manager.ElapsedSeconds() }

// Replies delivers one Reply per submitted recording.
func (a *AudioChat) Replies() <-chan Reply { return a.replies }

// Stats exposes the session counters.
func (a *AudioChat) Stats() recording.Stats { return a.manager.Stats() }

// Close tears down the session, closes the player and waits for in-flight
// submissions to observe cancellation. Results arriving afterwards are
// discarded.
func (a *AudioChat) Close() {
	a.manager.Teardown()
	a.cfg.Player.Close()
	a.manager.Wait()
}

func (a *AudioChat) busy() bool {
	return a.submitting.Load() || a.cfg.Player.Playing()
}

func (a *AudioChat) notifyErr(err error) error {
	if err != nil && !errors.Is(err, recording.ErrClosed) {
		a.cfg.Notifier.Notify(notify.ToastFor(err))
	}
	return err
}

func (a *AudioChat) handlePayload(ctx context.Context, payload voice.AudioPayload) {
	if !a.submitting.CompareAndSwap(false, true) {
		a.cfg.Logger.Warn("dropping payload while another submission is in flight", zap.String("session_id", payload.SessionID))
		return
	}
	defer a.submitting.Store(false)

	reply, ok := a.process(ctx, payload)
	if !ok {
		a.cfg.Logger.Debug("discarding result for closed surface", zap.String("session_id", payload.SessionID))
		return
	}
	if reply.Err != nil {
		a.cfg.Notifier.Notify(notify.ToastFor(reply.Err))
	}
	select {
	case a.replies <- reply:
	default:
		a.cfg.Logger.Warn("reply channel full, dropping reply", zap.String("session_id", payload.SessionID))
	}
}

// process returns ok=false once ctx is cancelled; the result must then not
// touch the surface.
func (a *AudioChat) process(ctx context.Context, payload voice.AudioPayload) (Reply, bool) {
	reply := Reply{SessionID: payload.SessionID}

	wav, err := capture.PCMToWAV(payload)
	if err != nil {
		reply.Result = voice.Failure(voice.ErrorClassInvalidPayload, err.Error(), 0)
		reply.Err = err
		return reply, ctx.Err() == nil
	}

	result, err := a.cfg.Submitter.Submit(ctx, wav)
	if ctx.Err() != nil {
		return reply, false
	}
	reply.Result = result
	if err != nil {
		reply.Err = err
		return reply, true
	}

	if result.Kind == voice.ResultTextOnly && a.cfg.Speaker != nil {
		spoken, err := a.cfg.Speaker.Speak(ctx, result)
		if ctx.Err() != nil {
			return reply, false
		}
		if err != nil {
			a.cfg.Logger.Warn("speech synthesis failed, showing text", zap.String("session_id", payload.SessionID), zap.Error(err))
		} else {
			result = spoken
			reply.Result = spoken
		}
	}

	if !result.IsPlayable() {
		a.cfg.Notifier.Notify(notify.ReplyWithoutAudio)
		return reply, true
	}
	if err := a.cfg.Player.Play(ctx, result); err != nil {
		if ctx.Err() != nil {
			return reply, false
		}
		a.cfg.Logger.Warn("playback failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		reply.Err = fmt.Errorf("play reply: %w", err)
	}
	return reply, true
}

// observer forwards manager updates. It runs under the manager lock.
type observer struct {
	a *AudioChat
}

func (o observer) OnStateChange(state voice.RecordingState) {
	if o.a.cfg.OnStateChange != nil {
		o.a.cfg.OnStateChange(state)
	}
}

func (o observer) OnElapsed(seconds int) {
	if o.a.cfg.OnElapsed != nil {
		o.a.cfg.OnElapsed(seconds)
	}
}

func (o observer) OnNotice(err error) {
	o.a.cfg.Notifier.Notify(notify.ToastFor(err))
}
