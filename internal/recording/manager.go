// Package recording owns the microphone session lifecycle: acquire the
// capture device, buffer chunks, finalize on the device stop event and hand
// non-empty payloads to a sink.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/internal/capture"
	"github.com/tiger/mari-voice/internal/observability/telemetry"
)

var (
	// ErrAlreadyRecording rejects Start while a session is acquiring, recording or stopping.
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	// ErrBusy rejects Start while a payload is processing or the surface is disabled.
	ErrBusy = errors.New("surface is busy")
	// ErrClosed rejects Start after Teardown.
	ErrClosed = errors.New("recording manager is closed")
	// ErrEmptyRecording is the notice raised when a session finalizes with no audio.
	ErrEmptyRecording = errors.New("nothing was recorded")
)

// PayloadSink consumes finalized payloads. HandlePayload runs on its own
// goroutine; the manager reports processing until it returns.
type PayloadSink interface {
	HandlePayload(ctx context.Context, payload voice.AudioPayload)
}

// PayloadSinkFunc adapts a function to PayloadSink.
type PayloadSinkFunc func(ctx context.Context, payload voice.AudioPayload)

func (f PayloadSinkFunc) HandlePayload(ctx context.Context, payload voice.AudioPayload) {
	f(ctx, payload)
}

// Observer receives lifecycle updates. Callbacks run while the manager
// holds its lock and must not call back into it.
type Observer interface {
	OnStateChange(state voice.RecordingState)
	OnElapsed(seconds int)
	OnNotice(err error)
}

// NopObserver ignores all updates.
type NopObserver struct{}

func (NopObserver) OnStateChange(voice.RecordingState) {}
func (NopObserver) OnElapsed(int)                      {}
func (NopObserver) OnNotice(error)                     {}

// Config wires a Manager.
type Config struct {
	Device       capture.Device
	Sink         PayloadSink
	Observer     Observer
	Busy         func() bool
	User         func() voice.UserMetadata
	Clock        clockwork.Clock
	TickInterval time.Duration
	// MaxDuration stops the session automatically; zero disables the cap.
	MaxDuration  time.Duration
	NewSessionID func() string
	SurfaceID    string
	Emitter      telemetry.Emitter
	Logger       *zap.Logger
}

// Stats counts device and session outcomes.
type Stats struct {
	DevicesAcquired int
	DevicesReleased int
	Finalized       int
	Empty           int
	DroppedChunks   int
}

// Manager runs at most one microphone session at a time.
type Manager struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	fsm       *FSM
	acquiring bool
	gen       uint64
	sessionID string
	stream    capture.Stream
	mediaType string
	startedAt time.Time
	chunks    [][]byte
	elapsed   int
	tickStop  chan struct{}
	stats     Stats

	handoffs sync.WaitGroup
}

// New validates cfg and returns an idle manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Device == nil {
		return nil, fmt.Errorf("capture device is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("payload sink is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Busy == nil {
		cfg.Busy = func() bool { return false }
	}
	if cfg.User == nil {
		cfg.User = func() voice.UserMetadata { return voice.UserMetadata{} }
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	cfg.Emitter = telemetry.OrNoop(cfg.Emitter)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		fsm:    NewFSM(FSMConfig{Now: cfg.Clock.Now}),
	}, nil
}

// Start acquires the device and begins a new recording session.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkStartLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.acquiring = true
	m.mu.Unlock()

	stream, err := m.cfg.Device.Acquire(ctx)

	m.mu.Lock()
	m.acquiring = false
	if err != nil {
		m.mu.Unlock()
		accessErr := capture.AccessError(err)
		m.cfg.Logger.Warn("microphone acquire failed", zap.String("kind", string(accessErr.Kind)), zap.Error(err))
		return accessErr
	}
	m.stats.DevicesAcquired++
	if m.fsm.IsTerminal() {
		m.mu.Unlock()
		m.release(stream)
		return ErrClosed
	}
	m.sessionID = m.cfg.NewSessionID()
	m.emitLocked(telemetry.EventDeviceAcquired, "info", "capture device acquired", nil)

	m.gen++
	gen := m.gen
	if _, err := m.fsm.Transition(SignalStart); err != nil {
		m.mu.Unlock()
		m.release(stream)
		return err
	}
	m.stream = stream
	m.mediaType = stream.MediaType()
	m.chunks = nil
	m.elapsed = 0
	m.startedAt = m.cfg.Clock.Now()
	m.tickStop = make(chan struct{})
	go m.runTicker(gen, m.cfg.Clock.NewTicker(m.cfg.TickInterval), m.tickStop)
	m.cfg.Observer.OnStateChange(voice.StateRecording)
	m.cfg.Observer.OnElapsed(0)
	m.emitLocked(telemetry.EventRecordingStarted, "info", "recording started", map[string]string{"media_type": m.mediaType})
	m.mu.Unlock()

	if err := stream.Start(&sessionHandler{m: m, gen: gen}); err != nil {
		m.mu.Lock()
		owned := m.gen == gen && m.stream == stream
		if owned {
			m.gen++
			m.stream = nil
			m.chunks = nil
			m.stopTickerLocked()
			_, _ = m.fsm.Transition(SignalAbort)
			m.cfg.Observer.OnStateChange(voice.StateIdle)
		}
		m.mu.Unlock()
		if owned {
			m.release(stream)
		}
		accessErr := capture.AccessError(err)
		m.cfg.Logger.Warn("microphone start failed", zap.String("kind", string(accessErr.Kind)), zap.Error(err))
		return accessErr
	}
	return nil
}

func (m *Manager) checkStartLocked() error {
	if m.fsm.IsTerminal() {
		return ErrClosed
	}
	if m.acquiring {
		return ErrAlreadyRecording
	}
	switch m.fsm.State() {
	case voice.StateRecording, voice.StateStopping:
		return ErrAlreadyRecording
	case voice.StateProcessing:
		return ErrBusy
	}
	if m.cfg.Busy() {
		return ErrBusy
	}
	return nil
}

// Stop asks the device to stop. It is a no-op unless recording.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.fsm.State() != voice.StateRecording || m.fsm.IsTerminal() {
		m.mu.Unlock()
		return
	}
	stream := m.stopLocked()
	m.mu.Unlock()
	stream.Stop()
}

func (m *Manager) stopLocked() capture.Stream {
	_, _ = m.fsm.Transition(SignalStop)
	m.cfg.Observer.OnStateChange(voice.StateStopping)
	return m.stream
}

// Toggle stops an active recording or starts a new one.
func (m *Manager) Toggle(ctx context.Context) error {
	if m.State() == voice.StateRecording {
		m.Stop()
		return nil
	}
	return m.Start(ctx)
}

// Teardown force-releases the device, cancels the tick and closes the
// manager. In-flight payload handlers see a cancelled context.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.fsm.IsTerminal() {
		m.mu.Unlock()
		return
	}
	_, _ = m.fsm.Transition(SignalTeardown)
	m.gen++
	stream := m.stream
	m.stream = nil
	m.chunks = nil
	m.stopTickerLocked()
	m.cancel()
	m.cfg.Observer.OnStateChange(voice.StateIdle)
	m.mu.Unlock()

	if stream != nil {
		stream.Stop()
		m.release(stream)
	}
}

// Wait blocks until every handed-off payload has been handled.
func (m *Manager) Wait() {
	m.handoffs.Wait()
}

// State returns the current session state.
func (m *Manager) State() voice.RecordingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.State()
}

// Closed reports whether Teardown ran.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.IsTerminal()
}

// ElapsedSeconds returns the display timer of the current session.
func (m *Manager) ElapsedSeconds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// Stats returns a counter snapshot.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

type sessionHandler struct {
	m   *Manager
	gen uint64
}

func (h *sessionHandler) OnData(chunk []byte) { h.m.onDataAvailable(h.gen, chunk) }
func (h *sessionHandler) OnStop(err error)    { h.m.onFinalize(h.gen, err) }

// onDataAvailable buffers a chunk for the live session. Chunks are also
// accepted while stopping because devices flush their tail before the
// stop event.
func (m *Manager) onDataAvailable(gen uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.fsm.State()
	if gen != m.gen || (state != voice.StateRecording && state != voice.StateStopping) {
		m.stats.DroppedChunks++
		return
	}
	m.chunks = append(m.chunks, chunk)
}

func (m *Manager) onFinalize(gen uint64, stopErr error) {
	m.mu.Lock()
	state := m.fsm.State()
	if gen != m.gen || (state != voice.StateRecording && state != voice.StateStopping) {
		m.mu.Unlock()
		return
	}
	stream := m.stream
	m.stream = nil
	chunks := m.chunks
	m.chunks = nil
	m.stopTickerLocked()

	if stopErr != nil {
		_, _ = m.fsm.Transition(SignalAbort)
		m.cfg.Observer.OnStateChange(voice.StateIdle)
		accessErr := capture.AccessError(stopErr)
		m.cfg.Observer.OnNotice(accessErr)
		m.cfg.Logger.Warn("recording aborted by device", zap.String("session_id", m.sessionID), zap.Error(stopErr))
		m.mu.Unlock()
		m.release(stream)
		return
	}

	blob := bytes.Join(chunks, nil)
	_, _ = m.fsm.Transition(SignalFinalize)
	m.cfg.Observer.OnStateChange(voice.StateIdle)
	if len(blob) == 0 {
		m.stats.Empty++
		m.emitLocked(telemetry.EventRecordingEmpty, "warn", "recording finalized without audio", nil)
		m.cfg.Observer.OnNotice(ErrEmptyRecording)
		m.mu.Unlock()
		m.release(stream)
		return
	}

	payload := voice.NewAudioPayload(m.sessionID, blob, m.mediaType, m.cfg.User())
	m.stats.Finalized++
	m.emitLocked(telemetry.EventRecordingFinalized, "info", "recording finalized", map[string]string{
		"bytes":  strconv.Itoa(len(blob)),
		"chunks": strconv.Itoa(len(chunks)),
	})
	m.cfg.Emitter.EmitMetric(telemetry.MetricRecordingBytes, float64(len(blob)), "bytes", nil, m.correlationLocked())
	m.cfg.Emitter.EmitSpan(telemetry.SpanRecordingSession, m.mediaType, m.startedAt.UnixMilli(), m.cfg.Clock.Now().UnixMilli(),
		map[string]string{"elapsed_s": strconv.Itoa(m.elapsed)}, m.correlationLocked())
	_, _ = m.fsm.Transition(SignalHandoff)
	m.cfg.Observer.OnStateChange(voice.StateProcessing)
	m.handoffs.Add(1)
	ctx := m.ctx
	m.mu.Unlock()

	m.release(stream)
	go func() {
		defer m.handoffs.Done()
		m.cfg.Sink.HandlePayload(ctx, payload)
		m.settle(gen)
	}()
}

func (m *Manager) settle(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.fsm.State() != voice.StateProcessing {
		return
	}
	if _, err := m.fsm.Transition(SignalSettled); err == nil {
		m.cfg.Observer.OnStateChange(voice.StateIdle)
	}
}

func (m *Manager) runTicker(gen uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if stream := m.tick(gen); stream != nil {
				stream.Stop()
			}
		}
	}
}

// tick advances the display timer and returns the stream to stop when the
// duration cap is hit.
func (m *Manager) tick(gen uint64) capture.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.fsm.State() != voice.StateRecording {
		return nil
	}
	m.elapsed++
	m.cfg.Observer.OnElapsed(m.elapsed)
	if m.cfg.MaxDuration > 0 && time.Duration(m.elapsed)*m.cfg.TickInterval >= m.cfg.MaxDuration {
		m.cfg.Logger.Info("recording reached max duration", zap.String("session_id", m.sessionID), zap.Int("elapsed_s", m.elapsed))
		return m.stopLocked()
	}
	return nil
}

func (m *Manager) stopTickerLocked() {
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
}

func (m *Manager) release(stream capture.Stream) {
	if stream == nil {
		return
	}
	err := stream.Release()
	m.mu.Lock()
	m.stats.DevicesReleased++
	m.emitLocked(telemetry.EventDeviceReleased, "info", "capture device released", nil)
	m.mu.Unlock()
	if err != nil {
		m.cfg.Logger.Warn("capture device release failed", zap.Error(err))
	}
}

func (m *Manager) emitLocked(name, severity, message string, attrs map[string]string) {
	m.cfg.Emitter.EmitLog(name, severity, message, attrs, m.correlationLocked())
}

func (m *Manager) correlationLocked() telemetry.Correlation {
	return telemetry.Correlation{
		SessionID:            m.sessionID,
		SurfaceID:            m.cfg.SurfaceID,
		UserID:               m.cfg.User().ID,
		Component:            "recording",
		WallClockTimestampMS: m.cfg.Clock.Now().UnixMilli(),
	}
}
