// Package portaudio captures the default input device through PortAudio.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/tiger/mari-voice/api/voice"
	"github.com/tiger/mari-voice/internal/capture"
)

// Config controls the PortAudio input stream.
type Config struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	Logger          *zap.Logger
}

// Device opens the system default microphone.
type Device struct {
	cfg Config
}

// New returns a PortAudio device with defaults applied.
func New(cfg Config) *Device {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Device{cfg: cfg}
}

// Acquire initializes PortAudio and opens an input-only stream.
func (d *Device) Acquire(ctx context.Context) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, capture.NewAccessError(capture.KindUnknown, err)
	}
	if err := pa.Initialize(); err != nil {
		return nil, classify(fmt.Errorf("portaudio init: %w", err))
	}
	if _, err := pa.DefaultInputDevice(); err != nil {
		_ = pa.Terminate()
		return nil, capture.NewAccessError(capture.KindNotFound, err)
	}
	in := make([]int16, d.cfg.FramesPerBuffer*d.cfg.Channels)
	stream, err := pa.OpenDefaultStream(d.cfg.Channels, 0, float64(d.cfg.SampleRate), d.cfg.FramesPerBuffer, in)
	if err != nil {
		_ = pa.Terminate()
		return nil, classify(fmt.Errorf("open input stream: %w", err))
	}
	return &inputStream{
		cfg:    d.cfg,
		stream: stream,
		in:     in,
		done:   make(chan struct{}),
	}, nil
}

type inputStream struct {
	cfg    Config
	stream *pa.Stream
	in     []int16

	stopRequested atomic.Bool
	mu            sync.Mutex
	started       bool
	released      bool
	done          chan struct{}
}

func (s *inputStream) MediaType() string {
	return fmt.Sprintf("%s;rate=%d;channels=%d", voice.MediaTypePCM, s.cfg.SampleRate, s.cfg.Channels)
}

func (s *inputStream) Start(h capture.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("stream already released")
	}
	if s.started {
		return fmt.Errorf("stream already started")
	}
	if err := s.stream.Start(); err != nil {
		return classify(fmt.Errorf("start input stream: %w", err))
	}
	s.started = true
	go s.loop(h)
	return nil
}

func (s *inputStream) loop(h capture.Handler) {
	var loopErr error
	for !s.stopRequested.Load() {
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				s.cfg.Logger.Debug("portaudio input overflowed")
				continue
			}
			loopErr = fmt.Errorf("read input stream: %w", err)
			break
		}
		h.OnData(pcmBytes(s.in))
	}
	_ = s.stream.Stop()
	close(s.done)
	h.OnStop(loopErr)
}

func (s *inputStream) Stop() {
	s.stopRequested.Store(true)
}

func (s *inputStream) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	started := s.started
	s.mu.Unlock()

	s.stopRequested.Store(true)
	if started {
		<-s.done
	}
	closeErr := s.stream.Close()
	termErr := pa.Terminate()
	if closeErr != nil {
		return fmt.Errorf("close input stream: %w", closeErr)
	}
	if termErr != nil {
		return fmt.Errorf("portaudio terminate: %w", termErr)
	}
	return nil
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

func classify(err error) *capture.DeviceAccessError {
	switch {
	case errors.Is(err, pa.DeviceUnavailable):
		return capture.NewAccessError(capture.KindInUse, err)
	case errors.Is(err, pa.InvalidDevice), errors.Is(err, pa.InvalidChannelCount):
		return capture.NewAccessError(capture.KindNotFound, err)
	default:
		return capture.AccessError(err)
	}
}
