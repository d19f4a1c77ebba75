package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// FileConfig configures a FileDevice.
type FileConfig struct {
	Path      string
	MediaType string
	ChunkSize int
	Interval  time.Duration
	Clock     clockwork.Clock
}

// FileDevice replays a recorded file as if it were a live microphone.
// Chunks are emitted at a fixed interval; once the file is drained the
// stream idles until Stop, like a silent mic.
type FileDevice struct {
	cfg FileConfig
}

// NewFileDevice returns a replay device with defaults applied.
func NewFileDevice(cfg FileConfig) *FileDevice {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MediaType == "" {
		cfg.MediaType = MediaTypeFromPath(cfg.Path)
	}
	return &FileDevice{cfg: cfg}
}

// Acquire opens the backing file.
func (d *FileDevice) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewAccessError(KindUnknown, err)
	}
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return nil, AccessError(err)
	}
	return &fileStream{
		cfg:  d.cfg,
		file: f,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

type fileStream struct {
	cfg  FileConfig
	file *os.File

	mu       sync.Mutex
	started  bool
	released bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *fileStream) MediaType() string {
	return s.cfg.MediaType
}

func (s *fileStream) Start(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("stream already released")
	}
	if s.started {
		return fmt.Errorf("stream already started")
	}
	s.started = true
	go s.run(h)
	return nil
}

func (s *fileStream) run(h Handler) {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var readErr error
	drained := false
	buf := make([]byte, s.cfg.ChunkSize)
	for {
		select {
		case <-s.stop:
			close(s.done)
			h.OnStop(readErr)
			return
		case <-ticker.Chan():
			if drained {
				continue
			}
			n, err := s.file.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				h.OnData(chunk)
			}
			if err == io.EOF {
				drained = true
			} else if err != nil {
				readErr = fmt.Errorf("read capture file: %w", err)
				drained = true
			}
		}
	}
}

func (s *fileStream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *fileStream) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	started := s.started
	s.mu.Unlock()

	s.Stop()
	if started {
		<-s.done
	}
	return s.file.Close()
}
