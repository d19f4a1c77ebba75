// Package telemetry queues client lifecycle events and hands them to sinks
// off the caller's goroutine. Emitting never blocks: when the queue is full
// the event is counted as dropped.
package telemetry

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names.
const (
	MetricRecordingBytes  = "recording_bytes"
	MetricSubmissionRTTMS = "submission_rtt_ms"
)

// Span names.
const (
	SpanRecordingSession  = "recording_session"
	SpanWebhookSubmission = "webhook_submission"
)

// Log event names.
const (
	EventDeviceAcquired      = "device_acquired"
	EventDeviceReleased      = "device_released"
	EventRecordingStarted    = "recording_started"
	EventRecordingFinalized  = "recording_finalized"
	EventRecordingEmpty      = "recording_empty"
	EventSubmissionCompleted = "submission_completed"
	EventSubmissionFallback  = "submission_fallback"
	EventPlaybackStarted     = "playback_started"
	EventPlaybackReleased    = "playback_released"
)

type EventKind string

const (
	EventKindMetric EventKind = "metric"
	EventKindSpan   EventKind = "span"
	EventKindLog    EventKind = "log"
)

// Correlation ties an event to a recording session, a surface and a user.
type Correlation struct {
	SessionID            string `json:"session_id,omitempty"`
	SurfaceID            string `json:"surface_id,omitempty"`
	UserID               string `json:"user_id,omitempty"`
	Component            string `json:"component,omitempty"`
	WallClockTimestampMS int64  `json:"wall_clock_timestamp_ms,omitempty"`
}

type MetricEvent struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SpanEvent is a finished interval, e.g. one recording or one webhook call.
type SpanEvent struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	StartMS    int64             `json:"start_ms"`
	EndMS      int64             `json:"end_ms"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DurationMS is never negative.
func (s SpanEvent) DurationMS() int64 {
	if s.EndMS < s.StartMS {
		return 0
	}
	return s.EndMS - s.StartMS
}

type LogEvent struct {
	Name       string            `json:"name"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Event carries exactly one of Metric, Span or Log.
type Event struct {
	Kind        EventKind    `json:"kind"`
	TimestampMS int64        `json:"timestamp_ms"`
	Correlation Correlation  `json:"correlation"`
	Metric      *MetricEvent `json:"metric,omitempty"`
	Span        *SpanEvent   `json:"span,omitempty"`
	Log         *LogEvent    `json:"log,omitempty"`
}

// Sink exports events. Export runs on the pipeline goroutine with a
// per-event deadline.
type Sink interface {
	Export(context.Context, Event) error
}

// Emitter is what components depend on; *Pipeline implements it.
type Emitter interface {
	EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation)
	EmitSpan(name, kind string, startMS, endMS int64, attributes map[string]string, correlation Correlation)
	EmitLog(name, severity, message string, attributes map[string]string, correlation Correlation)
}

type noopEmitter struct{}

func (noopEmitter) EmitMetric(string, float64, string, map[string]string, Correlation)    {}
func (noopEmitter) EmitSpan(string, string, int64, int64, map[string]string, Correlation) {}
func (noopEmitter) EmitLog(string, string, string, map[string]string, Correlation)        {}

// OrNoop returns e, or a discarding emitter when e is nil.
func OrNoop(e Emitter) Emitter {
	if e == nil {
		return noopEmitter{}
	}
	return e
}

type Config struct {
	QueueCapacity int
	ExportTimeout time.Duration
	Now           func() time.Time
}

// Stats is a counter snapshot.
type Stats struct {
	Enqueued       uint64
	Dropped        uint64
	Exported       uint64
	ExportFailures uint64
	QueueDepth     int
}

// Pipeline is a bounded queue drained by one export goroutine.
type Pipeline struct {
	sink  Sink
	cfg   Config
	queue chan Event
	done  chan struct{}

	closeOnce sync.Once
	drained   sync.WaitGroup

	enqueued, dropped, exported, failures atomic.Uint64
}

type discardSink struct{}

func (discardSink) Export(context.Context, Event) error { return nil }

// NewPipeline starts the export goroutine; Close stops it.
func NewPipeline(sink Sink, cfg Config) *Pipeline {
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = 256
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = 200 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = discardSink{}
	}
	p := &Pipeline{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan Event, cfg.QueueCapacity),
		done:  make(chan struct{}),
	}
	p.drained.Add(1)
	go p.drain()
	return p
}

// Close exports what is already queued and stops. Safe to call twice.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.drained.Wait()
	})
	return nil
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Enqueued:       p.enqueued.Load(),
		Dropped:        p.dropped.Load(),
		Exported:       p.exported.Load(),
		ExportFailures: p.failures.Load(),
		QueueDepth:     len(p.queue),
	}
}

func (p *Pipeline) EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation) {
	e := p.envelope(EventKindMetric, correlation)
	e.Metric = &MetricEvent{
		Name:       strings.TrimSpace(name),
		Value:      value,
		Unit:       strings.TrimSpace(unit),
		Attributes: cleanAttributes(attributes),
	}
	p.offer(e)
}

func (p *Pipeline) EmitSpan(name, kind string, startMS, endMS int64, attributes map[string]string, correlation Correlation) {
	e := p.envelope(EventKindSpan, correlation)
	e.Span = &SpanEvent{
		Name:       strings.TrimSpace(name),
		Kind:       strings.TrimSpace(kind),
		StartMS:    max(startMS, 0),
		EndMS:      max(endMS, 0),
		Attributes: cleanAttributes(attributes),
	}
	p.offer(e)
}

func (p *Pipeline) EmitLog(name, severity, message string, attributes map[string]string, correlation Correlation) {
	e := p.envelope(EventKindLog, correlation)
	e.Log = &LogEvent{
		Name:       strings.TrimSpace(name),
		Severity:   strings.ToLower(strings.TrimSpace(severity)),
		Message:    message,
		Attributes: cleanAttributes(attributes),
	}
	p.offer(e)
}

func (p *Pipeline) envelope(kind EventKind, c Correlation) Event {
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.SurfaceID = strings.TrimSpace(c.SurfaceID)
	c.UserID = strings.TrimSpace(c.UserID)
	c.Component = strings.TrimSpace(c.Component)
	c.WallClockTimestampMS = max(c.WallClockTimestampMS, 0)
	ts := c.WallClockTimestampMS
	if ts == 0 {
		ts = p.cfg.Now().UnixMilli()
	}
	return Event{Kind: kind, TimestampMS: ts, Correlation: c}
}

func (p *Pipeline) offer(e Event) {
	select {
	case p.queue <- e:
		p.enqueued.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *Pipeline) drain() {
	defer p.drained.Done()
	for {
		select {
		case e := <-p.queue:
			p.export(e)
		case <-p.done:
			for {
				select {
				case e := <-p.queue:
					p.export(e)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) export(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ExportTimeout)
	defer cancel()
	if err := p.sink.Export(ctx, e); err != nil {
		p.failures.Add(1)
		return
	}
	p.exported.Add(1)
}

// cleanAttributes copies attrs with trimmed keys and values; blank keys are
// dropped and an empty result is nil.
func cleanAttributes(attrs map[string]string) map[string]string {
	var out map[string]string
	for k, v := range attrs {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(attrs))
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
