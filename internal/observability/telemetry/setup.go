package telemetry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Settings selects sinks and queue limits for a client pipeline.
type Settings struct {
	OTLPHTTPEndpoint string
	ServiceName      string
	QueueCapacity    int
	ExportTimeout    time.Duration
}

// NewFromSettings builds a pipeline that always logs events through logger
// and additionally exports them over OTLP/HTTP when an endpoint is set.
func NewFromSettings(settings Settings, logger *zap.Logger) (*Pipeline, error) {
	sinks := []Sink{NewZapSink(logger)}
	if settings.OTLPHTTPEndpoint != "" {
		httpSink, err := NewOTLPHTTPSink(OTLPHTTPSinkConfig{
			Endpoint:    settings.OTLPHTTPEndpoint,
			ServiceName: settings.ServiceName,
			Timeout:     settings.ExportTimeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, httpSink)
	}
	return NewPipeline(MultiSink(sinks), Config{
		QueueCapacity: settings.QueueCapacity,
		ExportTimeout: settings.ExportTimeout,
	}), nil
}

// MultiSink fans one event out to every sink and joins their errors.
type MultiSink []Sink

// Export forwards event to all sinks.
func (m MultiSink) Export(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Export(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
