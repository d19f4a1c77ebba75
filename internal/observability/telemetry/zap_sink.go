package telemetry

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapSink writes telemetry events as structured log lines.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink returns a sink bound to logger; nil discards.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("telemetry")}
}

// Export logs one event.
func (s *ZapSink) Export(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.Int64("timestamp_ms", event.TimestampMS),
	}
	fields = appendCorrelation(fields, event.Correlation)

	switch {
	case event.Metric != nil:
		fields = append(fields, zap.Float64("value", event.Metric.Value), zap.String("unit", event.Metric.Unit))
		fields = appendAttributes(fields, event.Metric.Attributes)
		s.logger.Debug(event.Metric.Name, fields...)
	case event.Span != nil:
		fields = append(fields,
			zap.String("span_kind", event.Span.Kind),
			zap.Int64("duration_ms", event.Span.DurationMS()),
		)
		fields = appendAttributes(fields, event.Span.Attributes)
		s.logger.Debug(event.Span.Name, fields...)
	case event.Log != nil:
		fields = append(fields, zap.String("event", event.Log.Name))
		fields = appendAttributes(fields, event.Log.Attributes)
		s.logger.Check(severityLevel(event.Log.Severity), event.Log.Message).Write(fields...)
	}
	return nil
}

func appendCorrelation(fields []zap.Field, c Correlation) []zap.Field {
	if c.SessionID != "" {
		fields = append(fields, zap.String("session_id", c.SessionID))
	}
	if c.SurfaceID != "" {
		fields = append(fields, zap.String("surface_id", c.SurfaceID))
	}
	if c.UserID != "" {
		fields = append(fields, zap.String("user_id", c.UserID))
	}
	if c.Component != "" {
		fields = append(fields, zap.String("component", c.Component))
	}
	return fields
}

func appendAttributes(fields []zap.Field, attrs map[string]string) []zap.Field {
	for k, v := range attrs {
		fields = append(fields, zap.String(k, v))
	}
	return fields
}

func severityLevel(severity string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(severity)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}
