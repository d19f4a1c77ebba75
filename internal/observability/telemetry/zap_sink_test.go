package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewZapSink(zap.New(core))

	err := sink.Export(context.Background(), Event{
		Kind:        EventKindLog,
		TimestampMS: 7,
		Correlation: Correlation{SessionID: "rec-1", Component: "recording"},
		Log: &LogEvent{
			Name:       EventRecordingEmpty,
			Severity:   "warn",
			Message:    "nothing captured",
			Attributes: map[string]string{"chunks": "0"},
		},
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "nothing captured", entries[0].Message)
	assert.Equal(t, "telemetry", entries[0].LoggerName)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "rec-1", ctx["session_id"])
	assert.Equal(t, EventRecordingEmpty, ctx["event"])
	assert.Equal(t, "0", ctx["chunks"])
}

func TestZapSinkUnknownSeverityDefaultsToInfo(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))
	require.NoError(t, sink.Export(context.Background(), Event{Kind: EventKindLog, Log: &LogEvent{Severity: "loud", Message: "m"}}))
	require.NoError(t, sink.Export(context.Background(), Event{Kind: EventKindMetric, Metric: &MetricEvent{Name: MetricRecordingBytes, Value: 3}}))

	entries := logs.All()
	require.Len(t, entries, 1, "debug metric lines are filtered at info")
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}
