package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "govkernel", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	p, err = New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "govkernel.cycle", AttrCycleID.String("c-1"))
	require.NotNil(t, ctx)
	time.Sleep(time.Millisecond)
	finish(nil)

	_, finish = p.TrackOperation(context.Background(), "govkernel.cycle")
	finish(errors.New("ledger write failed"))
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"":         slog.LevelInfo,
		"INFO":     slog.LevelInfo,
		"warning":  slog.LevelWarn,
		"error":    slog.LevelError,
		"critical": LevelCritical,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLoggerRendersCritical(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "json")
	require.NoError(t, err)

	Critical(context.Background(), logger, "emergency halt", "reason", "INV-001 failed")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "CRITICAL", rec["level"])
	assert.Equal(t, "emergency halt", rec["msg"])

	buf.Reset()
	logger, err = NewLogger(&buf, slog.LevelWarn, "text")
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Error("kept")
	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.True(t, strings.Contains(out, "level=ERROR"), out)

	_, err = NewLogger(&buf, slog.LevelInfo, "xml")
	assert.Error(t, err)
}

func TestMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter(InstrumentationName))
	require.NoError(t, err)

	ctx := context.Background()
	m.InvariantFailures.Add(ctx, 2)
	m.CriticalFailures.Add(ctx, 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					got[md.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), got["govkernel.invariant.failures"])
	assert.Equal(t, int64(1), got["govkernel.invariant.critical_failures"])
}

func TestAttributes(t *testing.T) {
	attrs := InvariantResult("INV-001", "FAIL", "CRITICAL")
	require.Len(t, attrs, 3)
	assert.Equal(t, "govkernel.invariant.id", string(attrs[0].Key))
	assert.Equal(t, "INV-001", attrs[0].Value.AsString())

	attrs = Decision("config_deploy", "critical", "BLOCKED")
	require.Len(t, attrs, 3)
	assert.Equal(t, "BLOCKED", attrs[2].Value.AsString())
}
