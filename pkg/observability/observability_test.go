package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "credledger", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx, finish := p.TrackOperation(context.Background(), "test.operation", attribute.String("k", "v"))
	require.NotNil(t, ctx)
	finish(errors.New("boom"))

	p.RecordAppend(ctx, "issue")
	p.RecordAlert(ctx, "duplicate_claim", "high")
	p.RecordIntegrityFailures(ctx, 2)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(shutdownCtx))
}

func testProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	p, err := NewWithProviders(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	require.NoError(t, err)
	return p, recorder, reader
}

func TestTrackOperation_RecordsSpanAndError(t *testing.T) {
	p, recorder, _ := testProvider(t)

	_, finish := p.TrackOperation(context.Background(), "credential.issue", TokenAttrs("tok-1", "user-1")...)
	finish(nil)
	_, finish = p.TrackOperation(context.Background(), "ledger.append")
	finish(errors.New("disk full"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "credential.issue", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), AttrTokenID.String("tok-1"))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestRecordAppend_Counts(t *testing.T) {
	p, _, reader := testProvider(t)
	ctx := context.Background()

	p.RecordAppend(ctx, "issue")
	p.RecordAppend(ctx, "issue")
	p.RecordAppend(ctx, "revoke")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "credledger.ledger.appends" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(3), total)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("kept", "token_id", "tok-1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "credledger", rec["service"])
	assert.Equal(t, "tok-1", rec["token_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()
	require.NotNil(t, SpanFromContext(ctx))
	AddSpanEvent(ctx, "test.event", attribute.String("key", "value"))
	SetSpanStatus(ctx, errors.New("test error"))
	SetSpanStatus(ctx, nil)
}
