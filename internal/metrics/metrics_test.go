package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecorderCountsCalls(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(ctx)

	r, err := NewRecorder(mp)
	require.NoError(t, err)

	r.ObserveCall(ctx, "submit_report", "ok", 2*time.Millisecond)
	r.ObserveCall(ctx, "submit_report", "ok", 3*time.Millisecond)
	r.ObserveCall(ctx, "submit_report", "rate_limited", time.Millisecond)
	r.ObserveReport(ctx, true)

	got := collect(t, reader)

	calls, ok := got["tcm.ledger.calls"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	byOutcome := map[string]int64{}
	for _, dp := range calls.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		byOutcome[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 2, "rate_limited": 1}, byOutcome)

	reports, ok := got["tcm.ledger.reports"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, reports.DataPoints, 1)
	assert.Equal(t, int64(1), reports.DataPoints[0].Value)

	hist, ok := got["tcm.ledger.call.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}

func TestNoopRecorder(t *testing.T) {
	r := Noop()
	require.NotNil(t, r)
	r.ObserveCall(context.Background(), "get_stats", "ok", time.Millisecond)
	r.ObserveReport(context.Background(), false)
}
