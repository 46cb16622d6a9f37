package telemetry

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

func TestRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	rec, err := NewRecorder(mp.Meter(meterName))
	require.NoError(t, err)

	rec.RecordRun("pipeline", "succeeded", 2*time.Second)
	rec.RecordRun("pipeline", "succeeded", time.Second)
	rec.RecordNode("pipeline", "draft", "succeeded", 2, 300*time.Millisecond, false)
	rec.RecordNode("pipeline", "review", "skipped", 0, 0, false)
	rec.RecordRetry("pipeline", "draft")

	got := collect(t, reader)

	runs, ok := got["agentgraph.runs"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(2), runs.DataPoints[0].Value)
	state, _ := runs.DataPoints[0].Attributes.Value(attribute.Key("state"))
	assert.Equal(t, "succeeded", state.AsString())

	nodes, ok := got["agentgraph.nodes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, nodes.DataPoints, 2)

	attempts, ok := got["agentgraph.node.attempts"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range attempts.DataPoints {
		total += dp.Sum
	}
	assert.Equal(t, int64(2), total)

	retries, ok := got["agentgraph.retries"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, retries.DataPoints, 1)
	assert.Equal(t, int64(1), retries.DataPoints[0].Value)

	duration, ok := got["agentgraph.run.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.InDelta(t, 3.0, duration.DataPoints[0].Sum, 0.001)
}
