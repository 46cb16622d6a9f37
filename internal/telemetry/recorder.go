package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/BaSui01/agentgraph"

// Recorder exports run and node outcomes as OpenTelemetry instruments.
// It satisfies workflow.MetricsRecorder.
type Recorder struct {
	runs         metric.Int64Counter
	runDuration  metric.Float64Histogram
	nodes        metric.Int64Counter
	nodeDuration metric.Float64Histogram
	attempts     metric.Int64Histogram
	retries      metric.Int64Counter
}

// NewRecorder creates the instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	if r.runs, err = meter.Int64Counter("agentgraph.runs",
		metric.WithDescription("Completed graph runs by final state")); err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	if r.runDuration, err = meter.Float64Histogram("agentgraph.run.duration",
		metric.WithDescription("Graph run wall time"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create run duration histogram: %w", err)
	}
	if r.nodes, err = meter.Int64Counter("agentgraph.nodes",
		metric.WithDescription("Node outcomes by status")); err != nil {
		return nil, fmt.Errorf("create nodes counter: %w", err)
	}
	if r.nodeDuration, err = meter.Float64Histogram("agentgraph.node.duration",
		metric.WithDescription("Node time from first dispatch to terminal state"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create node duration histogram: %w", err)
	}
	if r.attempts, err = meter.Int64Histogram("agentgraph.node.attempts",
		metric.WithDescription("Agent invocations per node")); err != nil {
		return nil, fmt.Errorf("create attempts histogram: %w", err)
	}
	if r.retries, err = meter.Int64Counter("agentgraph.retries",
		metric.WithDescription("Scheduled node retries")); err != nil {
		return nil, fmt.Errorf("create retries counter: %w", err)
	}
	return r, nil
}

// RecordRun records one finished run.
func (r *Recorder) RecordRun(graph, state string, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("graph", graph),
		attribute.String("state", state),
	)
	r.runs.Add(ctx, 1, attrs)
	r.runDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordNode records the terminal outcome of one node.
func (r *Recorder) RecordNode(graph, node, status string, attempts int, duration time.Duration, cacheHit bool) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("graph", graph),
		attribute.String("node", node),
		attribute.String("status", status),
		attribute.Bool("cache_hit", cacheHit),
	)
	r.nodes.Add(ctx, 1, attrs)
	r.nodeDuration.Record(ctx, duration.Seconds(), attrs)
	r.attempts.Record(ctx, int64(attempts), attrs)
}

// RecordRetry records a scheduled retry.
func (r *Recorder) RecordRetry(graph, node string) {
	r.retries.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("graph", graph),
		attribute.String("node", node),
	))
}
