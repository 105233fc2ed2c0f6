// Package metrics wires the scheduler's dispatch counters into
// OpenTelemetry, the way pkg/server/pipeline.go's initializePipelineMetrics
// wires its own. A nil *Recorder is the default — every method checks for
// it, so the controller runs with no-op metrics until -metrics-addr is set.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder implements sched.Metrics against the global OpenTelemetry
// meter provider.
type Recorder struct {
	steps      metric.Int64Counter
	dropped    metric.Int64Counter
	duplicated metric.Int64Counter
	pending    metric.Int64Gauge
}

// New registers the harness's instruments against the global meter
// provider. Call otel/sdk/metric setup before this if you want the
// counters exported anywhere; with no provider configured the
// instruments are harmless no-ops.
func New() (*Recorder, error) {
	meter := otel.Meter("dstestkit/harness")

	steps, err := meter.Int64Counter(
		"dstest_steps_total",
		metric.WithDescription("Scheduler Step calls, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter(
		"dstest_messages_dropped_total",
		metric.WithDescription("Messages discarded by drop_rate fault injection"),
	)
	if err != nil {
		return nil, err
	}

	duplicated, err := meter.Int64Counter(
		"dstest_messages_duplicated_total",
		metric.WithDescription("Extra copies enqueued by repeat_rate fault injection"),
	)
	if err != nil {
		return nil, err
	}

	pending, err := meter.Int64Gauge(
		"dstest_events_pending",
		metric.WithDescription("Events currently pending in the scheduler's store"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{steps: steps, dropped: dropped, duplicated: duplicated, pending: pending}, nil
}

func (r *Recorder) RecordStep(outcome string) {
	if r == nil {
		return
	}
	r.steps.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *Recorder) RecordDrop() {
	if r == nil {
		return
	}
	r.dropped.Add(context.Background(), 1)
}

func (r *Recorder) RecordDuplicate() {
	if r == nil {
		return
	}
	r.duplicated.Add(context.Background(), 1)
}

// SetPending reports the current store size.
func (r *Recorder) SetPending(n int) {
	if r == nil {
		return
	}
	r.pending.Record(context.Background(), int64(n))
}
