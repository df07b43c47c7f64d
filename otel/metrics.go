package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/storyline/core"
	"github.com/petal-labs/storyline/runtime"
)

// MetricsHandler translates run events into OpenTelemetry metrics: step
// outcomes by status, step durations and run durations.
type MetricsHandler struct {
	stepResults  metric.Int64Counter
	stepDuration metric.Float64Histogram
	runDuration  metric.Float64Histogram
}

// NewMetricsHandler creates the instruments on meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	results, err := meter.Int64Counter("storyline.step.results",
		metric.WithDescription("Number of executed steps by outcome"),
	)
	if err != nil {
		return nil, err
	}

	stepDur, err := meter.Float64Histogram("storyline.step.duration",
		metric.WithDescription("Duration of step execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("storyline.run.duration",
		metric.WithDescription("Duration of specification run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		stepResults:  results,
		stepDuration: stepDur,
		runDuration:  runDur,
	}, nil
}

// Handle records the metrics for one event. It has runtime.EventHandler
// semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventStepFinished:
		h.handleStepFinished(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *MetricsHandler) handleStepFinished(e runtime.Event) {
	ctx := context.Background()
	status := e.Status()
	if status == "" {
		status = core.StatusSkipped
	}
	h.stepResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("spec_id", e.SpecID),
		attribute.String("step_kind", e.StepKind),
		attribute.String("status", status.String()),
	))
	h.stepDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
		attribute.String("spec_id", e.SpecID),
		attribute.String("step_kind", e.StepKind),
	))
}

func (h *MetricsHandler) handleRunFinished(e runtime.Event) {
	h.runDuration.Record(context.Background(), e.Elapsed.Seconds(), metric.WithAttributes(
		attribute.String("spec_id", e.SpecID),
		attribute.String("status", payloadString(e.Payload, "status")),
	))
}
