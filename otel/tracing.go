// Package otel provides OpenTelemetry integration for specification runs.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/storyline/core"
	"github.com/petal-labs/storyline/runtime"
)

// TracingHandler turns run events into spans. Each run gets a root span
// named after its specification and each line step a child span.
type TracingHandler struct {
	tracer trace.Tracer

	mu   sync.RWMutex
	runs map[string]*runSpans
}

type runSpans struct {
	ctx   context.Context
	root  trace.Span // nil for steps seen without a run.started
	steps map[string]trace.Span
}

func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{tracer: tracer, runs: map[string]*runSpans{}}
}

// Handle is a runtime.EventHandler.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.startRun(e)
	case runtime.EventStepStarted:
		h.startStep(e)
	case runtime.EventStepFinished:
		h.endStep(e)
	case runtime.EventRunFinished:
		h.endRun(e)
	}
}

func (h *TracingHandler) startRun(e runtime.Event) {
	label := e.SpecID
	if label == "" {
		label = e.RunID
	}
	attrs := []attribute.KeyValue{
		attribute.String("storyline.run_id", e.RunID),
		attribute.String("storyline.spec_id", e.SpecID),
	}
	if rev := payloadString(e.Payload, "revision"); rev != "" {
		attrs = append(attrs, attribute.String("storyline.revision", rev))
	}
	ctx, span := h.tracer.Start(context.Background(), "run:"+label,
		trace.WithAttributes(attrs...), trace.WithTimestamp(e.Time))

	h.mu.Lock()
	h.runs[e.RunID] = &runSpans{ctx: ctx, root: span, steps: map[string]trace.Span{}}
	h.mu.Unlock()
}

func (h *TracingHandler) startStep(e runtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.runs[e.RunID]
	if !ok {
		rs = &runSpans{ctx: context.Background(), steps: map[string]trace.Span{}}
		h.runs[e.RunID] = rs
	}
	_, rs.steps[e.StepID] = h.tracer.Start(rs.ctx, "step:"+e.StepID,
		trace.WithAttributes(
			attribute.String("storyline.run_id", e.RunID),
			attribute.String("storyline.step_id", e.StepID),
			attribute.String("storyline.step_kind", e.StepKind),
		),
		trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) endStep(e runtime.Event) {
	h.mu.Lock()
	var span trace.Span
	if rs, ok := h.runs[e.RunID]; ok {
		span = rs.steps[e.StepID]
		delete(rs.steps, e.StepID)
		if rs.root == nil && len(rs.steps) == 0 {
			delete(h.runs, e.RunID)
		}
	}
	h.mu.Unlock()
	if span == nil {
		return
	}

	status := e.Status()
	span.SetAttributes(
		attribute.String("storyline.status", string(status)),
		attribute.Int64("storyline.elapsed_ms", e.Elapsed.Milliseconds()),
	)
	if status == core.StatusFail || status == core.StatusException {
		span.SetStatus(codes.Error, string(status))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) endRun(e runtime.Event) {
	h.mu.Lock()
	rs, ok := h.runs[e.RunID]
	delete(h.runs, e.RunID)
	h.mu.Unlock()
	if !ok || rs.root == nil {
		return
	}
	// Steps left open by a cancelled run end with it.
	for _, s := range rs.steps {
		s.End(trace.WithTimestamp(e.Time))
	}

	span := rs.root
	span.SetAttributes(
		attribute.String("storyline.status", payloadString(e.Payload, "status")),
		attribute.Int64("storyline.elapsed_ms", e.Elapsed.Milliseconds()),
	)
	counts, _ := e.Payload["counts"].(core.Counts)
	if counts.Total() > 0 {
		span.SetAttributes(
			attribute.Int("storyline.pass", counts.Pass),
			attribute.Int("storyline.fail", counts.Fail),
			attribute.Int("storyline.exception", counts.Exception),
		)
	}
	if counts.Succeeded() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, fmt.Sprintf("%d fail, %d exception", counts.Fail, counts.Exception))
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext is the span context of the open span for stepID, or
// the zero value.
func (h *TracingHandler) ActiveSpanContext(runID, stepID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rs, ok := h.runs[runID]; ok {
		if s, ok := rs.steps[stepID]; ok {
			return s.SpanContext()
		}
	}
	return trace.SpanContext{}
}

// ActiveRunSpanContext is the span context of the open root span of runID,
// or the zero value.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rs, ok := h.runs[runID]; ok && rs.root != nil {
		return rs.root.SpanContext()
	}
	return trace.SpanContext{}
}

// payloadString accepts plain and typed strings (runtime.RunStatus).
func payloadString(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
