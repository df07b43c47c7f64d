package otel

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/storyline/runtime"
)

// EnrichEmitter stamps TraceID and SpanID on events before passing them to
// emit. Step events prefer their own open span and fall back to the run's
// root span; events with no open span are left untouched.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		var sc trace.SpanContext
		if e.StepID != "" {
			sc = tracing.ActiveSpanContext(e.RunID, e.StepID)
		}
		if !sc.IsValid() {
			sc = tracing.ActiveRunSpanContext(e.RunID)
		}
		if sc.IsValid() {
			e.TraceID, e.SpanID = sc.TraceID().String(), sc.SpanID().String()
		}
		emit(e)
	}
}

// Decorator returns EnrichEmitter as a runtime.EventEmitterDecorator.
func Decorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(emit runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(emit, tracing)
	}
}
