// Package runtime executes specifications against a grammar library.
package runtime

import (
	"time"

	"github.com/petal-labs/storyline/core"
)

// EventKind names a point in the life of a run.
type EventKind string

const (
	EventRunStarted   EventKind = "run.started"
	EventStepStarted  EventKind = "step.started"  // before a line step is invoked
	EventStepFinished EventKind = "step.finished" // after its results are recorded
	EventRunFinished  EventKind = "run.finished"  // also sent for cancelled runs
)

// Event is emitted by Run and the executor as a specification is worked
// through. Run, Spec and Seq are filled in by Run before any handler sees
// the event; step fields are empty on run.* events.
type Event struct {
	Kind     EventKind      `json:"kind"`
	RunID    string         `json:"run_id"`
	SpecID   string         `json:"spec_id"`
	StepID   string         `json:"step_id,omitempty"`
	StepKind string         `json:"step_kind,omitempty"`
	Seq      uint64         `json:"seq"`
	Time     time.Time      `json:"time"`
	Elapsed  time.Duration  `json:"elapsed,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`

	// Hex encoded, set only when tracing is installed.
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// NewEvent returns an event of kind stamped with the wall clock.
func NewEvent(kind EventKind, runID string) Event {
	return Event{Kind: kind, RunID: runID, Time: time.Now(), Payload: map[string]any{}}
}

func (e Event) WithStep(stepID, stepKind string) Event {
	e.StepID, e.StepKind = stepID, stepKind
	return e
}

func (e Event) WithElapsed(d time.Duration) Event {
	e.Elapsed = d
	return e
}

// WithPayload returns a copy of e carrying key. The payload map is shared
// with e, so build events before handing them out.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	e.Payload[key] = value
	return e
}

// Status is the worst result status of a step.finished event.
func (e Event) Status() core.Status {
	s, _ := e.Payload["status"].(core.Status)
	return s
}

type (
	// EventEmitter sends an event on. Fixtures reach the run's emitter
	// through EmitterFromContext.
	EventEmitter func(Event)

	// EventEmitterDecorator wraps delivery, e.g. to attach trace ids.
	EventEmitterDecorator func(EventEmitter) EventEmitter

	// EventHandler consumes events.
	EventHandler func(Event)
)

// MultiEventHandler fans each event out to handlers in order, skipping
// nil entries.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h == nil {
				continue
			}
			h(e)
		}
	}
}

var statusRank = map[core.Status]int{
	core.StatusSkipped:   1,
	core.StatusPass:      2,
	core.StatusFail:      3,
	core.StatusException: 4,
}

// worst picks exception over fail over pass over skipped.
func worst(results []core.Result) core.Status {
	var out core.Status
	for _, r := range results {
		if statusRank[r.Status] > statusRank[out] {
			out = r.Status
		}
	}
	return out
}
