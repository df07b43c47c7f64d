package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/petal-labs/storyline/core"
)

// Executor walks a plan. Use one executor per run.
type Executor struct {
	ctx     Context
	emit    EventEmitter
	now     func() time.Time
	stopped bool // a line was skipped because the context said stop
}

// NewExecutor creates an executor over ctx. emit may be nil.
func NewExecutor(ctx Context, emit EventEmitter) *Executor {
	if emit == nil {
		emit = func(Event) {}
	}
	return &Executor{ctx: ctx, emit: emit, now: time.Now}
}

// Execute visits n according to its kind.
func (e *Executor) Execute(n Node) {
	switch n.Kind {
	case NodeLine:
		e.Line(n)
	case NodeComposite:
		e.Composite(n)
	}
}

// Line runs a line node unless the run can no longer continue. Any panic
// escaping the line becomes an exception result.
func (e *Executor) Line(n Node) {
	if !e.ctx.CanContinue() {
		e.stopped = true
		return
	}

	start := e.now()
	e.emit(NewEvent(EventStepStarted, "").WithStep(n.StepID, n.StepKind))

	scope := &lineScope{inner: e.ctx}
	func() {
		defer func() {
			if r := recover(); r != nil {
				scope.Record(core.Result{
					StepID: n.StepID,
					Status: core.StatusException,
					Detail: fmt.Sprint(r),
					Stack:  string(debug.Stack()),
				})
			}
		}()
		if n.Line == nil {
			scope.Record(core.Result{StepID: n.StepID, Status: core.StatusException, Detail: "line has no action"})
			return
		}
		n.Line(scope)
	}()

	e.emit(NewEvent(EventStepFinished, "").
		WithStep(n.StepID, n.StepKind).
		WithElapsed(e.now().Sub(start)).
		WithPayload("status", worst(scope.results)).
		WithPayload("results", len(scope.results)))
}

// Composite visits children in order and stops at the first child the
// context no longer allows.
func (e *Executor) Composite(n Node) {
	for _, child := range n.Children {
		if !e.ctx.CanContinue() {
			e.stopped = true
			return
		}
		e.Execute(child)
	}
}

// Stopped reports whether the walk left part of the plan unexecuted. A run
// whose last line trips the policy still visited every line.
func (e *Executor) Stopped() bool { return e.stopped }

// lineScope forwards to the run context and keeps the results of one line
// for the step.finished event.
type lineScope struct {
	inner   Context
	results []core.Result
}

func (s *lineScope) Record(r core.Result) {
	s.results = append(s.results, r)
	s.inner.Record(r)
}

func (s *lineScope) CanContinue() bool { return s.inner.CanContinue() }

func (s *lineScope) Context() context.Context { return s.inner.Context() }

var _ Context = (*lineScope)(nil)
