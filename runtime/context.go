package runtime

import (
	"context"
	"sync"

	"github.com/petal-labs/storyline/core"
)

// Context is the per-run execution context seen by the executor. It gates
// continuation and receives results.
type Context interface {
	core.Recorder

	// CanContinue reports whether the run may execute another step.
	CanContinue() bool

	// Context returns the Go context passed to actions.
	Context() context.Context
}

// Policy controls when a run stops early.
type Policy struct {
	// StopOnFailure stops the run after the first fail result.
	StopOnFailure bool

	// StopOnException stops the run after the first exception result.
	StopOnException bool
}

// SpecContext is the default Context. It stops when its Go context is
// done, when Abort is called, or when the policy says so.
type SpecContext struct {
	ctx    context.Context
	policy Policy

	mu      sync.Mutex
	results []core.Result
	counts  core.Counts
	aborted string
}

// NewSpecContext creates an execution context for one run.
func NewSpecContext(ctx context.Context, policy Policy) *SpecContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SpecContext{ctx: ctx, policy: policy}
}

// Context returns the Go context for action invocations.
func (c *SpecContext) Context() context.Context {
	return c.ctx
}

// CanContinue implements Context.
func (c *SpecContext) CanContinue() bool {
	if c.ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.aborted != "":
		return false
	case c.policy.StopOnFailure && c.counts.Fail > 0:
		return false
	case c.policy.StopOnException && c.counts.Exception > 0:
		return false
	}
	return true
}

// Record implements core.Recorder.
func (c *SpecContext) Record(r core.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	c.counts.Tally(r)
}

// Abort stops the run before the next step. The first reason wins.
func (c *SpecContext) Abort(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted == "" {
		c.aborted = reason
	}
}

// AbortReason returns the reason given to Abort, if any.
func (c *SpecContext) AbortReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Results returns a copy of the recorded results.
func (c *SpecContext) Results() []core.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Result(nil), c.results...)
}

// Counts returns the per-status tallies.
func (c *SpecContext) Counts() core.Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts
}

// emitterKey is an unexported type used as the context key for EventEmitter.
type emitterKey struct{}

// ContextWithEmitter attaches an event emitter to the context so fixture
// code can report progress events.
func ContextWithEmitter(ctx context.Context, emit EventEmitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

// EmitterFromContext retrieves the event emitter from the context.
// Returns a no-op emitter if none is set.
func EmitterFromContext(ctx context.Context) EventEmitter {
	if emit, ok := ctx.Value(emitterKey{}).(EventEmitter); ok {
		return emit
	}
	return func(Event) {}
}

var _ Context = (*SpecContext)(nil)
