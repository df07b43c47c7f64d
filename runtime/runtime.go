package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/storyline/core"
	"github.com/petal-labs/storyline/grammar"
	"github.com/petal-labs/storyline/model"
)

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

// Options controls execution behavior.
type Options struct {
	// Policy decides when the run stops early.
	Policy Policy

	// RunID overrides the generated run id.
	RunID string

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the delivery to EventHandler. Decorators
	// see events after run id, spec id and sequence are stamped.
	EventEmitterDecorator EventEmitterDecorator

	// Context overrides the execution context. When nil a SpecContext is
	// built from the Go context and Policy.
	Context Context
}

// Report is the outcome of one run.
type Report struct {
	RunID    string        `json:"run_id"`
	SpecID   string        `json:"spec_id"`
	Revision string        `json:"revision,omitempty"`
	Status   RunStatus     `json:"status"`
	Results  []core.Result `json:"results"`
	Counts   core.Counts   `json:"counts"`
	Problems []Problem     `json:"problems,omitempty"`
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Succeeded reports whether the run completed without fail or exception
// results.
func (r *Report) Succeeded() bool {
	return r.Status == RunCompleted && r.Counts.Succeeded()
}

// Run compiles spec against lib and executes it. Results are recorded in
// order; a run that stops early reports RunCancelled.
func Run(ctx context.Context, spec *model.Specification, lib *grammar.Library, opts Options) (*Report, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	root, problems, err := Compile(spec, lib)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	deliver := EventEmitter(func(e Event) {
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	})
	if opts.EventEmitterDecorator != nil {
		deliver = opts.EventEmitterDecorator(deliver)
	}
	var seq uint64
	emit := func(e Event) {
		seq++
		e.RunID, e.SpecID, e.Seq = runID, spec.ID(), seq
		deliver(e)
	}

	ctx = ContextWithEmitter(ctx, emit)
	var (
		execCtx Context
		results func() []core.Result
	)
	if opts.Context != nil {
		collected := &collector{inner: opts.Context}
		execCtx = collected
		results = func() []core.Result { return collected.results }
	} else {
		sc := NewSpecContext(ctx, opts.Policy)
		execCtx = sc
		results = sc.Results
	}

	started := opts.Now()
	emit(NewEvent(EventRunStarted, runID).
		WithPayload("revision", spec.Revision()).
		WithPayload("steps", countLines(root)))

	exec := NewExecutor(execCtx, emit)
	exec.Execute(root)

	report := &Report{
		RunID:    runID,
		SpecID:   spec.ID(),
		Revision: spec.Revision(),
		Status:   RunCompleted,
		Results:  results(),
		Problems: problems,
		Started:  started,
		Elapsed:  opts.Now().Sub(started),
	}
	if exec.Stopped() {
		report.Status = RunCancelled
	}
	for _, r := range report.Results {
		report.Counts.Tally(r)
	}

	emit(NewEvent(EventRunFinished, runID).
		WithElapsed(report.Elapsed).
		WithPayload("status", report.Status).
		WithPayload("counts", report.Counts))

	return report, nil
}

func countLines(n Node) int {
	if n.Kind == NodeLine {
		return 1
	}
	total := 0
	for _, c := range n.Children {
		total += countLines(c)
	}
	return total
}

// collector records results passed through a caller-supplied context.
type collector struct {
	inner   Context
	results []core.Result
}

func (c *collector) Record(r core.Result) {
	c.results = append(c.results, r)
	c.inner.Record(r)
}

func (c *collector) CanContinue() bool { return c.inner.CanContinue() }

func (c *collector) Context() context.Context { return c.inner.Context() }

var _ Context = (*collector)(nil)
