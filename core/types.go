// Package core provides the result vocabulary shared by the binder, the
// executor and the engine host.
//
// This package contains:
//   - Status: the outcome of a step or cell check
//   - Result: one recorded outcome, addressed by step id and optional cell key
//   - Counts: per-status tallies for a run
//   - Recorder: the sink results are written to during execution
package core

import "fmt"

// Status identifies the outcome of one executed step or cell check.
type Status string

const (
	StatusPass      Status = "pass"
	StatusFail      Status = "fail"
	StatusException Status = "exception"
	StatusSkipped   Status = "skipped"
)

// String returns the string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// Result is a single outcome produced during a run.
type Result struct {
	StepID  string `json:"step"`             // step the result belongs to
	CellKey string `json:"cell,omitempty"`   // empty for step-level results
	Status  Status `json:"status"`           // outcome
	Detail  string `json:"detail,omitempty"` // expected/actual text or error message
	Stack   string `json:"stack,omitempty"`  // captured stack for exceptions
}

// String renders the result for logs and CLI output.
func (r Result) String() string {
	target := r.StepID
	if r.CellKey != "" {
		target += "." + r.CellKey
	}
	if r.Detail == "" {
		return fmt.Sprintf("%s %s", r.Status, target)
	}
	return fmt.Sprintf("%s %s: %s", r.Status, target, r.Detail)
}

// Counts tallies results by status.
type Counts struct {
	Pass      int `json:"pass"`
	Fail      int `json:"fail"`
	Exception int `json:"exception"`
	Skipped   int `json:"skipped"`
}

// Tally adds one result to the counts.
func (c *Counts) Tally(r Result) {
	switch r.Status {
	case StatusPass:
		c.Pass++
	case StatusFail:
		c.Fail++
	case StatusException:
		c.Exception++
	case StatusSkipped:
		c.Skipped++
	}
}

// Total returns the number of tallied results.
func (c Counts) Total() int {
	return c.Pass + c.Fail + c.Exception + c.Skipped
}

// Succeeded reports whether no failures or exceptions were tallied.
func (c Counts) Succeeded() bool {
	return c.Fail == 0 && c.Exception == 0
}

// Add combines two Counts values.
func (c Counts) Add(other Counts) Counts {
	return Counts{
		Pass:      c.Pass + other.Pass,
		Fail:      c.Fail + other.Fail,
		Exception: c.Exception + other.Exception,
		Skipped:   c.Skipped + other.Skipped,
	}
}

// Recorder receives results as they are produced.
type Recorder interface {
	Record(Result)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(Result)

// Record calls f(r).
func (f RecorderFunc) Record(r Result) {
	f(r)
}

// Ensure interface compliance at compile time.
var _ Recorder = RecorderFunc(nil)
