package presenter

import (
	"sync"
	"time"

	"github.com/petal-labs/storyline/model"
	"github.com/petal-labs/storyline/runtime"
)

// View renders editor state. It only receives snapshots and partial updates.
type View interface {
	// SetState merges patch into the view state.
	SetState(patch Patch)

	// GotoResults navigates to the results display.
	GotoResults()
}

// ViewState is the editor state a View renders.
type ViewState struct {
	Spec            *model.Specification
	Loading         bool
	Persisting      bool
	UpdatingDate    bool
	LastSaved       time.Time
	RetryCount      *int
	UndoEnabled     bool
	RedoEnabled     bool
	ActiveContainer *model.Step
	Results         *runtime.Report
}

// Patch is a partial ViewState; nil fields are left unchanged. A patch
// with Spec set is a refresh snapshot and replaces RetryCount and
// ActiveContainer even when they are nil.
type Patch struct {
	Spec            *model.Specification
	Loading         *bool
	Persisting      *bool
	UpdatingDate    *bool
	LastSaved       *time.Time
	RetryCount      *int
	UndoEnabled     *bool
	RedoEnabled     *bool
	ActiveContainer *model.Step
	Results         *runtime.Report
}

// IsRefresh reports whether the patch is a full refresh snapshot.
func (p Patch) IsRefresh() bool { return p.Spec != nil }

// Apply merges p into s.
func (p Patch) Apply(s *ViewState) {
	if p.Spec != nil {
		s.Spec = p.Spec
		s.RetryCount = p.RetryCount
		s.ActiveContainer = p.ActiveContainer
	} else {
		if p.RetryCount != nil {
			s.RetryCount = p.RetryCount
		}
		if p.ActiveContainer != nil {
			s.ActiveContainer = p.ActiveContainer
		}
	}
	setIf(&s.Loading, p.Loading)
	setIf(&s.Persisting, p.Persisting)
	setIf(&s.UpdatingDate, p.UpdatingDate)
	setIf(&s.LastSaved, p.LastSaved)
	setIf(&s.UndoEnabled, p.UndoEnabled)
	setIf(&s.RedoEnabled, p.RedoEnabled)
	if p.Results != nil {
		s.Results = p.Results
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func ptr[T any](v T) *T { return &v }

// StateView is an in-memory View. It keeps the merged state and every
// patch it received.
type StateView struct {
	mu       sync.Mutex
	state    ViewState
	patches  []Patch
	navigate int
}

// NewStateView creates an empty StateView.
func NewStateView() *StateView {
	return &StateView{}
}

// SetState implements View.
func (v *StateView) SetState(p Patch) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p.Apply(&v.state)
	v.patches = append(v.patches, p)
}

// GotoResults implements View.
func (v *StateView) GotoResults() {
	v.mu.Lock()
	v.navigate++
	v.mu.Unlock()
}

// State returns the merged state.
func (v *StateView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Patches returns the patches received so far.
func (v *StateView) Patches() []Patch {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Patch(nil), v.patches...)
}

// Refreshes counts the refresh snapshots received so far.
func (v *StateView) Refreshes() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, p := range v.patches {
		if p.IsRefresh() {
			n++
		}
	}
	return n
}

// Navigations counts GotoResults calls.
func (v *StateView) Navigations() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.navigate
}

// Compile-time interface check.
var _ View = (*StateView)(nil)
