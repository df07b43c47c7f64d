// Package model holds the editable specification tree and its change log.
//
// A Specification owns a tree of Steps, each carrying ordered Cells. Cell
// content only changes through Change commands applied with ApplyChange,
// which keeps a linear undo/redo history and a dirty baseline that moves
// with each successful save.
package model

import (
	"errors"
	"fmt"
)

// ChangeStatus reports the split of the change log.
type ChangeStatus struct {
	Applied   int `json:"applied"`
	Unapplied int `json:"unapplied"`
}

// Specification is the aggregate root for one unit of test content.
type Specification struct {
	id         string
	title      string
	path       string
	mode       Mode
	maxRetries *int
	steps      []*Step
	index      map[string]*Step

	changes  []Change
	applied  int
	baseline int // applied count at the last save; -1 when unreachable
	revision string

	active       bool
	selectedCell *Cell
	selectedStep *Step

	listeners    map[int]func(Change)
	nextListener int
}

// New builds a full specification from an in-memory step graph.
func New(id string, steps ...*Step) (*Specification, error) {
	s := &Specification{
		id:     id,
		mode:   ModeFull,
		steps:  steps,
		active: true,
	}
	if err := s.reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromData builds a specification from persisted data. The data is copied;
// later changes to it do not affect the specification.
func FromData(d SpecData) (*Specification, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidData)
	}
	s := &Specification{
		id:       d.ID,
		title:    d.Title,
		path:     d.Path,
		mode:     d.Mode,
		revision: d.Revision,
		active:   true,
	}
	if s.mode == "" {
		s.mode = ModeFull
	}
	if d.MaxRetries != nil {
		n := *d.MaxRetries
		s.maxRetries = &n
	}
	if s.mode == ModeFull {
		for _, sd := range d.Steps {
			s.steps = append(s.steps, stepFromData(sd))
		}
	}
	if err := s.reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Specification) reindex() error {
	s.index = make(map[string]*Step)
	var walk func(steps []*Step) error
	walk = func(steps []*Step) error {
		for _, st := range steps {
			if _, dup := s.index[st.id]; dup {
				return fmt.Errorf("%w: duplicate step id %q", ErrInvalidData, st.id)
			}
			seen := make(map[string]struct{}, len(st.cells))
			for _, c := range st.cells {
				if _, dup := seen[c.key]; dup {
					return fmt.Errorf("%w: step %q has duplicate cell %q", ErrInvalidData, st.id, c.key)
				}
				seen[c.key] = struct{}{}
			}
			s.index[st.id] = st
			if err := walk(st.children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(s.steps)
}

// ID returns the specification id.
func (s *Specification) ID() string { return s.id }

// Title returns the display title.
func (s *Specification) Title() string { return s.title }

// Path returns the location the specification was loaded from.
func (s *Specification) Path() string { return s.path }

// Mode reports whether the step tree is loaded.
func (s *Specification) Mode() Mode { return s.mode }

// Steps returns the top-level steps.
func (s *Specification) Steps() []*Step { return s.steps }

// MaxRetries returns the configured retry count, or nil when absent.
func (s *Specification) MaxRetries() *int { return s.maxRetries }

// Active reports whether the specification root is the current selection.
func (s *Specification) Active() bool { return s.active }

// Revision returns the opaque revision token of the last load or save.
func (s *Specification) Revision() string { return s.revision }

// FindStep returns the step with the given id.
func (s *Specification) FindStep(id string) (*Step, error) {
	st, ok := s.index[id]
	if !ok {
		return nil, &NotFoundError{Kind: "step", ID: id}
	}
	return st, nil
}

// PathTo returns the ancestor chain of a step, outermost first, ending with
// the step itself.
func (s *Specification) PathTo(id string) ([]*Step, error) {
	st, err := s.FindStep(id)
	if err != nil {
		return nil, err
	}
	var chain []*Step
	for p := st; p != nil; p = p.parent {
		chain = append([]*Step{p}, chain...)
	}
	return chain, nil
}

// OnEdited registers fn to be called after every applied change. The
// returned func removes the registration.
func (s *Specification) OnEdited(fn func(Change)) (remove func()) {
	if s.listeners == nil {
		s.listeners = make(map[int]func(Change))
	}
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() { delete(s.listeners, id) }
}

// ApplyChange applies c, drops any redo history and appends c to the log.
// A change that fails to apply leaves the log untouched.
func (s *Specification) ApplyChange(c Change) error {
	if c == nil {
		return errors.New("model: nil change")
	}
	if err := c.Apply(s); err != nil {
		return err
	}
	if s.baseline > s.applied {
		s.baseline = -1
	}
	s.changes = append(s.changes[:s.applied], c)
	s.applied++
	for _, fn := range s.listeners {
		fn(c)
	}
	return nil
}

// Undo reverts the most recently applied change.
func (s *Specification) Undo() error {
	if s.applied == 0 {
		return &NoOpError{Op: "undo"}
	}
	if err := s.changes[s.applied-1].Revert(s); err != nil {
		return err
	}
	s.applied--
	return nil
}

// Redo reapplies the oldest unapplied change.
func (s *Specification) Redo() error {
	if s.applied == len(s.changes) {
		return &NoOpError{Op: "redo"}
	}
	if err := s.changes[s.applied].Apply(s); err != nil {
		return err
	}
	s.applied++
	return nil
}

// ChangeStatus returns the applied/unapplied split of the change log.
func (s *Specification) ChangeStatus() ChangeStatus {
	return ChangeStatus{Applied: s.applied, Unapplied: len(s.changes) - s.applied}
}

// CanUndo reports whether an applied change exists.
func (s *Specification) CanUndo() bool { return s.applied > 0 }

// CanRedo reports whether an unapplied change exists.
func (s *Specification) CanRedo() bool { return s.applied < len(s.changes) }

// IsDirty reports whether the content differs from the last baseline.
func (s *Specification) IsDirty() bool { return s.applied != s.baseline }

// BaselineAt marks the current state as saved under revision. The change
// log is kept so undo still works across the save.
func (s *Specification) BaselineAt(revision string) {
	s.baseline = s.applied
	s.revision = revision
}

// Write returns the persisted form of the current tree.
func (s *Specification) Write() SpecData {
	out := SpecData{
		ID:       s.id,
		Title:    s.title,
		Path:     s.path,
		Mode:     s.mode,
		Revision: s.revision,
	}
	if s.maxRetries != nil {
		n := *s.maxRetries
		out.MaxRetries = &n
	}
	for _, st := range s.steps {
		out.Steps = append(out.Steps, st.data())
	}
	return out
}
