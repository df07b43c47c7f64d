package model

import "github.com/google/uuid"

// Cell is a named leaf value on a step. Its value is display text; typed
// conversion happens when the step is bound to an action.
type Cell struct {
	key     string
	value   string
	active  bool
	editing bool
}

// NewCell creates a cell with an initial value.
func NewCell(key, value string) *Cell {
	return &Cell{key: key, value: value}
}

// Key returns the cell key.
func (c *Cell) Key() string { return c.key }

// Value returns the current display text.
func (c *Cell) Value() string { return c.value }

// Active reports whether the cell is the current selection.
func (c *Cell) Active() bool { return c.active }

// Editing reports whether the cell is being edited.
func (c *Cell) Editing() bool { return c.editing }

// Step is a node in a specification tree. A step with children is a
// composite (a section); a step without children is a line.
type Step struct {
	id       string
	kind     string
	cells    []*Cell
	children []*Step
	parent   *Step
	active   bool
}

// NewStep creates a step with a freshly generated id.
func NewStep(kind string, cells ...*Cell) *Step {
	return NewStepWithID(uuid.New().String(), kind, cells...)
}

// NewStepWithID creates a step with a caller-supplied id.
func NewStepWithID(id, kind string, cells ...*Cell) *Step {
	return &Step{id: id, kind: kind, cells: cells}
}

// Append adds children to the step and returns the step for chaining.
func (s *Step) Append(children ...*Step) *Step {
	for _, c := range children {
		c.parent = s
		s.children = append(s.children, c)
	}
	return s
}

// ID returns the stable step id.
func (s *Step) ID() string { return s.id }

// Kind returns the grammar or fixture name the step is bound to.
func (s *Step) Kind() string { return s.kind }

// Cells returns the cells in declaration order.
func (s *Step) Cells() []*Cell { return s.cells }

// Children returns the child steps in order.
func (s *Step) Children() []*Step { return s.children }

// Parent returns the enclosing step, or nil for a top-level step.
func (s *Step) Parent() *Step { return s.parent }

// Active reports whether the step lies on the active selection chain.
func (s *Step) Active() bool { return s.active }

// IsComposite reports whether the step is a section with children.
func (s *Step) IsComposite() bool { return len(s.children) > 0 }

// Cell returns the cell with the given key.
func (s *Step) Cell(key string) (*Cell, bool) {
	for _, c := range s.cells {
		if c.key == key {
			return c, true
		}
	}
	return nil, false
}

// FindValue returns the current value of the named cell.
func (s *Step) FindValue(key string) (string, error) {
	c, ok := s.Cell(key)
	if !ok {
		return "", &NotFoundError{Kind: "cell", ID: key}
	}
	return c.value, nil
}

// Values returns a snapshot of the cell values keyed by cell key.
func (s *Step) Values() map[string]string {
	out := make(map[string]string, len(s.cells))
	for _, c := range s.cells {
		out[c.key] = c.value
	}
	return out
}

// setValue replaces a cell value and returns the previous one. It is only
// called while applying or reverting a change.
func (s *Step) setValue(key, value string) (string, error) {
	c, ok := s.Cell(key)
	if !ok {
		return "", &NotFoundError{Kind: "cell", ID: key}
	}
	prior := c.value
	c.value = value
	return prior, nil
}

func (s *Step) data() StepData {
	out := StepData{ID: s.id, Kind: s.kind}
	for _, c := range s.cells {
		out.Cells = append(out.Cells, CellData{Key: c.key, Value: c.value})
	}
	for _, child := range s.children {
		out.Steps = append(out.Steps, child.data())
	}
	return out
}

func stepFromData(d StepData) *Step {
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	s := NewStepWithID(id, d.Kind)
	for _, c := range d.Cells {
		s.cells = append(s.cells, NewCell(c.Key, c.Value))
	}
	for _, child := range d.Steps {
		s.Append(stepFromData(child))
	}
	return s
}
