package model

// Change is an undoable edit of a specification.
type Change interface {
	Apply(*Specification) error
	Revert(*Specification) error
	// StepID is the step the change addresses.
	StepID() string
}

// CellValueChange sets one cell to a new value. The prior value is
// captured on every apply so Revert restores it exactly.
type CellValueChange struct {
	Step  string `json:"step"`
	Cell  string `json:"cell"`
	Value string `json:"value"`

	prior string
}

// NewCellValueChange creates a change setting step.cell to value.
func NewCellValueChange(step, cell, value string) *CellValueChange {
	return &CellValueChange{Step: step, Cell: cell, Value: value}
}

// StepID implements Change.
func (c *CellValueChange) StepID() string { return c.Step }

// Apply implements Change.
func (c *CellValueChange) Apply(s *Specification) error {
	st, err := s.FindStep(c.Step)
	if err != nil {
		return err
	}
	prior, err := st.setValue(c.Cell, c.Value)
	if err != nil {
		return err
	}
	c.prior = prior
	return nil
}

// Revert implements Change.
func (c *CellValueChange) Revert(s *Specification) error {
	st, err := s.FindStep(c.Step)
	if err != nil {
		return err
	}
	_, err = st.setValue(c.Cell, c.prior)
	return err
}

// Ensure interface compliance at compile time.
var _ Change = (*CellValueChange)(nil)
