package model

// CellRef addresses one cell of one step.
type CellRef struct {
	Step string `json:"step"`
	Cell string `json:"cell"`
}

// SelectCell makes the referenced cell the only active and editing cell,
// activates its step and every enclosing step, and deactivates the root.
// It returns the active container: the section enclosing the step, or the
// step itself when it is top-level.
func (s *Specification) SelectCell(ref CellRef) (*Step, error) {
	st, err := s.FindStep(ref.Step)
	if err != nil {
		return nil, err
	}
	cell, ok := st.Cell(ref.Cell)
	if !ok {
		return nil, &NotFoundError{Kind: "cell", ID: ref.Cell}
	}

	s.clearSelection()
	cell.active = true
	cell.editing = true
	for p := st; p != nil; p = p.parent {
		p.active = true
	}
	s.active = false
	s.selectedCell = cell
	s.selectedStep = st
	return containerOf(st), nil
}

// SelectSpecification clears any cell selection and makes the root active.
func (s *Specification) SelectSpecification() {
	s.clearSelection()
	s.active = true
}

// SelectedCell returns the active cell and its step, if any.
func (s *Specification) SelectedCell() (*Step, *Cell) {
	return s.selectedStep, s.selectedCell
}

// ActiveContainer returns the section holding the current selection, or
// nil when the root is selected.
func (s *Specification) ActiveContainer() *Step {
	if s.selectedStep == nil {
		return nil
	}
	return containerOf(s.selectedStep)
}

func (s *Specification) clearSelection() {
	if s.selectedCell != nil {
		s.selectedCell.active = false
		s.selectedCell.editing = false
	}
	for p := s.selectedStep; p != nil; p = p.parent {
		p.active = false
	}
	s.selectedCell = nil
	s.selectedStep = nil
}

func containerOf(st *Step) *Step {
	if st.parent != nil {
		return st.parent
	}
	return st
}
