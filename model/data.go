package model

import (
	"encoding/json"
	"fmt"
)

// Mode says how much of a specification has been loaded.
type Mode string

const (
	// ModeHeader carries metadata only; no step tree is present.
	ModeHeader Mode = "header"
	// ModeFull carries the complete step tree.
	ModeFull Mode = "full"
)

// SpecData is the persisted and serialized shape of a specification.
type SpecData struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title,omitempty" yaml:"title,omitempty"`
	Path       string     `json:"path,omitempty" yaml:"path,omitempty"`
	Mode       Mode       `json:"mode,omitempty" yaml:"mode,omitempty"`
	MaxRetries *int       `json:"max-retries,omitempty" yaml:"max-retries,omitempty"`
	Revision   string     `json:"revision,omitempty" yaml:"revision,omitempty"`
	Steps      []StepData `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// StepData is the serialized shape of one step.
type StepData struct {
	ID    string     `json:"id,omitempty" yaml:"id,omitempty"`
	Kind  string     `json:"kind" yaml:"kind"`
	Cells []CellData `json:"cells,omitempty" yaml:"cells,omitempty"`
	Steps []StepData `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// CellData is the serialized shape of one cell.
type CellData struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// UnmarshalJSON accepts any scalar for the value so that hand-written
// files may use bare numbers and booleans.
func (c *CellData) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Key = raw.Key
	switch v := raw.Value.(type) {
	case nil:
		c.Value = ""
	case string:
		c.Value = v
	case float64, bool:
		c.Value = fmt.Sprint(v)
	default:
		return fmt.Errorf("%w: cell %q has non-scalar value", ErrInvalidData, raw.Key)
	}
	return nil
}

// IsHeader reports whether the data carries metadata only.
func (d SpecData) IsHeader() bool {
	return d.Mode == ModeHeader
}

// Clone returns a deep copy of the data.
func (d SpecData) Clone() SpecData {
	out := d
	if d.MaxRetries != nil {
		n := *d.MaxRetries
		out.MaxRetries = &n
	}
	out.Steps = cloneSteps(d.Steps)
	return out
}

func cloneSteps(in []StepData) []StepData {
	if in == nil {
		return nil
	}
	out := make([]StepData, len(in))
	for i, s := range in {
		out[i] = StepData{
			ID:    s.ID,
			Kind:  s.Kind,
			Cells: append([]CellData(nil), s.Cells...),
			Steps: cloneSteps(s.Steps),
		}
	}
	return out
}
