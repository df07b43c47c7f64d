package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/petal-labs/storyline/model"
)

func TestDecode_SpecRef(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
		wantErr bool
	}{
		{name: "value", payload: SpecRef{ID: "spec1"}, want: "spec1"},
		{name: "pointer", payload: &SpecRef{ID: "spec1"}, want: "spec1"},
		{name: "raw json", payload: json.RawMessage(`{"id":"spec1"}`), want: "spec1"},
		{name: "map", payload: map[string]any{"id": "spec1"}, want: "spec1"},
		{name: "nil pointer", payload: (*SpecRef)(nil), wantErr: true},
		{name: "wrong type", payload: 42, wantErr: true},
		{name: "bad json", payload: json.RawMessage(`{`), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[SpecRef](tt.payload)
			if tt.wantErr {
				if !errors.Is(err, ErrBadPayload) {
					t.Fatalf("Decode() error = %v, want ErrBadPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.ID != tt.want {
				t.Errorf("ID = %q, want %q", got.ID, tt.want)
			}
		})
	}
}

func TestDecode_SpecBodySavedFromMap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, err := Decode[SpecBodySaved](map[string]any{
		"id":       "spec1",
		"revision": "r2",
		"time":     now.Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Revision != "r2" || !got.Time.Equal(now) {
		t.Errorf("got %+v", got)
	}
}

func TestDecode_SpecBodyRoundTrip(t *testing.T) {
	body := SpecBody{
		ID:       "spec1",
		Revision: "abc",
		Spec: model.SpecData{
			ID:    "spec1",
			Steps: []model.StepData{{ID: "s1", Kind: "Add", Cells: []model.CellData{{Key: "x", Value: "1"}}}},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode[SpecBody](json.RawMessage(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Spec.Steps[0].Cells[0].Value != "1" || got.Revision != "abc" {
		t.Errorf("got %+v", got)
	}
}

func TestDecodeChange(t *testing.T) {
	direct := model.NewCellValueChange("s1", "x", "11")

	tests := []struct {
		name    string
		payload any
		wantErr bool
	}{
		{name: "change", payload: direct},
		{name: "value", payload: *direct},
		{name: "map", payload: map[string]any{"step": "s1", "cell": "x", "value": 11}},
		{name: "json", payload: json.RawMessage(`{"step":"s1","cell":"x","value":"11"}`)},
		{name: "missing cell", payload: map[string]any{"step": "s1"}, wantErr: true},
		{name: "garbage", payload: 3.5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := DecodeChange(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("DecodeChange() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeChange() error = %v", err)
			}
			cv, ok := c.(*model.CellValueChange)
			if !ok {
				t.Fatalf("change type = %T", c)
			}
			if cv.Step != "s1" || cv.Cell != "x" || cv.Value != "11" {
				t.Errorf("change = %+v", cv)
			}
		})
	}

	if c, _ := DecodeChange(direct); c == model.Change(direct) {
		t.Error("each receiver should get its own copy of a cell value change")
	}
	custom := &renameChange{step: "s1"}
	if c, _ := DecodeChange(custom); c != model.Change(custom) {
		t.Error("other model.Change payloads should pass through unchanged")
	}
}

type renameChange struct{ step string }

func (c *renameChange) Apply(*model.Specification) error  { return nil }
func (c *renameChange) Revert(*model.Specification) error { return nil }
func (c *renameChange) StepID() string                    { return c.step }

func TestUnaddress(t *testing.T) {
	change := model.NewCellValueChange("line1", "x", "2")
	tests := []struct {
		name     string
		payload  any
		wantSpec string
	}{
		{name: "value", payload: Addressed{Spec: "spec1", Payload: change}, wantSpec: "spec1"},
		{name: "pointer", payload: &Addressed{Spec: "spec1", Payload: change}, wantSpec: "spec1"},
		{name: "map", payload: map[string]any{"spec": "spec1", "payload": map[string]any{"step": "line1", "cell": "x", "value": "2"}}, wantSpec: "spec1"},
		{name: "raw json", payload: json.RawMessage(`{"spec":"spec1","payload":{"step":"line1","cell":"x","value":"2"}}`), wantSpec: "spec1"},
		{name: "bare change", payload: change},
		{name: "bare map", payload: map[string]any{"step": "line1", "cell": "x", "value": "2"}},
		{name: "bare json", payload: json.RawMessage(`{"step":"line1","cell":"x","value":"2"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, inner := Unaddress(tt.payload)
			if spec != tt.wantSpec {
				t.Errorf("spec = %q, want %q", spec, tt.wantSpec)
			}
			c, err := DecodeChange(inner)
			if err != nil {
				t.Fatalf("DecodeChange(inner) error = %v", err)
			}
			if c.StepID() != "line1" {
				t.Errorf("StepID = %q", c.StepID())
			}
		})
	}
}
