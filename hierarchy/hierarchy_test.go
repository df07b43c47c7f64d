package hierarchy

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/petal-labs/storyline/model"
)

func specData(id, title string) model.SpecData {
	return model.SpecData{
		ID:    id,
		Title: title,
		Steps: []model.StepData{{ID: "s1", Kind: "Add", Cells: []model.CellData{{Key: "x", Value: "5"}}}},
	}
}

func TestHierarchy_FindReturnsSameSpec(t *testing.T) {
	h := New(nil)
	h.Store("spec1", specData("spec1", "first"))

	a := h.Find("spec1")
	b := h.Find("spec1")
	if a == nil {
		t.Fatal("Find() = nil")
	}
	if a != b {
		t.Error("Find() should return the same object until the id is stored again")
	}

	h.Store("spec1", specData("spec1", "second"))
	c := h.Find("spec1")
	if c == a {
		t.Error("Store() should replace the cached specification")
	}
	if c.Title() != "second" {
		t.Errorf("Title() = %q", c.Title())
	}
}

func TestHierarchy_StoreCopiesData(t *testing.T) {
	h := New(nil)
	d := specData("", "t")
	h.Store("spec1", d)
	d.Steps[0].Cells[0].Value = "changed"

	got, ok := h.Data("spec1")
	if !ok {
		t.Fatal("Data() missing")
	}
	if got.ID != "spec1" {
		t.Errorf("ID = %q, want the store key", got.ID)
	}
	if got.Steps[0].Cells[0].Value != "5" {
		t.Error("stored data should not alias the caller's slices")
	}
}

func TestHierarchy_Missing(t *testing.T) {
	h := New(nil)
	if h.Find("nope") != nil {
		t.Error("Find() of unknown id should be nil")
	}
	_, err := h.Lookup("nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Lookup() error = %v, want ErrNotFound", err)
	}
	if _, ok := h.Data("nope"); ok {
		t.Error("Data() of unknown id should report false")
	}
}

func TestHierarchy_InvalidDataLogged(t *testing.T) {
	var buf bytes.Buffer
	h := New(slog.New(slog.NewTextHandler(&buf, nil)))
	bad := specData("spec1", "")
	bad.Steps = append(bad.Steps, bad.Steps[0])
	h.Store("spec1", bad)

	if h.Find("spec1") != nil {
		t.Error("Find() of invalid data should be nil")
	}
	if _, err := h.Lookup("spec1"); !errors.Is(err, model.ErrInvalidData) {
		t.Errorf("Lookup() error = %v", err)
	}
	if !strings.Contains(buf.String(), "cached specification is invalid") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestHierarchy_IDsAndReset(t *testing.T) {
	h := New(nil)
	h.Store("b", specData("b", ""))
	h.Store("a", specData("a", ""))
	if got := strings.Join(h.IDs(), ","); got != "a,b" {
		t.Errorf("IDs() = %s", got)
	}
	h.Reset()
	if len(h.IDs()) != 0 || h.Find("a") != nil {
		t.Error("Reset() should drop every entry")
	}
}
