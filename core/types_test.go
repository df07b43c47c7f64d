package core

import "testing"

func TestCounts_Tally(t *testing.T) {
	var c Counts
	for _, s := range []Status{StatusPass, StatusPass, StatusFail, StatusException, StatusSkipped} {
		c.Tally(Result{StepID: "s1", Status: s})
	}

	if c.Pass != 2 || c.Fail != 1 || c.Exception != 1 || c.Skipped != 1 {
		t.Fatalf("unexpected counts: %+v", c)
	}
	if c.Total() != 5 {
		t.Errorf("Total() = %d, want 5", c.Total())
	}
	if c.Succeeded() {
		t.Error("Succeeded() = true with failures tallied")
	}
}

func TestCounts_SucceededWithSkips(t *testing.T) {
	c := Counts{Pass: 3, Skipped: 2}
	if !c.Succeeded() {
		t.Error("skipped results should not fail a run")
	}

	sum := c.Add(Counts{Fail: 1})
	if sum.Pass != 3 || sum.Fail != 1 || sum.Skipped != 2 {
		t.Errorf("Add() = %+v", sum)
	}
}

func TestResult_String(t *testing.T) {
	tests := []struct {
		name string
		r    Result
		want string
	}{
		{"step level", Result{StepID: "s1", Status: StatusPass}, "pass s1"},
		{"cell level", Result{StepID: "s1", CellKey: "sum", Status: StatusFail, Detail: "expected 3 but was 4"}, "fail s1.sum: expected 3 but was 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecorderFunc(t *testing.T) {
	var got []Result
	rec := RecorderFunc(func(r Result) { got = append(got, r) })
	rec.Record(Result{StepID: "a", Status: StatusSkipped})

	if len(got) != 1 || got[0].StepID != "a" {
		t.Fatalf("recorded %v", got)
	}
}
