package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/petal-labs/storyline/core"
	"github.com/petal-labs/storyline/grammar"
	"github.com/petal-labs/storyline/model"
)

// gate is a Context whose continuation is controlled by the test.
type gate struct {
	open    bool
	results []core.Result
}

func (g *gate) CanContinue() bool { return g.open }
func (g *gate) Record(r core.Result) { g.results = append(g.results, r) }
func (g *gate) Context() context.Context { return context.Background() }

func TestExecutor_LineSkippedWhenClosed(t *testing.T) {
	g := &gate{open: false}
	called := false
	var events []Event

	NewExecutor(g, func(e Event) { events = append(events, e) }).
		Execute(LineNode("l1", "Set", func(Context) { called = true }))

	if called {
		t.Error("line ran after the context closed")
	}
	if len(g.results) != 0 || len(events) != 0 {
		t.Errorf("skipped line had side effects: results=%v events=%v", g.results, events)
	}
}

func TestExecutor_LinePanicBecomesException(t *testing.T) {
	g := &gate{open: true}
	ran := false
	root := CompositeNode("root", "",
		LineNode("boom", "Explode", func(Context) { panic("fixture blew up") }),
		LineNode("next", "Set", func(ctx Context) {
			ran = true
			ctx.Record(core.Result{StepID: "next", Status: core.StatusPass})
		}),
	)

	NewExecutor(g, nil).Execute(root)

	if len(g.results) != 2 {
		t.Fatalf("results = %v", g.results)
	}
	if r := g.results[0]; r.Status != core.StatusException || r.StepID != "boom" || r.Stack == "" {
		t.Errorf("panic result = %+v", r)
	}
	if !ran {
		t.Error("sibling after a faulting line should still run")
	}
}

func TestExecutor_CompositeStopsIteration(t *testing.T) {
	g := &gate{open: true}
	var visited []string
	line := func(id string, closeAfter bool) Node {
		return LineNode(id, "Step", func(ctx Context) {
			visited = append(visited, id)
			if closeAfter {
				g.open = false
			}
		})
	}
	root := CompositeNode("root", "",
		CompositeNode("section", "",
			line("a", false),
			line("b", true),
			line("c", false),
		),
		line("d", false),
	)

	exec := NewExecutor(g, nil)
	exec.Execute(root)

	if got := strings.Join(visited, ","); got != "a,b" {
		t.Errorf("visited %q, want a,b", got)
	}
	if !exec.Stopped() {
		t.Error("Stopped() = false after lines were left unvisited")
	}
	if len(g.results) != 0 {
		t.Errorf("cancelled remainder produced results: %v", g.results)
	}
}

func TestExecutor_Events(t *testing.T) {
	g := &gate{open: true}
	var events []Event
	NewExecutor(g, func(e Event) { events = append(events, e) }).Execute(
		LineNode("l1", "Check", func(ctx Context) {
			ctx.Record(core.Result{StepID: "l1", CellKey: "a", Status: core.StatusPass})
			ctx.Record(core.Result{StepID: "l1", CellKey: "b", Status: core.StatusFail})
		}),
	)

	if len(events) != 2 || events[0].Kind != EventStepStarted || events[1].Kind != EventStepFinished {
		t.Fatalf("events = %v", events)
	}
	if events[1].Status() != core.StatusFail {
		t.Errorf("finished status = %q, want fail", events[1].Status())
	}
	if events[1].Payload["results"] != 2 {
		t.Errorf("finished results = %v", events[1].Payload["results"])
	}
}

type calc struct{}

func (calc) Add(x, y int) int { return x + y }

func (calc) Divide(x, y int) (int, error) {
	if y == 0 {
		return 0, errors.New("division by zero")
	}
	return x / y, nil
}

func mathLibrary() *grammar.Library {
	lib := grammar.NewLibrary()
	lib.Add(grammar.NewFixture("Math",
		grammar.MustMethod(calc{}, "Add", "x", "y", "sum"),
		grammar.MustMethod(calc{}, "Divide", "x", "y", "quotient"),
	))
	return lib
}

func mathSpec(t *testing.T, lines ...*model.Step) *model.Specification {
	t.Helper()
	spec, err := model.New("spec1", model.NewStepWithID("section", "Math").Append(lines...))
	if err != nil {
		t.Fatal(err)
	}
	return spec
}

func add(id, x, y, sum string) *model.Step {
	return model.NewStepWithID(id, "Add", model.NewCell("x", x), model.NewCell("y", y), model.NewCell("sum", sum))
}

func TestRun_RecordsResultsInOrder(t *testing.T) {
	spec := mathSpec(t,
		add("l1", "1", "2", "3"),
		add("l2", "1", "2", "4"),
		model.NewStepWithID("l3", "Divide", model.NewCell("x", "1"), model.NewCell("y", "0"), model.NewCell("quotient", "")),
		add("l4", "x", "2", "3"),
		add("l5", "2", "2", ""),
	)

	var events []Event
	report, err := Run(context.Background(), spec, mathLibrary(), Options{
		EventHandler: func(e Event) { events = append(events, e) },
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []struct {
		step   string
		status core.Status
	}{
		{"l1", core.StatusPass},
		{"l2", core.StatusFail},
		{"l3", core.StatusException},
		{"l4", core.StatusFail},
		{"l5", core.StatusSkipped},
	}
	if len(report.Results) != len(want) {
		t.Fatalf("results = %v", report.Results)
	}
	for i, w := range want {
		if r := report.Results[i]; r.StepID != w.step || r.Status != w.status {
			t.Errorf("result %d = %+v, want %s %s", i, r, w.step, w.status)
		}
	}
	if report.Status != RunCompleted {
		t.Errorf("Status = %q, want completed", report.Status)
	}
	if report.Counts != (core.Counts{Pass: 1, Fail: 2, Exception: 1, Skipped: 1}) {
		t.Errorf("Counts = %+v", report.Counts)
	}
	if report.Succeeded() {
		t.Error("Succeeded() = true with failures")
	}

	if events[0].Kind != EventRunStarted || events[len(events)-1].Kind != EventRunFinished {
		t.Errorf("run events out of order: first=%s last=%s", events[0].Kind, events[len(events)-1].Kind)
	}
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Fatalf("event %d Seq = %d", i, e.Seq)
		}
		if e.RunID != report.RunID || e.SpecID != "spec1" {
			t.Fatalf("event %d not stamped with run/spec: %+v", i, e)
		}
	}
}

func TestRun_StopOnFailureCancels(t *testing.T) {
	spec := mathSpec(t,
		add("l1", "1", "2", "3"),
		add("l2", "1", "2", "4"),
		add("l3", "1", "2", "3"),
	)

	report, err := Run(context.Background(), spec, mathLibrary(), Options{Policy: Policy{StopOnFailure: true}})
	if err != nil {
		t.Fatal(err)
	}

	if report.Status != RunCancelled {
		t.Errorf("Status = %q, want cancelled", report.Status)
	}
	if len(report.Results) != 2 {
		t.Errorf("results after fast-fail = %v", report.Results)
	}
}

func TestRun_StopOnFailureAtLastLineCompletes(t *testing.T) {
	spec := mathSpec(t,
		add("l1", "1", "2", "3"),
		add("l2", "1", "2", "4"),
	)

	report, err := Run(context.Background(), spec, mathLibrary(), Options{Policy: Policy{StopOnFailure: true}})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != RunCompleted {
		t.Errorf("Status = %q, want completed when every line ran", report.Status)
	}
	if len(report.Results) != 2 || report.Counts.Fail != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestExecutor_NotStoppedWhenEveryLineRuns(t *testing.T) {
	g := &gate{open: true}
	exec := NewExecutor(g, nil)
	exec.Execute(CompositeNode("root", "",
		LineNode("a", "Step", func(Context) {}),
		LineNode("b", "Step", func(Context) { g.open = false }),
	))
	if exec.Stopped() {
		t.Error("Stopped() = true although the last line closed the gate after running")
	}
}

func TestRun_StopOnException(t *testing.T) {
	spec := mathSpec(t,
		model.NewStepWithID("l1", "Divide", model.NewCell("x", "1"), model.NewCell("y", "0"), model.NewCell("quotient", "")),
		add("l2", "1", "2", "3"),
	)

	report, err := Run(context.Background(), spec, mathLibrary(), Options{Policy: Policy{StopOnException: true}})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != RunCancelled || len(report.Results) != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestRun_ContextCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lib := mathLibrary()
	lib.RegisterGlobal(grammar.MustFunc("Stop", func() { cancel() }))
	spec := mathSpec(t,
		add("l1", "1", "2", "3"),
		model.NewStepWithID("stop", "Stop"),
		add("l3", "1", "2", "3"),
	)

	report, err := Run(ctx, spec, lib, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != RunCancelled {
		t.Errorf("Status = %q", report.Status)
	}
	for _, r := range report.Results {
		if r.StepID == "l3" {
			t.Error("step after cancellation was executed")
		}
	}
}

func TestRun_UnknownGrammar(t *testing.T) {
	spec := mathSpec(t,
		model.NewStepWithID("l1", "Multiply", model.NewCell("x", "1")),
		add("l2", "1", "1", "2"),
	)

	report, err := Run(context.Background(), spec, mathLibrary(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Problems) != 1 || report.Problems[0].StepID != "l1" {
		t.Errorf("Problems = %v", report.Problems)
	}
	if r := report.Results[0]; r.Status != core.StatusException || !strings.Contains(r.Detail, `"Multiply"`) {
		t.Errorf("unbound line result = %+v", r)
	}
	if r := report.Results[1]; r.Status != core.StatusPass {
		t.Errorf("run should continue past an unbound line: %+v", r)
	}
}

func TestRun_HeaderOnly(t *testing.T) {
	spec, err := model.FromData(model.SpecData{ID: "h", Mode: model.ModeHeader})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), spec, mathLibrary(), Options{}); !errors.Is(err, ErrHeaderOnly) {
		t.Errorf("Run() error = %v, want ErrHeaderOnly", err)
	}
}

func TestRun_CustomContext(t *testing.T) {
	spec := mathSpec(t, add("l1", "1", "2", "3"), add("l2", "2", "2", "4"))
	sc := NewSpecContext(context.Background(), Policy{})

	report, err := Run(context.Background(), spec, mathLibrary(), Options{Context: sc, RunID: "run-7"})
	if err != nil {
		t.Fatal(err)
	}
	if report.RunID != "run-7" {
		t.Errorf("RunID = %q", report.RunID)
	}
	if len(sc.Results()) != 2 || len(report.Results) != 2 {
		t.Errorf("results not shared with the supplied context: %v / %v", sc.Results(), report.Results)
	}
	if report.Status != RunCompleted {
		t.Errorf("Status = %q", report.Status)
	}
}

func TestContextWrappers_ForwardToInner(t *testing.T) {
	ctx := context.WithValue(context.Background(), emitterKey{}, "marker")
	sc := NewSpecContext(ctx, Policy{StopOnFailure: true})
	for name, c := range map[string]Context{
		"lineScope": &lineScope{inner: sc},
		"collector": &collector{inner: sc},
	} {
		if c.Context() != ctx {
			t.Errorf("%s: Context() not forwarded", name)
		}
		if !c.CanContinue() {
			t.Errorf("%s: CanContinue() = false before any failure", name)
		}
	}
	(&lineScope{inner: sc}).Record(core.Result{StepID: "l1", Status: core.StatusFail})
	if (&collector{inner: sc}).CanContinue() {
		t.Error("collector should see the policy stop after a recorded failure")
	}
}

func TestCompile_MissingCells(t *testing.T) {
	spec := mathSpec(t, model.NewStepWithID("l1", "Add", model.NewCell("x", "1")))

	_, problems, err := Compile(spec, mathLibrary())
	if err != nil {
		t.Fatal(err)
	}
	if len(problems) != 1 || !strings.Contains(problems[0].Message, `"y"`) {
		t.Errorf("problems = %v", problems)
	}
}

func TestCompile_FixtureScope(t *testing.T) {
	outside, err := model.New("spec1", model.NewStepWithID("other", "Text").Append(add("l1", "1", "1", "2")))
	if err != nil {
		t.Fatal(err)
	}
	_, problems, _ := Compile(outside, mathLibrary())
	if len(problems) != 1 {
		t.Errorf("fixture grammar should not resolve outside its section: %v", problems)
	}

	nested := mathSpec(t, model.NewStepWithID("inner", "Group").Append(add("l1", "1", "1", "2")))
	root, problems, _ := Compile(nested, mathLibrary())
	if len(problems) != 0 {
		t.Errorf("nested section should inherit its fixture: %v", problems)
	}
	if countLines(root) != 1 {
		t.Errorf("countLines() = %d", countLines(root))
	}
}

func TestSpecContext(t *testing.T) {
	sc := NewSpecContext(context.Background(), Policy{})
	sc.Record(core.Result{Status: core.StatusFail})
	if !sc.CanContinue() {
		t.Error("failures alone should not stop a run without a policy")
	}

	sc.Abort("user request")
	sc.Abort("second")
	if sc.CanContinue() || sc.AbortReason() != "user request" {
		t.Errorf("Abort() not honored: reason=%q", sc.AbortReason())
	}
	if sc.Counts().Fail != 1 {
		t.Errorf("Counts() = %+v", sc.Counts())
	}
}

func TestSpecContext_ConcurrentRecord(t *testing.T) {
	sc := NewSpecContext(context.Background(), Policy{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc.Record(core.Result{Status: core.StatusPass})
		}()
	}
	wg.Wait()
	if got := sc.Counts().Pass; got != 50 {
		t.Errorf("Pass = %d, want 50", got)
	}
}

func TestContextWithEmitter_RoundTrip(t *testing.T) {
	var called bool
	ctx := ContextWithEmitter(context.Background(), func(Event) { called = true })
	EmitterFromContext(ctx)(Event{})
	if !called {
		t.Error("emitter from context was not the one we stored")
	}
	EmitterFromContext(context.Background())(Event{})
}

func TestMultiEventHandler(t *testing.T) {
	var a, b int
	h := MultiEventHandler(func(Event) { a++ }, nil, func(Event) { b++ })
	h(NewEvent(EventRunStarted, "r"))
	if a != 1 || b != 1 {
		t.Errorf("a=%d b=%d", a, b)
	}
}
