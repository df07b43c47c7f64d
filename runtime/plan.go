package runtime

import (
	"errors"
	"fmt"

	"github.com/petal-labs/storyline/core"
	"github.com/petal-labs/storyline/grammar"
	"github.com/petal-labs/storyline/model"
)

// ErrHeaderOnly is returned when a specification without a step tree is
// compiled.
var ErrHeaderOnly = errors.New("runtime: specification has no step tree")

// NodeKind tags a plan node as a line or a composite.
type NodeKind string

const (
	NodeLine      NodeKind = "line"
	NodeComposite NodeKind = "composite"
)

// Line is the executable body of a line node.
type Line func(ctx Context)

// Node is one step of an execution plan. Exactly one of Line (for
// NodeLine) or Children (for NodeComposite) is meaningful.
type Node struct {
	Kind     NodeKind
	StepID   string
	StepKind string
	Line     Line
	Children []Node
}

// LineNode creates a line node.
func LineNode(stepID, stepKind string, fn Line) Node {
	return Node{Kind: NodeLine, StepID: stepID, StepKind: stepKind, Line: fn}
}

// CompositeNode creates a composite node.
func CompositeNode(stepID, stepKind string, children ...Node) Node {
	return Node{Kind: NodeComposite, StepID: stepID, StepKind: stepKind, Children: children}
}

// Problem is a binding issue found while compiling a plan.
type Problem struct {
	StepID  string `json:"step"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s (%s): %s", p.StepID, p.Kind, p.Message)
}

// Compile binds every step of spec to the library and returns the plan
// root together with the binding problems found. Unbound lines are still
// planned; they record an exception when executed.
func Compile(spec *model.Specification, lib *grammar.Library) (Node, []Problem, error) {
	if spec.Mode() == model.ModeHeader {
		return Node{}, nil, ErrHeaderOnly
	}
	if lib == nil {
		lib = grammar.NewLibrary()
	}
	c := &compiler{lib: lib}
	children := make([]Node, 0, len(spec.Steps()))
	for _, st := range spec.Steps() {
		children = append(children, c.step(st, ""))
	}
	return CompositeNode(spec.ID(), "", children...), c.problems, nil
}

type compiler struct {
	lib      *grammar.Library
	problems []Problem
}

func (c *compiler) step(st *model.Step, fixture string) Node {
	if st.IsComposite() {
		if _, ok := c.lib.Fixture(st.Kind()); ok {
			fixture = st.Kind()
		}
		children := make([]Node, 0, len(st.Children()))
		for _, child := range st.Children() {
			children = append(children, c.step(child, fixture))
		}
		return CompositeNode(st.ID(), st.Kind(), children...)
	}

	stepID := st.ID()
	action, ok := c.lib.Lookup(fixture, st.Kind())
	if !ok {
		msg := fmt.Sprintf("no grammar %q", st.Kind())
		if fixture != "" {
			msg = fmt.Sprintf("no grammar %q in fixture %q", st.Kind(), fixture)
		}
		c.problems = append(c.problems, Problem{StepID: stepID, Kind: st.Kind(), Message: msg})
		return LineNode(stepID, st.Kind(), func(ctx Context) {
			ctx.Record(core.Result{StepID: stepID, Status: core.StatusException, Detail: msg})
		})
	}

	for _, p := range action.Params() {
		if _, ok := st.Cell(p.Key); !ok && !p.Optional {
			c.problems = append(c.problems, Problem{
				StepID:  stepID,
				Kind:    st.Kind(),
				Message: fmt.Sprintf("missing cell %q", p.Key),
			})
		}
	}

	values := st.Values()
	conv := c.lib.Conversions()
	return LineNode(stepID, st.Kind(), func(ctx Context) {
		action.Execute(ctx.Context(), stepID, values, conv, ctx)
	})
}
