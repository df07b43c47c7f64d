// Package samples holds a small fixture library and specification used by
// the command line tool and by tests.
package samples

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/petal-labs/storyline/grammar"
	"github.com/petal-labs/storyline/model"
)

// ErrDivideByZero is returned by Calculator.Divide.
var ErrDivideByZero = errors.New("division by zero")

// Calculator is an arithmetic fixture.
type Calculator struct{}

func (Calculator) Add(x, y float64) float64      { return x + y }
func (Calculator) Subtract(x, y float64) float64 { return x - y }
func (Calculator) Multiply(x, y float64) float64 { return x * y }

func (Calculator) Divide(x, y float64) (float64, error) {
	if y == 0 {
		return 0, ErrDivideByZero
	}
	return x / y, nil
}

// Text is a string fixture.
type Text struct{}

func (Text) Concat(a, b string) string { return a + b }
func (Text) Upper(s string) string     { return strings.ToUpper(s) }

func (Text) Words(s string) []string { return strings.Fields(s) }

// Library returns a library with the Calculator and Text fixtures and the
// global Comment and Wait grammars.
func Library() *grammar.Library {
	lib := grammar.NewLibrary()

	calc := Calculator{}
	lib.Add(grammar.NewFixture("Calculator",
		grammar.MustMethod(calc, "Add", "x", "y", "sum"),
		grammar.MustMethod(calc, "Subtract", "x", "y", "difference"),
		grammar.MustMethod(calc, "Multiply", "x", "y", "product"),
		grammar.MustMethod(calc, "Divide", "x", "y", "quotient"),
	))

	text := Text{}
	lib.Add(grammar.NewFixture("Text",
		grammar.MustMethod(text, "Concat", "a", "b", "result"),
		grammar.MustMethod(text, "Upper", "text", "result"),
		grammar.MustMethod(text, "Words", "text", "words"),
	))

	lib.RegisterGlobal(
		grammar.MustFunc("Comment", func(string) {}, "text"),
		grammar.MustFunc("Wait", wait, "duration").WithDefault("duration", "0s"),
	)
	return lib
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Arithmetic returns a specification exercising the Calculator fixture. It
// passes with the library returned by Library.
func Arithmetic() model.SpecData {
	retries := 1
	line := func(id, kind string, cells ...string) model.StepData {
		s := model.StepData{ID: id, Kind: kind}
		for i := 0; i+1 < len(cells); i += 2 {
			s.Cells = append(s.Cells, model.CellData{Key: cells[i], Value: cells[i+1]})
		}
		return s
	}
	return model.SpecData{
		ID:         "arithmetic",
		Title:      "Arithmetic",
		Path:       "samples/arithmetic",
		MaxRetries: &retries,
		Steps: []model.StepData{
			line("intro", "Comment", "text", "basic operations"),
			{ID: "calc", Kind: "Calculator", Steps: []model.StepData{
				line("add", "Add", "x", "1", "y", "2", "sum", "3"),
				line("subtract", "Subtract", "x", "5", "y", "3", "difference", "2"),
				line("multiply", "Multiply", "x", "4", "y", "2.5", "product", "10"),
				line("divide", "Divide", "x", "9", "y", "3", "quotient", "3"),
			}},
			{ID: "text", Kind: "Text", Steps: []model.StepData{
				line("concat", "Concat", "a", "story", "b", "line", "result", "storyline"),
				line("words", "Words", "text", "given when then", "words", "given,when,then"),
			}},
		},
	}
}
