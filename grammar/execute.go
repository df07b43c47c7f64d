package grammar

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/petal-labs/storyline/core"
)

// Execute converts the step's cell values, invokes the action and records
// one result per checked cell. Conversion failures become fail results on
// the offending cell and stop the invocation. A panic or error from the
// action becomes an exception result on the step. Execute never panics.
func (a *Action) Execute(ctx context.Context, stepID string, values map[string]string, conv *Conversions, rec core.Recorder) {
	if conv == nil {
		conv = NewConversions()
	}

	args := make([]any, len(a.params))
	failed := false
	for i, p := range a.params {
		v, err := convertParam(p, values, conv)
		if err != nil {
			rec.Record(core.Result{StepID: stepID, CellKey: p.Key, Status: core.StatusFail, Detail: err.Error()})
			failed = true
			continue
		}
		args[i] = v
	}
	if failed {
		return
	}

	out, err := a.call(ctx, args)
	if err != nil {
		res := core.Result{StepID: stepID, Status: core.StatusException, Detail: err.Error()}
		var actionErr *ActionError
		if errors.As(err, &actionErr) {
			res.Stack = actionErr.Stack
		}
		rec.Record(res)
		return
	}

	if len(a.results) == 0 {
		rec.Record(core.Result{StepID: stepID, Status: core.StatusPass})
		return
	}
	for i, r := range a.results {
		rec.Record(check(stepID, r, values, out[i], conv))
	}
}

func convertParam(p CellSpec, values map[string]string, conv *Conversions) (any, error) {
	text, ok := values[p.Key]
	if !ok {
		if !p.Optional {
			return nil, &ConversionError{Cell: p.Key, Type: p.Type, Err: ErrMissingCell}
		}
		text = p.Default
	}
	v, err := conv.Convert(text, p.Type)
	if err != nil {
		return nil, &ConversionError{Cell: p.Key, Type: p.Type, Text: text, Err: err}
	}
	return v, nil
}

func check(stepID string, r CellSpec, values map[string]string, actual any, conv *Conversions) core.Result {
	res := core.Result{StepID: stepID, CellKey: r.Key}
	expected, ok := values[r.Key]
	if !ok || expected == "" {
		res.Status = core.StatusSkipped
		res.Detail = Format(actual)
		return res
	}

	want, err := conv.Convert(expected, r.Type)
	if err != nil {
		res.Status = core.StatusFail
		res.Detail = (&ConversionError{Cell: r.Key, Type: r.Type, Text: expected, Err: err}).Error()
		return res
	}
	if reflect.DeepEqual(want, actual) {
		res.Status = core.StatusPass
		return res
	}
	res.Status = core.StatusFail
	res.Detail = fmt.Sprintf("expected %s but was %s", expected, Format(actual))
	return res
}

func (a *Action) call(ctx context.Context, args []any) (out []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &ActionError{Action: a.key, Message: fmt.Sprint(r), Stack: string(debug.Stack())}
		}
	}()

	if a.invoke == nil {
		return nil, &ActionError{Action: a.key, Message: "action has no implementation"}
	}
	out, err = a.invoke(ctx, args)
	if err != nil {
		var actionErr *ActionError
		if !errors.As(err, &actionErr) {
			err = &ActionError{Action: a.key, Message: err.Error(), Cause: err}
		}
		return nil, err
	}
	if len(out) != len(a.results) {
		return nil, &ActionError{Action: a.key, Message: fmt.Sprintf("returned %d values, want %d", len(out), len(a.results))}
	}
	return out, nil
}
