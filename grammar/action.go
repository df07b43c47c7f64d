// Package grammar binds step kinds to executable fixture actions.
//
// An Action is a descriptor built once at registration time: the cells it
// reads as arguments, the cells it checks as results, and an invoke func.
// Actions come from plain Go funcs (Func), fixture methods (Method) or an
// explicit descriptor (NewAction). A Library groups actions into named
// fixtures and carries the Conversions used to turn cell text into typed
// arguments.
package grammar

import (
	"context"
	"fmt"
	"reflect"
)

// CellSpec describes one argument or result cell of an action.
type CellSpec struct {
	Key      string       `json:"key"`
	Type     reflect.Type `json:"-"`
	Default  string       `json:"default,omitempty"`
	Optional bool         `json:"optional,omitempty"` // use Default when the cell is absent
}

// InvokeFunc runs an action with converted arguments and returns one value
// per result cell.
type InvokeFunc func(ctx context.Context, args []any) ([]any, error)

// Action is a bound, invocable grammar.
type Action struct {
	key     string
	params  []CellSpec
	results []CellSpec
	invoke  InvokeFunc
}

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// NewAction creates an action from an explicit descriptor.
func NewAction(key string, params, results []CellSpec, fn InvokeFunc) *Action {
	return &Action{
		key:     key,
		params:  append([]CellSpec(nil), params...),
		results: append([]CellSpec(nil), results...),
		invoke:  fn,
	}
}

// Func builds an action from a Go func. The func may take a
// context.Context first and may return a trailing error. cells names the
// parameters in order, followed by the results.
func Func(key string, fn any, cells ...string) (*Action, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: %s is %T, not a func", ErrBadSignature, key, fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("%w: %s is variadic", ErrBadSignature, key)
	}

	first := 0
	takesCtx := t.NumIn() > 0 && t.In(0) == contextType
	if takesCtx {
		first = 1
	}
	nOut := t.NumOut()
	returnsErr := nOut > 0 && t.Out(nOut-1) == errorType
	if returnsErr {
		nOut--
	}
	nIn := t.NumIn() - first
	if len(cells) != nIn+nOut {
		return nil, fmt.Errorf("%w: %s takes %d arguments and returns %d values but %d cell names were given",
			ErrBadSignature, key, nIn, nOut, len(cells))
	}

	params := make([]CellSpec, nIn)
	for i := range params {
		params[i] = CellSpec{Key: cells[i], Type: t.In(first + i)}
	}
	results := make([]CellSpec, nOut)
	for i := range results {
		results[i] = CellSpec{Key: cells[nIn+i], Type: t.Out(i)}
	}

	invoke := func(ctx context.Context, args []any) ([]any, error) {
		in := make([]reflect.Value, 0, t.NumIn())
		if takesCtx {
			in = append(in, reflect.ValueOf(&ctx).Elem())
		}
		for i, a := range args {
			if a == nil {
				in = append(in, reflect.Zero(t.In(first+i)))
				continue
			}
			in = append(in, reflect.ValueOf(a))
		}
		out := v.Call(in)
		if returnsErr {
			if errVal := out[len(out)-1]; !errVal.IsNil() {
				return nil, errVal.Interface().(error)
			}
			out = out[:len(out)-1]
		}
		values := make([]any, len(out))
		for i, o := range out {
			values[i] = o.Interface()
		}
		return values, nil
	}

	return NewAction(key, params, results, invoke), nil
}

// Method builds an action from a method on a fixture value. The grammar
// key is the method name; use As to register it under an alias.
func Method(fixture any, name string, cells ...string) (*Action, error) {
	m := reflect.ValueOf(fixture).MethodByName(name)
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %T has no method %s", ErrUnknownMethod, fixture, name)
	}
	return Func(name, m.Interface(), cells...)
}

// MustFunc is like Func but panics on a bad signature.
func MustFunc(key string, fn any, cells ...string) *Action {
	a, err := Func(key, fn, cells...)
	if err != nil {
		panic(err)
	}
	return a
}

// MustMethod is like Method but panics on a bad signature.
func MustMethod(fixture any, name string, cells ...string) *Action {
	a, err := Method(fixture, name, cells...)
	if err != nil {
		panic(err)
	}
	return a
}

// As returns a copy of the action registered under alias.
func (a *Action) As(alias string) *Action {
	cp := *a
	cp.key = alias
	return &cp
}

// WithDefault returns a copy of the action where the named argument cell
// falls back to value when absent.
func (a *Action) WithDefault(cell, value string) *Action {
	cp := *a
	cp.params = append([]CellSpec(nil), a.params...)
	for i := range cp.params {
		if cp.params[i].Key == cell {
			cp.params[i].Default = value
			cp.params[i].Optional = true
		}
	}
	return &cp
}

// Key returns the grammar key.
func (a *Action) Key() string { return a.key }

// Params returns the argument cells.
func (a *Action) Params() []CellSpec { return a.params }

// Results returns the result cells.
func (a *Action) Results() []CellSpec { return a.results }

// Cells returns the keys of every argument and result cell.
func (a *Action) Cells() []string {
	keys := make([]string, 0, len(a.params)+len(a.results))
	for _, p := range a.params {
		keys = append(keys, p.Key)
	}
	for _, r := range a.results {
		keys = append(keys, r.Key)
	}
	return keys
}
