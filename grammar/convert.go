package grammar

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ConvertFunc turns cell text into a typed value.
type ConvertFunc func(text string) (any, error)

// Conversions maps target types to converters. Types without a registered
// converter fall back to builtin rules: numbers are parsed in base 10,
// slices are split on commas and converted element by element, and the
// rest (booleans, durations, RFC 3339 times, structs) is decoded with
// weakly typed mapstructure rules. Blank text only converts to strings and
// slices.
type Conversions struct {
	mu     sync.RWMutex
	byType map[reflect.Type]ConvertFunc
}

// NewConversions creates an empty conversion registry.
func NewConversions() *Conversions {
	return &Conversions{byType: make(map[reflect.Type]ConvertFunc)}
}

// Register sets the converter for t, replacing any previous one.
func (c *Conversions) Register(t reflect.Type, fn ConvertFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byType[t] = fn
}

// RegisterFunc registers a typed converter for T.
func RegisterFunc[T any](c *Conversions, fn func(string) (T, error)) {
	c.Register(reflect.TypeFor[T](), func(text string) (any, error) {
		return fn(text)
	})
}

// Has reports whether a converter is registered for t.
func (c *Conversions) Has(t reflect.Type) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byType[t]
	return ok
}

// Convert turns text into a value of type t.
func (c *Conversions) Convert(text string, t reflect.Type) (any, error) {
	c.mu.RLock()
	fn, ok := c.byType[t]
	c.mu.RUnlock()
	if ok {
		v, err := fn(text)
		if err != nil {
			return nil, err
		}
		if v == nil || !reflect.TypeOf(v).AssignableTo(t) {
			return nil, fmt.Errorf("converter for %s returned %T", t, v)
		}
		return v, nil
	}

	if t.Kind() == reflect.String {
		return reflect.ValueOf(text).Convert(t).Interface(), nil
	}
	if t.Kind() == reflect.Slice {
		return c.convertSlice(text, t)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyCell
	}
	if v, ok, err := parseNumber(text, t); ok {
		return v, err
	}
	return decodeText(text, t)
}

func (c *Conversions) convertSlice(text string, t reflect.Type) (any, error) {
	out := reflect.MakeSlice(t, 0, 0)
	if strings.TrimSpace(text) == "" {
		return out.Interface(), nil
	}
	for i, part := range strings.Split(text, ",") {
		v, err := c.Convert(part, t.Elem())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = reflect.Append(out, reflect.ValueOf(v))
	}
	return out.Interface(), nil
}

var durationType = reflect.TypeFor[time.Duration]()

// parseNumber parses integer and float kinds in base 10 only, so "010" is
// ten and "0x10" is rejected. ok is false for other kinds.
func parseNumber(text string, t reflect.Type) (v any, ok bool, err error) {
	if t == durationType {
		return nil, false, nil
	}
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, t.Bits())
		if err != nil {
			return nil, true, err
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, t.Bits())
		if err != nil {
			return nil, true, err
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, t.Bits())
		if err != nil {
			return nil, true, err
		}
		out.SetFloat(f)
	default:
		return nil, false, nil
	}
	return out.Interface(), true, nil
}

func decodeText(text string, t reflect.Type) (any, error) {
	target := reflect.New(t)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target.Interface(),
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(text); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}

// Format renders a produced value as cell text.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = Format(rv.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}
