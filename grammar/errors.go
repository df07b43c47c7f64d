package grammar

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Sentinel errors for binding and registration.
var (
	ErrMissingCell   = errors.New("grammar: missing cell value")
	ErrEmptyCell     = errors.New("grammar: empty cell value")
	ErrBadSignature  = errors.New("grammar: unsupported action signature")
	ErrUnknownMethod = errors.New("grammar: unknown fixture method")
)

// ConversionError reports cell text that could not be converted to the
// type an action expects. The executor turns it into a fail result on
// that cell.
type ConversionError struct {
	Cell string       `json:"cell"`
	Type reflect.Type `json:"-"`
	Text string       `json:"text"`
	Err  error        `json:"-"`
}

func (e *ConversionError) Error() string {
	if e == nil {
		return ""
	}
	typeName := "<nil>"
	if e.Type != nil {
		typeName = e.Type.String()
	}
	if errors.Is(e.Err, ErrMissingCell) {
		return fmt.Sprintf("cell %q: no value for %s", e.Cell, typeName)
	}
	return fmt.Sprintf("cell %q: cannot convert %q to %s: %v", e.Cell, e.Text, typeName, e.Err)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ConversionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ActionError is raised when fixture code panics or returns an error.
// It becomes an exception result on the step.
type ActionError struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
	Cause   error  `json:"-"`
}

func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Action == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Action, msg)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ActionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
