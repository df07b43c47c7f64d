package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the specification model.
var (
	ErrNotFound    = errors.New("model: not found")
	ErrNoOp        = errors.New("model: nothing to do")
	ErrInvalidData = errors.New("model: invalid specification data")
)

// NotFoundError reports an unknown step or cell address.
type NotFoundError struct {
	Kind string // "step", "cell" or "spec"
	ID   string // the id or key that was looked up
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("model: %s %q not found", e.Kind, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NoOpError is returned by Undo and Redo when there is nothing to undo or redo.
type NoOpError struct {
	Op string
}

// Error implements the error interface.
func (e *NoOpError) Error() string {
	return "model: nothing to " + e.Op
}

// Unwrap lets errors.Is match ErrNoOp.
func (e *NoOpError) Unwrap() error {
	return ErrNoOp
}

// IsNoOp reports whether err is a NoOpError.
func IsNoOp(err error) bool {
	return errors.Is(err, ErrNoOp)
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
