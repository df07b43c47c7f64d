package cli

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	exitSuccess    = 0
	exitValidation = 1 // invalid file, config or flags
	exitFailures   = 2 // the run recorded fail or exception results
	exitFileError  = 3 // the file could not be read or parsed
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var e *ExitError
	if errors.As(err, &e) {
		return e.Code
	}
	return exitValidation
}
