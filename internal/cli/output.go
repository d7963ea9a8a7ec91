package cli

import (
	"errors"
	"fmt"

	"github.com/soma-tiles/xenium-tiler/internal/config"
)

// Exit codes for the tiler.
const (
	ExitSuccess     = 0 // All tiles written
	ExitFailure     = 1 // Input, decode or output error
	ExitConfigError = 2 // Invalid flags or configuration file
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify wraps err with the exit code of its failure class.
func classify(message string, err error) error {
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return WrapExitError(ExitConfigError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}
