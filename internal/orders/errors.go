package orders

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an instruction ID is unknown to a controller.
var ErrNotFound = errors.New("instruction not found")

// ValidationError reports bad input, caught before any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// GatewayError reports a remote exchange call that failed after retries.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("gateway %s: %v", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

// PlacementError reports a required leg, slice or level that could not be
// placed during initial setup.
type PlacementError struct {
	Reason string
	Err    error
}

func (e *PlacementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order placement: %s: %v", e.Reason, e.Err)
	}
	return "order placement: " + e.Reason
}
func (e *PlacementError) Unwrap() error { return e.Err }

// IsInsufficientBalance classifies an exchange error as a fatal
// insufficient-balance condition. Monitoring loops treat these as terminal
// for the instruction while other errors are logged and retried.
func IsInsufficientBalance(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "insufficient balance")
}
