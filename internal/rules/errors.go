package rules

import (
	"errors"
	"fmt"
)

// ErrInvalidInput reports a missing or non-object policy or signal mapping.
var ErrInvalidInput = errors.New("invalid input")

// PolicyError reports a structurally invalid or unsupported policy expression.
type PolicyError struct {
	Path     string
	Operator string
	Msg      string
}

func (e *PolicyError) Error() string {
	if e.Operator != "" {
		return fmt.Sprintf("policy error at %s (%s): %s", e.Path, e.Operator, e.Msg)
	}
	return fmt.Sprintf("policy error at %s: %s", e.Path, e.Msg)
}

func policyErrorf(path, op, format string, args ...any) *PolicyError {
	return &PolicyError{Path: path, Operator: op, Msg: fmt.Sprintf(format, args...)}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
