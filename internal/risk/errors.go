package risk

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrDetector     = errors.New("detector failed")
)

// InvalidInputError reports a structurally invalid snapshot.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// NotFoundError is returned by contract data providers for unknown ids.
type NotFoundError struct {
	ContractID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("contract %q not found", e.ContractID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DetectorError wraps the failure of a single clause detector.
type DetectorError struct {
	ClauseType ClauseType
	Err        error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.ClauseType, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

func (e *DetectorError) Is(target error) bool { return target == ErrDetector }

func invalid(field, format string, args ...any) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
