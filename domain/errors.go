package domain

import (
	"errors"
	"fmt"
	"strings"

	"example.com/backstage/services/changeorder/utils"
)

// Sentinel errors, matched with errors.Is against the typed errors below
var (
	ErrValidation  = errors.New("validation failed")
	ErrConcurrency = errors.New("version conflict")
	ErrNotFound    = errors.New("case not found")
	ErrCorruption  = errors.New("corrupt event log")
)

// FieldError describes a single rejected field
type FieldError = utils.FieldError

// ValidationError is returned when a payload or command is malformed. Nothing
// has been stored when it is returned.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, rule, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Rule: rule, Message: message}}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConcurrencyError is returned when the expected version presented by a
// writer does not match the stored version. The caller must reload the case
// at Actual before retrying.
type ConcurrencyError struct {
	CaseID   string
	Expected int
	Actual   int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("version conflict on case %s: expected %d, current %d", e.CaseID, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrency }

// NotFoundError is returned for operations on a case without events
type NotFoundError struct {
	CaseID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("case %s not found", e.CaseID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CorruptionError is returned when a stored event cannot be decoded or does
// not fit the log it was read from. It is fatal for the case's projection.
type CorruptionError struct {
	CaseID   string
	Position int
	Type     EventType
	Err      error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt event %s at position %d of case %s: %v", e.Type, e.Position, e.CaseID, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

func (e *CorruptionError) Is(target error) bool { return target == ErrCorruption }
