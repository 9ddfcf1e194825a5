package jobs

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors for scheduling operations
var (
	ErrJobNotFound         = errors.New("job not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrRegistryClosed      = errors.New("task registry is closed")
	ErrInvalidTaskID       = errors.New("invalid task ID")
	ErrUnresolvedReference = errors.New("callable reference cannot be resolved")
)

// FieldError describes a single invalid field on a job or argument.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every field failure found while validating a
// record. Validation never stops at the first bad field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether a failure was recorded for the named field.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// orNil collapses an empty aggregate to nil so callers can return it directly.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
