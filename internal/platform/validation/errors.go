// Package validation holds the validation error taxonomy and the field
// sanitizers applied before parsed HL7 values are persisted.
package validation

import (
	"errors"
	"fmt"
)

// Kind identifies which boundary rejected a value.
type Kind int

const (
	KindGeneric Kind = iota
	KindHL7
	KindPatientID
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindHL7:
		return "hl7"
	case KindPatientID:
		return "patient_id"
	case KindFile:
		return "file"
	default:
		return "validation"
	}
}

// maxValueRepr bounds how much of an offending value is kept on an error.
const maxValueRepr = 100

// Sentinels for errors.Is. ErrValidation matches every ValidationError.
var (
	ErrValidation    = errors.New("validation failed")
	ErrHL7Validation = errors.New("hl7 validation failed")
	ErrPatientID     = errors.New("patient id validation failed")
	ErrFile          = errors.New("file validation failed")

	// ErrInsufficientData is returned by analyses that need more points than
	// the series provides.
	ErrInsufficientData = errors.New("insufficient data")
)

// ValidationError describes a rejected value. Value is already truncated.
type ValidationError struct {
	Kind   Kind
	Field  string
	Value  string
	Reason string
}

// New builds a ValidationError, truncating value for safe logging.
func New(kind Kind, field, value, reason string) *ValidationError {
	return &ValidationError{
		Kind:   kind,
		Field:  field,
		Value:  Truncate(value),
		Reason: reason,
	}
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("validation failed for '%s': %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed for '%s': %s (value: '%s')", e.Field, e.Reason, e.Value)
}

// Is lets errors.Is match the kind sentinels.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrHL7Validation:
		return e.Kind == KindHL7
	case ErrPatientID:
		return e.Kind == KindPatientID
	case ErrFile:
		return e.Kind == KindFile
	}
	return false
}

// Truncate shortens s to at most 100 characters, marking the cut with "...".
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxValueRepr {
		return s
	}
	return string(r[:maxValueRepr-3]) + "..."
}

// AsValidationError unwraps err into a *ValidationError when possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
