package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidationFailed indicates that validation checks have failed
	ErrValidationFailed = errors.New("validation failed")

	// ErrConflict indicates a uniqueness constraint violation (slug, remote id)
	ErrConflict = errors.New("entity already exists")
)

// ValidationError represents a validation error with detailed field information.
// It implements the error interface and provides context about which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidationFailed) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// FieldError is one violation located by a field path such as
// "resources[2].schema.version".
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationErrors collects field-path-qualified violations of a single record.
type ValidationErrors []FieldError

// Add appends a violation.
func (v *ValidationErrors) Add(path, message string) {
	*v = append(*v, FieldError{Path: path, Message: message})
}

// Merge appends violations from another error when it carries any.
func (v *ValidationErrors) Merge(err error) {
	if err == nil {
		return
	}
	var ve ValidationErrors
	if errors.As(err, &ve) {
		*v = append(*v, ve...)
		return
	}
	var single *ValidationError
	if errors.As(err, &single) {
		v.Add(single.Field, single.Message)
		return
	}
	v.Add("", err.Error())
}

// ErrOrNil returns nil when no violation was recorded.
func (v ValidationErrors) ErrOrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		if fe.Path == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Path+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidationFailed) match ValidationErrors.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidationFailed
}
