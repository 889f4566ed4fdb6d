package crisis

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced to callers. Store failures are always wrapped in
// ErrStoreUnavailable so that no storage detail reaches a client.
var (
	ErrAlertNotFound         = errors.New("alert not found")
	ErrSOSNotFound           = errors.New("sos not found")
	ErrCaseNotFound          = errors.New("case not found")
	ErrDuplicateVerification = errors.New("verification already submitted for this alert")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrForbidden             = errors.New("not authorized")
	ErrAlreadyResponded      = errors.New("already responded to this sos")
	ErrSOSInactive           = errors.New("sos is no longer active")
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned for malformed input, before any store is touched.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Unavailable wraps a store failure so it matches ErrStoreUnavailable while
// keeping the cause for logs.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
