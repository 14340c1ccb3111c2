// Package errors provides the consolidated error definitions for swarmstore.
//
// It defines:
//   - Sentinel errors for all error conditions
//   - Error category checking functions
//   - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrClosed             = errors.New("storage is closed")
	ErrTimeout            = errors.New("timeout")

	// Query errors
	ErrInvalidQuery       = errors.New("invalid query")
	ErrUnknownTable       = errors.New("unknown table")
	ErrUnknownAggregation = errors.New("unknown aggregation")
	ErrUnknownLevel       = errors.New("unknown aggregation level")

	// Record errors
	ErrInvalidRecord = errors.New("invalid record")

	// Lifecycle errors
	ErrRetentionFailure = errors.New("retention failure")
	ErrBufferDraining   = errors.New("buffer is draining")
	ErrNotRunning       = errors.New("service not running")
	ErrAlreadyRunning   = errors.New("service already running")

	// Export errors
	ErrUnknownFormat      = errors.New("unknown export format")
	ErrUnknownCompression = errors.New("unknown compression codec")

	// Config errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsInvalidQuery returns true if err is a query validation error.
// Such errors are rejected immediately, never silently defaulted.
func IsInvalidQuery(err error) bool {
	return errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrUnknownTable) ||
		errors.Is(err, ErrUnknownAggregation) ||
		errors.Is(err, ErrUnknownLevel)
}

// IsValidation returns true if err is a config or record validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidRecord)
}

// IsRetriable returns true if the error is potentially transient.
// Storage retries these a bounded number of times inside a single attempt
// before surfacing ErrStorageUnavailable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStorageUnavailable)
}

// IsFatal returns true when the operation cannot possibly succeed on retry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrClosed) || IsInvalidQuery(err) || IsValidation(err)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewUnknownTable creates an unknown-table error carrying the name.
func NewUnknownTable(name string) error {
	return fmt.Errorf("%q: %w", name, ErrUnknownTable)
}

// NewUnknownAggregation creates an unknown-aggregation error carrying the name.
func NewUnknownAggregation(name string) error {
	return fmt.Errorf("%q: %w", name, ErrUnknownAggregation)
}

// NewInvalidQuery creates an invalid-query error with a reason.
func NewInvalidQuery(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidQuery)
}

// NewInvalidRecord creates an invalid-record error with field context.
func NewInvalidRecord(field, reason string) error {
	return fmt.Errorf("%s: %s: %w", field, reason, ErrInvalidRecord)
}

// NewValidation creates a config validation error with field context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
