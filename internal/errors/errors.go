// Package errors provides a lightweight structured error type (TapTrackError)
// for category-based classification and retry semantics in the sync engine.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a TapTrack error for classification
type ErrorCategory string

const (
	// Capture-side conditions terminating at the tap
	CategoryClock ErrorCategory = "clock"
	CategoryTap   ErrorCategory = "tap"

	// Queue and persistence errors
	CategoryQueue   ErrorCategory = "queue"
	CategoryStorage ErrorCategory = "storage"

	// Remote store integration errors
	CategoryRemote ErrorCategory = "remote"

	// Runtime and infrastructure errors
	CategoryConfig   ErrorCategory = "config"
	CategoryDevice   ErrorCategory = "device"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// TapTrackError is a structured error with category, retryability, and context
type TapTrackError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for TapTrackError
type ContextFields map[string]any

// Error implements the error interface
func (e *TapTrackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *TapTrackError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *TapTrackError) WithContext(key string, value any) *TapTrackError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new TapTrackError
func New(category ErrorCategory, severity ErrorSeverity, message string) *TapTrackError {
	return &TapTrackError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new TapTrackError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *TapTrackError {
	return &TapTrackError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable TapTrackError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *TapTrackError {
	return &TapTrackError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable TapTrackError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *TapTrackError {
	return &TapTrackError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if te, ok := err.(*TapTrackError); ok {
		return te.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if te, ok := err.(*TapTrackError); ok {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a TapTrackError
func GetCategory(err error) ErrorCategory {
	if te, ok := err.(*TapTrackError); ok {
		return te.Category
	}
	return CategoryInternal
}
