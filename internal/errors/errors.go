// Package errors provides a lightweight structured error type (PreviewError)
// for category-based classification and retry semantics across the pipeline.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a previewd error for classification.
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Remote sandbox integration errors
	CategorySandbox   ErrorCategory = "sandbox"
	CategoryTransport ErrorCategory = "transport"
	CategoryNetwork   ErrorCategory = "network"

	// Pipeline stage errors
	CategorySync    ErrorCategory = "sync"
	CategoryInstall ErrorCategory = "install"
	CategoryRuntime ErrorCategory = "runtime"

	// Infrastructure errors
	CategoryEventStore ErrorCategory = "eventstore"
	CategorySource     ErrorCategory = "source"
	CategoryDaemon     ErrorCategory = "daemon"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the current attempt
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded behavior
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// ContextFields carries structured context for PreviewError.
type ContextFields map[string]any

// PreviewError is a structured error with category, retryability, and context.
type PreviewError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *PreviewError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping.
func (e *PreviewError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *PreviewError) WithContext(key string, value any) *PreviewError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches an underlying cause.
func (e *PreviewError) WithCause(err error) *PreviewError {
	e.Cause = err
	return e
}

// New creates a new PreviewError.
func New(category ErrorCategory, severity ErrorSeverity, message string) *PreviewError {
	return &PreviewError{Category: category, Severity: severity, Message: message}
}

// Wrap creates a new PreviewError that wraps an existing error.
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PreviewError {
	return &PreviewError{Category: category, Severity: severity, Message: message, Cause: err}
}

// WrapRetryable creates a new retryable PreviewError that wraps an existing error.
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *PreviewError {
	return &PreviewError{Category: category, Severity: severity, Message: message, Cause: err, Retryable: true}
}

// IsCategory checks if an error belongs to a specific category.
func IsCategory(err error, category ErrorCategory) bool {
	if pe, ok := err.(*PreviewError); ok {
		return pe.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if pe, ok := err.(*PreviewError); ok {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or CategoryInternal when
// the error is not a PreviewError.
func GetCategory(err error) ErrorCategory {
	if pe, ok := err.(*PreviewError); ok {
		return pe.Category
	}
	return CategoryInternal
}
