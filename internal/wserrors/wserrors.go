// Package wserrors provides classified errors so callers can distinguish the one
// fatal failure mode (durable store unreachable at boot) from the runtime store
// failures that are logged and absorbed.
package wserrors

import "fmt"

// Category represents the broad category of an error for classification and routing.
type Category string

const (
	CategoryConfig Category = "config"
	CategoryStore  Category = "store"
	CategoryEvents Category = "events"
	CategoryDaemon Category = "daemon"
)

// Severity indicates the impact level of an error.
type Severity string

const (
	// SeverityFatal stops execution completely; only boot-time store
	// connectivity failures carry it.
	SeverityFatal Severity = "fatal"
	SeverityError Severity = "error"
)

// ClassifiedError is a structured error with category and severity.
type ClassifiedError struct {
	category Category
	severity Severity
	message  string
	cause    error
}

// New creates a classified error without a cause.
func New(category Category, severity Severity, message string) *ClassifiedError {
	return &ClassifiedError{category: category, severity: severity, message: message}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(category Category, severity Severity, message string, cause error) *ClassifiedError {
	return &ClassifiedError{category: category, severity: severity, message: message, cause: cause}
}

// Error implements the standard error interface.
func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.category, e.severity, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.category, e.severity, e.message)
}

// Unwrap implements Go 1.13+ error unwrapping.
func (e *ClassifiedError) Unwrap() error { return e.cause }

// Category returns the error category.
func (e *ClassifiedError) Category() Category { return e.category }

// Severity returns the error severity.
func (e *ClassifiedError) Severity() Severity { return e.severity }

// IsFatal checks if the error is fatal (should stop execution).
func (e *ClassifiedError) IsFatal() bool { return e.severity == SeverityFatal }

// IsFatal reports whether err is (or wraps) a fatal classified error.
func IsFatal(err error) bool {
	var ce *ClassifiedError
	for err != nil {
		var ok bool
		if ce, ok = err.(*ClassifiedError); ok {
			return ce.IsFatal()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
