// Package errors provides the error taxonomy shared by gomint packages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeNetwork represents transport-level failures
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeValidation represents rejected input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStorage represents persistence engine failures
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeWallet represents wallet daemon errors
	ErrorTypeWallet ErrorType = "wallet"
	// ErrorTypeChain represents chain node errors
	ErrorTypeChain ErrorType = "chain"
	// ErrorTypeMessaging represents event publishing errors
	ErrorTypeMessaging ErrorType = "messaging"
	// ErrorTypeConfig represents invalid or conflicting configuration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps an existing error with context. A wrapped ServiceError keeps its
// retryability; other causes are classified by type and message.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	retryable := isRetryableByType(errorType) || isRetryableByDefault(err)
	var se *ServiceError
	if errors.As(err, &se) {
		retryable = se.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		retryable = false
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

// isRetryableByType determines if an error type is generally retryable
func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeMessaging, ErrorTypeWallet, ErrorTypeChain:
		return true
	default:
		return false
	}
}

// isRetryableByDefault checks if an error is retryable based on common patterns
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"timeout",
		"temporary failure",
		"too many connections",
		"eof",
	}
	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}
	return false
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Type == errorType
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	if AsExit(err) != nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from a ServiceError
func GetContext(err error) map[string]interface{} {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}

// Process exit statuses.
const (
	ExitFatal          = 1
	ExitConfig         = 78
	ExitDisconnected   = 90
	ExitProfitFailsafe = 91
	ExitCalibration    = 92
)

// ExitError asks the process to terminate with a distinguished status.
// It is never retried.
type ExitError struct {
	Status int
	Reason string
	Cause  error
}

// Exit creates an ExitError
func Exit(status int, reason string, cause error) *ExitError {
	return &ExitError{Status: status, Reason: reason, Cause: cause}
}

// Error implements the error interface
func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("exit %d: %s: %v", e.Status, e.Reason, e.Cause)
	}
	return fmt.Sprintf("exit %d: %s", e.Status, e.Reason)
}

// Unwrap returns the underlying cause
func (e *ExitError) Unwrap() error {
	return e.Cause
}

// AsExit returns the ExitError in err's chain, or nil
func AsExit(err error) *ExitError {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee
	}
	return nil
}

// ExitStatus maps err to a process exit status: 0 for nil or cancellation,
// the carried status for ExitError, ExitConfig for configuration errors and
// ExitFatal otherwise.
func ExitStatus(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case AsExit(err) != nil:
		return AsExit(err).Status
	case IsType(err, ErrorTypeConfig):
		return ExitConfig
	default:
		return ExitFatal
	}
}
