package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrProviderUnavailable        = errors.New("provider unavailable")
	ErrProviderTimeout            = errors.New("provider timeout")
	ErrProviderAuthFailure        = errors.New("provider authentication failure")
	ErrProviderBadRequest         = errors.New("provider bad request")
	ErrStoreUnavailable           = errors.New("store unavailable")
	ErrNotificationDeliveryFailed = errors.New("notification delivery failed")
	ErrConfigurationMissing       = errors.New("configuration missing")
	ErrNotFound                   = errors.New("not found")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeProviderUnavailable ErrorType = "provider_unavailable"
	ErrorTypeProviderTimeout     ErrorType = "provider_timeout"
	ErrorTypeProviderAuth        ErrorType = "provider_auth"
	ErrorTypeProviderBadRequest  ErrorType = "provider_bad_request"
	ErrorTypeStore               ErrorType = "store"
	ErrorTypeNotification        ErrorType = "notification"
	ErrorTypeConfiguration       ErrorType = "configuration"
	ErrorTypeInternal            ErrorType = "internal"
)

// GovernanceError is a structured error for governance operations
type GovernanceError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "disable_account", "drain_notifications")
	Subject    string // User or account the operation targeted
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *GovernanceError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *GovernanceError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *GovernanceError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrProviderUnavailable:
		return e.Type == ErrorTypeProviderUnavailable
	case ErrProviderTimeout:
		return e.Type == ErrorTypeProviderTimeout
	case ErrProviderAuthFailure:
		return e.Type == ErrorTypeProviderAuth
	case ErrProviderBadRequest:
		return e.Type == ErrorTypeProviderBadRequest
	case ErrStoreUnavailable:
		return e.Type == ErrorTypeStore
	case ErrNotificationDeliveryFailed:
		return e.Type == ErrorTypeNotification
	case ErrConfigurationMissing:
		return e.Type == ErrorTypeConfiguration
	}

	return errors.Is(e.Err, target)
}

// NewGovernanceError creates a new GovernanceError
func NewGovernanceError(errorType ErrorType, op, subject string, err error) *GovernanceError {
	return &GovernanceError{
		Type:      errorType,
		Op:        op,
		Subject:   subject,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

// WithStatusCode adds HTTP status code to the error
func (e *GovernanceError) WithStatusCode(code int) *GovernanceError {
	e.StatusCode = code
	// Update retryable based on status code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// isRetryable determines if an error class should be retried
func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeProviderUnavailable, ErrorTypeProviderTimeout:
		return true
	default:
		return false
	}
}

// Helper functions

// WrapProviderError wraps a provider error with operation context
func WrapProviderError(errorType ErrorType, op, subject string, err error) error {
	return NewGovernanceError(errorType, op, subject, err)
}

// WrapStoreError wraps a persistence error with operation context
func WrapStoreError(op string, err error) error {
	return NewGovernanceError(ErrorTypeStore, op, "", err)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var govErr *GovernanceError
	if errors.As(err, &govErr) {
		return govErr.Retryable
	}

	return errors.Is(err, ErrProviderTimeout) || errors.Is(err, ErrProviderUnavailable)
}

// IsAuthError checks if an error is a provider authentication error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var govErr *GovernanceError
	if errors.As(err, &govErr) {
		if govErr.Type == ErrorTypeProviderAuth {
			return true
		}
		if govErr.StatusCode == 401 || govErr.StatusCode == 403 {
			return true
		}
	}

	return errors.Is(err, ErrProviderAuthFailure)
}
