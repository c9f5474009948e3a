package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures surfaced by adapters and the orchestrator.
type ErrorKind string

const (
	// KindAuth marks a missing, expired, or rejected credential, or a CSRF
	// state mismatch. Never retried; the user must re-link the account.
	KindAuth ErrorKind = "auth"

	// KindValidation marks a payload rejected by upstream rules. Never
	// retried.
	KindValidation ErrorKind = "validation"

	// KindTransient marks a network failure or upstream 5xx. The whole job
	// is safe to retry, but nothing here retries automatically.
	KindTransient ErrorKind = "transient"

	// KindConfiguration marks a job that cannot start, e.g. no linked
	// account for the selected platform.
	KindConfiguration ErrorKind = "configuration"
)

// PlatformError is an error from one platform's pipeline. Message is the
// user-visible text shown in the publish queue.
type PlatformError struct {
	Kind     ErrorKind
	Platform Platform
	Message  string
	Err      error
}

// Error returns the user-visible message.
func (e *PlatformError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a credential/CSRF failure for the given platform.
func NewAuthError(platform Platform, format string, args ...any) *PlatformError {
	return &PlatformError{Kind: KindAuth, Platform: platform, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError creates an upstream-rejected-payload failure.
func NewValidationError(platform Platform, format string, args ...any) *PlatformError {
	return &PlatformError{Kind: KindValidation, Platform: platform, Message: fmt.Sprintf(format, args...)}
}

// NewTransientError wraps a network or upstream-5xx failure.
func NewTransientError(platform Platform, err error) *PlatformError {
	return &PlatformError{Kind: KindTransient, Platform: platform, Message: err.Error(), Err: err}
}

// NewConfigurationError creates a job-cannot-start failure.
func NewConfigurationError(platform Platform, format string, args ...any) *PlatformError {
	return &PlatformError{Kind: KindConfiguration, Platform: platform, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the error's kind, or KindTransient for errors that did not
// come from an adapter. Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// IsAuthError reports whether err is a credential/CSRF failure.
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuth
}
