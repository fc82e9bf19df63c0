package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Class buckets every integration failure into one of the handling
// strategies used by the services: retry, surface, or transition state.
type Class string

const (
	ClassValidation          Class = "validation"
	ClassAuthentication      Class = "authentication"
	ClassProviderUnavailable Class = "provider_unavailable"
	ClassRateLimit           Class = "rate_limit"
	ClassConflict            Class = "conflict"
	ClassNotFound            Class = "not_found"
	ClassWebhookVerification Class = "webhook_verification"
)

// Error is the only error type that crosses a service boundary. Provider
// adapters map raw transport errors into it before returning.
type Error struct {
	Class   Class
	Message string
	// RetryAfter is set when the provider supplied a Retry-After hint (429s).
	RetryAfter time.Duration
	// Permanent marks an authentication failure as a revocation rather
	// than an expiry (e.g. OAuth invalid_grant).
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(class Class, format string, args ...interface{}) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(ClassValidation, format, args...)
}

func Authentication(format string, args ...interface{}) *Error {
	return newf(ClassAuthentication, format, args...)
}

func Unavailable(format string, args ...interface{}) *Error {
	return newf(ClassProviderUnavailable, format, args...)
}

func RateLimited(retryAfter time.Duration, format string, args ...interface{}) *Error {
	e := newf(ClassRateLimit, format, args...)
	e.RetryAfter = retryAfter
	return e
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(ClassConflict, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(ClassNotFound, format, args...)
}

func WebhookVerification(format string, args ...interface{}) *Error {
	return newf(ClassWebhookVerification, format, args...)
}

// Wrap attaches a cause while keeping the class.
func Wrap(class Class, err error, format string, args ...interface{}) *Error {
	e := newf(class, format, args...)
	e.Err = err
	return e
}

// ClassOf returns the taxonomy class of err, or "" for untyped errors.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

func is(err error, class Class) bool {
	return ClassOf(err) == class
}

func IsValidation(err error) bool     { return is(err, ClassValidation) }
func IsAuthentication(err error) bool { return is(err, ClassAuthentication) }
func IsUnavailable(err error) bool    { return is(err, ClassProviderUnavailable) }
func IsRateLimit(err error) bool      { return is(err, ClassRateLimit) }
func IsConflict(err error) bool       { return is(err, ClassConflict) }
func IsNotFound(err error) bool       { return is(err, ClassNotFound) }

// IsRetryable reports whether the orchestrator should attempt the call again.
func IsRetryable(err error) bool {
	c := ClassOf(err)
	return c == ClassProviderUnavailable || c == ClassRateLimit
}

// IsPermanentAuth reports an authentication failure the provider signalled as
// a revocation rather than a recoverable expiry.
func IsPermanentAuth(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassAuthentication && e.Permanent
	}
	return false
}

// RetryAfterOf extracts the provider's Retry-After hint, zero if absent.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
