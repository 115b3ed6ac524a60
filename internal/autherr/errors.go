package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is the stable machine-readable error identifier exposed to callers.
type Code string

const (
	CodeInvalidPhoneNumber  Code = "INVALID_PHONE_NUMBER"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeOTPSendFailed       Code = "OTP_SEND_FAILED"
	CodeInvalidOTP          Code = "INVALID_OTP"
	CodeOTPExpired          Code = "OTP_EXPIRED"
	CodeMaxAttemptsExceeded Code = "MAX_ATTEMPTS_EXCEEDED"
	CodeUserNotFound        Code = "USER_NOT_FOUND"
	CodeUserAlreadyExists   Code = "USER_ALREADY_EXISTS"
	CodeSessionExpired      Code = "SESSION_EXPIRED"
	CodeInvalidSession      Code = "INVALID_SESSION"
	CodeProviderError       Code = "PROVIDER_ERROR"
	CodeStoreUnavailable    Code = "STORE_UNAVAILABLE"
	CodeConfiguration       Code = "CONFIGURATION_ERROR"
)

// Error carries a stable code plus a human-readable message. The wrapped
// cause stays server-side; responses expose only Code and Message.
type Error struct {
	Code    Code
	Message string
	// RetryAfter, when non-zero, is the minimum backoff before the caller
	// should retry. Surfaced over HTTP as a Retry-After header.
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithRetryAfter attaches a backoff hint to the error.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// RetryAfterOf returns the backoff hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// CodeOf extracts the taxonomy code from err, or empty when err is not ours.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// Is lets errors.Is match on code equality.
func (e *Error) Is(target error) bool {
	var ae *Error
	if errors.As(target, &ae) {
		return e.Code == ae.Code
	}
	return false
}

// HTTPStatus maps taxonomy codes onto HTTP statuses: validation and
// rate-limit failures are 4xx and not retryable, provider and store failures
// are 5xx and caller-retryable.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidPhoneNumber, CodeInvalidOTP:
		return http.StatusBadRequest
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeOTPExpired, CodeMaxAttemptsExceeded:
		return http.StatusGone
	case CodeUserNotFound:
		return http.StatusNotFound
	case CodeUserAlreadyExists:
		return http.StatusConflict
	case CodeSessionExpired, CodeInvalidSession:
		return http.StatusUnauthorized
	case CodeProviderError, CodeOTPSendFailed:
		return http.StatusBadGateway
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may usefully retry the same request.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeProviderError, CodeOTPSendFailed, CodeStoreUnavailable:
		return true
	default:
		return false
	}
}
