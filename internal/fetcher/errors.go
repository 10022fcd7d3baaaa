package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorType is the category of a failed upstream call.
type ErrorType string

const (
	// ErrorTypeNetwork covers connection refused, DNS failures, resets.
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRateLimit is an HTTP 429 from the upstream.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeServer is any HTTP 5xx.
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient is an HTTP 4xx other than 408 and 429.
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeValidation means the body arrived but lacked required data.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout is a client-side deadline or an HTTP 408.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeUnknown is anything else, e.g. an unexpected 3xx.
	ErrorTypeUnknown ErrorType = "unknown"
)

// FetchError is returned by every fetcher in this module.
type FetchError struct {
	Source     string
	Type       ErrorType
	Retryable  bool
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := string(e.Type) + " error"
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	msg += ": " + e.Message
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// WithSource returns a copy of e attributed to the named upstream.
func (e *FetchError) WithSource(source string) *FetchError {
	c := *e
	c.Source = source
	return &c
}

// NewNetworkError creates a network error.
func NewNetworkError(cause error) *FetchError {
	return &FetchError{Type: ErrorTypeNetwork, Retryable: true, Message: "request failed", Cause: cause}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(statusCode int) *FetchError {
	return &FetchError{Type: ErrorTypeRateLimit, Retryable: true, StatusCode: statusCode, Message: "rate limit exceeded"}
}

// NewServerError creates a server error.
func NewServerError(statusCode int) *FetchError {
	return &FetchError{Type: ErrorTypeServer, Retryable: true, StatusCode: statusCode, Message: "upstream returned an error"}
}

// NewClientError creates a client error.
func NewClientError(statusCode int, message string) *FetchError {
	return &FetchError{Type: ErrorTypeClient, StatusCode: statusCode, Message: message}
}

// NewValidationError reports a well-formed response that is missing data
// the caller needs. Format and args follow fmt.Sprintf.
func NewValidationError(format string, args ...any) *FetchError {
	return &FetchError{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(cause error) *FetchError {
	return &FetchError{Type: ErrorTypeTimeout, Retryable: true, Message: "request timed out", Cause: cause}
}

// ClassifyHTTPError maps a non-2xx status code to a FetchError.
func ClassifyHTTPError(statusCode int) *FetchError {
	switch {
	case statusCode == http.StatusRequestTimeout:
		return &FetchError{Type: ErrorTypeTimeout, Retryable: true, StatusCode: statusCode, Message: "upstream timed out waiting for the request"}
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(statusCode)
	case statusCode >= 500:
		return NewServerError(statusCode)
	case statusCode >= 400:
		return NewClientError(statusCode, http.StatusText(statusCode))
	default:
		return &FetchError{Type: ErrorTypeUnknown, StatusCode: statusCode, Message: fmt.Sprintf("unexpected status code %d", statusCode)}
	}
}

// ClassifyRequestError wraps a transport-level error from the HTTP client.
func ClassifyRequestError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(err)
	}
	return NewNetworkError(err)
}

// IsRetryable reports whether err carries a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable
}
