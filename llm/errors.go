package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeServer          ErrorType = "server"
	ErrorTypeProvider        ErrorType = "provider"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// StatusOverloaded is the non-standard status Anthropic returns when its API is overloaded.
const StatusOverloaded = 529

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRequestTooLarge
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  http.StatusTooManyRequests,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error. Shrinking the request is
// the caller's job, so it is not retried.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		Retryable:   false,
		StatusCode:  http.StatusRequestEntityTooLarge,
		ProviderErr: providerErr,
	}
}

// NewServerError creates a retryable error for a transient provider-side failure.
func NewServerError(message string, statusCode int, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeServer,
		Message:     message,
		Retryable:   true,
		StatusCode:  statusCode,
		ProviderErr: providerErr,
	}
}

// NewNetworkError creates a retryable connection error.
func NewNetworkError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewTimeoutError creates a retryable timeout error.
func NewTimeoutError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeTimeout,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// ClassifyStatus maps an HTTP status returned by a provider to an Error.
func ClassifyStatus(provider string, statusCode int, retryAfter *time.Duration, providerErr error) *Error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return NewRateLimitError(provider+" rate limit exceeded", retryAfter, providerErr)
	case http.StatusRequestEntityTooLarge:
		return NewRequestTooLargeError(provider+" request too large", providerErr)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, StatusOverloaded:
		return NewServerError(fmt.Sprintf("%s server error (%d)", provider, statusCode), statusCode, providerErr)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &Error{
			Type:        ErrorTypeInvalidRequest,
			Message:     provider + " rejected the request",
			StatusCode:  statusCode,
			ProviderErr: providerErr,
		}
	default:
		e := NewProviderError(fmt.Sprintf("%s API error (%d)", provider, statusCode), providerErr)
		e.StatusCode = statusCode
		return e
	}
}

// ClassifyTransportError maps errors that never produced an HTTP response. It returns nil
// when err is not a transport failure.
func ClassifyTransportError(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(provider+" request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTimeoutError(provider+" request timed out", err)
		}
		return NewNetworkError(provider+" connection failed", err)
	}
	return nil
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(h http.Header) *time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return &d
		}
	}
	return nil
}

// PayloadDecodeError is returned when a tool call payload cannot be resolved to an
// argument map.
type PayloadDecodeError struct {
	ID  string
	Err error
}

func (e *PayloadDecodeError) Error() string {
	return fmt.Sprintf("tool call %q: payload could not be converted to an object: %v", e.ID, e.Err)
}

func (e *PayloadDecodeError) Unwrap() error {
	return e.Err
}
