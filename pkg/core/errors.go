// Package core holds shared types for the Warmline voice service.
package core

import (
	"fmt"
)

// Error represents an API error.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrUsageLimit     ErrorType = "usage_limit_error"
	ErrTranscription  ErrorType = "transcription_error"
	ErrGeneration     ErrorType = "generation_error"
	ErrSynthesis      ErrorType = "synthesis_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewUsageLimitError creates a daily usage budget error. retryAfter is
// the number of seconds until the budget resets.
func NewUsageLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrUsageLimit,
		Message:    message,
		Code:       "daily_limit_reached",
		RetryAfter: &retryAfter,
	}
}

// NewTranscriptionError wraps an STT failure. The upstream detail is kept
// for server-side logs only; Message is safe to return to clients.
func NewTranscriptionError(underlying error) *Error {
	return &Error{
		Type:    ErrTranscription,
		Message: "transcription failed",
		Code:    "stt_failed",
		cause:   underlying,
	}
}

// NewGenerationError wraps an LLM failure.
func NewGenerationError(underlying error) *Error {
	return &Error{
		Type:    ErrGeneration,
		Message: "reply generation failed",
		Code:    "llm_failed",
		cause:   underlying,
	}
}

// NewSynthesisError wraps a TTS failure.
func NewSynthesisError(underlying error) *Error {
	return &Error{
		Type:    ErrSynthesis,
		Message: "speech synthesis failed",
		Code:    "tts_failed",
		cause:   underlying,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewOverloadedError creates an overloaded error.
func NewOverloadedError(message string) *Error {
	return &Error{
		Type:    ErrOverloaded,
		Message: message,
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.cause
}
