// Package errors provides the standardized error taxonomy for the aptitude test client.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Scoring backend errors
const (
	ErrCodeUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeAlreadyCompleted   ErrorCode = "ALREADY_COMPLETED"
	ErrCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidAnswer      ErrorCode = "INVALID_ANSWER"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeServerError        ErrorCode = "SERVER_ERROR"
	ErrCodeNetworkUnavailable ErrorCode = "NETWORK_UNAVAILABLE"
)

// Local (client-side) errors
const (
	ErrCodeNoActiveSession  ErrorCode = "NO_ACTIVE_SESSION"
	ErrCodeQuestionMismatch ErrorCode = "QUESTION_MISMATCH"
	ErrCodeDuplicateAnswer  ErrorCode = "DUPLICATE_ANSWER"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Status    int                    `json:"status,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata returns the error with one metadata entry added.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewUnauthenticatedError creates a non-retryable authentication error.
func NewUnauthenticatedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthenticated,
		Message:   "Please log in to continue",
		Details:   details,
		Status:    401,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewForbiddenError creates a non-retryable permission error.
func NewForbiddenError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeForbidden,
		Message:   "You don't have permission to access this feature",
		Details:   details,
		Status:    403,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionNotFoundError creates a non-retryable missing session error.
func NewSessionNotFoundError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "Test session not found",
		Details:   details,
		Status:    404,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadyCompletedError creates a non-retryable completion mismatch error.
func NewAlreadyCompletedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlreadyCompleted,
		Message:   "You have already completed the aptitude test",
		Details:   details,
		Status:    400,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidRequestError creates a non-retryable bad request error.
func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   "Invalid request. Please try again",
		Details:   details,
		Status:    400,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidAnswerError creates a non-retryable answer shape error.
func NewInvalidAnswerError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidAnswer,
		Message:   "That answer is not valid for this question",
		Details:   details,
		Status:    400,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError creates a retryable throttling error.
func NewRateLimitedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Too many requests. Please wait and try again",
		Details:   details,
		Status:    429,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewServerError creates a retryable server-side error.
func NewServerError(status int, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeServerError,
		Message:   "Server error. Please try again later",
		Details:   details,
		Status:    status,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNetworkUnavailableError creates a retryable connectivity error.
func NewNetworkUnavailableError(err error) *StandardError {
	details := "no response from server"
	if err != nil {
		details = fmt.Sprintf("Network error: %s", err.Error())
	}
	return &StandardError{
		Code:      ErrCodeNetworkUnavailable,
		Message:   "Cannot connect to server. Please check your network connection",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoActiveSessionError is returned when a command needs a session that does not exist.
func NewNoActiveSessionError() *StandardError {
	return &StandardError{
		Code:      ErrCodeNoActiveSession,
		Message:   "No active test session",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQuestionMismatchError is returned when an answer targets a question that is not current.
func NewQuestionMismatchError(expected, got string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQuestionMismatch,
		Message:   "Answer does not match the current question",
		Details:   fmt.Sprintf("expected questionId: %s, got: %s", expected, got),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateAnswerError is returned when a question was already answered in this session.
func NewDuplicateAnswerError(questionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateAnswer,
		Message:   "Question already answered",
		Details:   fmt.Sprintf("questionId: %s", questionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Helpers
// ==========================

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// CodeOf returns the error code carried by err, or "" when err is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the presentation layer should offer a retry for err.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}
