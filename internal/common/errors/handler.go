// internal/common/errors/handler.go
package errors

import (
	"net/http"
	"strings"
)

// alreadyCompletedMarker is the server message that distinguishes a completed test from a generic 400.
const alreadyCompletedMarker = "already completed"

// FromHTTPStatus maps a non-2xx scoring backend response onto the error taxonomy.
// serverMessage is the "error" field of the response body, if any. answerSubmission
// selects INVALID_ANSWER over INVALID_REQUEST for plain 400s.
func FromHTTPStatus(status int, serverMessage string, answerSubmission bool) *StandardError {
	switch {
	case status == http.StatusUnauthorized:
		return NewUnauthenticatedError(serverMessage)
	case status == http.StatusForbidden:
		return NewForbiddenError(serverMessage)
	case status == http.StatusNotFound:
		return NewSessionNotFoundError(serverMessage)
	case status == http.StatusBadRequest:
		if strings.Contains(strings.ToLower(serverMessage), alreadyCompletedMarker) {
			return NewAlreadyCompletedError(serverMessage)
		}
		if answerSubmission {
			return NewInvalidAnswerError(serverMessage)
		}
		return NewInvalidRequestError(serverMessage)
	case status == http.StatusTooManyRequests:
		return NewRateLimitedError(serverMessage)
	case status >= 500:
		return NewServerError(status, serverMessage)
	default:
		e := NewInvalidRequestError(serverMessage)
		e.Status = status
		return e
	}
}

// GetErrorCategory groups codes for logging and for deciding which recovery path to offer.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeUnauthenticated, ErrCodeForbidden:
		return "auth"
	case ErrCodeNetworkUnavailable, ErrCodeServerError, ErrCodeRateLimited:
		return "transient"
	case ErrCodeNoActiveSession, ErrCodeQuestionMismatch, ErrCodeDuplicateAnswer:
		return "client"
	case ErrCodeInternal:
		return "internal"
	default:
		return "request"
	}
}

// ErrorHandler logs errors in a uniform shape.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle normalizes err, logs it against the operation that produced it, and returns the normalized form.
func (h *ErrorHandler) Handle(operation string, err error) *StandardError {
	stdErr := Normalize(err)
	if stdErr == nil {
		return nil
	}

	h.logger.Error("operation failed", map[string]interface{}{
		"operation":     operation,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"status":        stdErr.Status,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	})
	return stdErr
}
