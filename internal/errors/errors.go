package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Errors that end an analysis cycle
	ErrorTypeUpload         ErrorType = "upload"
	ErrorTypePoll           ErrorType = "poll"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeAnalysisFailed ErrorType = "analysis_failed"

	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
)

// Messages shown to the user when the service gives nothing better
const (
	MsgUploadFailed     = "Upload failed"
	MsgPollFailed       = "Failed to fetch results"
	MsgAnalysisTimeout  = "Analysis timeout - please try again"
	MsgAnalysisFailed   = "Analysis failed"
	MsgIncompleteResult = "Analysis returned incomplete results"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewUploadError reports a failed submit: network failure or service rejection
func NewUploadError(message string, cause error) *AppError {
	if message == "" {
		message = MsgUploadFailed
	}
	return &AppError{
		Type:       ErrorTypeUpload,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewPollError reports a single failed poll request
func NewPollError(message string, cause error) *AppError {
	if message == "" {
		message = MsgPollFailed
	}
	return &AppError{
		Type:       ErrorTypePoll,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	if message == "" {
		message = MsgAnalysisTimeout
	}
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

// NewAnalysisFailedError reports that the service marked the analysis as failed
func NewAnalysisFailedError(reason string) *AppError {
	if reason == "" {
		reason = MsgAnalysisFailed
	}
	return &AppError{
		Type:       ErrorTypeAnalysisFailed,
		Message:    reason,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// NewIncompleteResultError reports a completed payload that failed the schema guard
func NewIncompleteResultError(cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeAnalysisFailed,
		Message:    MsgIncompleteResult,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Cause:      cause,
	}
}

// NewConflictError reports an operation refused because a cycle is in flight
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// IsType checks if the error chain holds an AppError of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// UserMessage returns the text the error stage displays for err
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
