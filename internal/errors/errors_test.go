package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructors_DefaultMessages(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		errType    ErrorType
		message    string
		statusCode int
	}{
		{"upload fallback", NewUploadError("", nil), ErrorTypeUpload, MsgUploadFailed, http.StatusBadGateway},
		{"upload service message", NewUploadError("file too large", nil), ErrorTypeUpload, "file too large", http.StatusBadGateway},
		{"poll fallback", NewPollError("", nil), ErrorTypePoll, MsgPollFailed, http.StatusBadGateway},
		{"timeout fallback", NewTimeoutError("", nil), ErrorTypeTimeout, MsgAnalysisTimeout, http.StatusGatewayTimeout},
		{"analysis failed fallback", NewAnalysisFailedError(""), ErrorTypeAnalysisFailed, MsgAnalysisFailed, http.StatusUnprocessableEntity},
		{"analysis failed reason", NewAnalysisFailedError("corrupt image"), ErrorTypeAnalysisFailed, "corrupt image", http.StatusUnprocessableEntity},
		{"incomplete result", NewIncompleteResultError(nil), ErrorTypeAnalysisFailed, MsgIncompleteResult, http.StatusUnprocessableEntity},
		{"conflict", NewConflictError("busy"), ErrorTypeConflict, "busy", http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.errType {
				t.Errorf("Expected type %s, got %s", tt.errType, tt.err.Type)
			}
			if tt.err.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, tt.err.Message)
			}
			if tt.err.StatusCode != tt.statusCode {
				t.Errorf("Expected status %d, got %d", tt.statusCode, tt.err.StatusCode)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	err := NewPollError("", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("Expected poll error to unwrap to its cause")
	}

	wrapped := fmt.Errorf("cycle 3: %w", err)
	if !IsType(wrapped, ErrorTypePoll) {
		t.Error("Expected IsType to look through wrapping")
	}
	if GetStatusCode(wrapped) != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", GetStatusCode(wrapped))
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(nil); got != "" {
		t.Errorf("Expected empty message for nil, got %q", got)
	}
	if got := UserMessage(NewAnalysisFailedError("corrupt image")); got != "corrupt image" {
		t.Errorf("Expected service reason, got %q", got)
	}
	if got := UserMessage(errors.New("boom")); got != "boom" {
		t.Errorf("Expected plain error text, got %q", got)
	}
	if GetStatusCode(errors.New("boom")) != http.StatusInternalServerError {
		t.Error("Expected plain errors to map to 500")
	}
}
