package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidRequest,
		Message: "title is required",
	}

	expected := "invalid_request_error: title is required"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := NewConnectionError("max reconnection attempts exceeded", false, nil).WithCode("STT_CONNECTION_ERROR")

	expected := "connection_error: max reconnection attempts exceeded (code: STT_CONNECTION_ERROR)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewConfigurationError_NotRecoverable(t *testing.T) {
	err := NewConfigurationError("OPENAI_API_KEY is not set")
	if err.Type != ErrConfiguration {
		t.Errorf("Type = %v, want %v", err.Type, ErrConfiguration)
	}
	if err.Recoverable {
		t.Errorf("configuration errors must not be recoverable")
	}
	if err.IsRetryable() {
		t.Errorf("configuration errors must not be retryable")
	}
}

func TestNewJudgeFailure_WrapsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := NewJudgeFailure("topic", cause)

	if err.Type != ErrJudgeFailure {
		t.Errorf("Type = %v, want %v", err.Type, ErrJudgeFailure)
	}
	if err.Param != "topic" {
		t.Errorf("Param = %q, want topic", err.Param)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the cause")
	}
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{NewConnectionError("closed", true, nil), true},
		{NewConnectionError("exhausted", false, nil), false},
		{NewProtocolError("bad json", nil), true},
		{NewAPIError("upstream"), true},
		{NewInvalidRequestError("bad"), false},
		{NewNotFoundError("missing"), false},
		{NewConflictError("busy"), false},
		{NewRateLimitError("slow down", 2), true},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Type), func(t *testing.T) {
			if got := tt.err.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAsError_ThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("connect: %w", NewConfigurationError("missing key"))

	ce, ok := AsError(wrapped)
	if !ok {
		t.Fatalf("expected AsError to find *Error")
	}
	if ce.Type != ErrConfiguration {
		t.Fatalf("Type = %v", ce.Type)
	}
	if !IsType(wrapped, ErrConfiguration) {
		t.Fatalf("IsType returned false")
	}
	if IsType(errors.New("plain"), ErrConfiguration) {
		t.Fatalf("IsType matched a plain error")
	}
}

func TestNewRateLimitError_RetryAfter(t *testing.T) {
	if e := NewRateLimitError("slow down", 3); e.RetryAfter == nil || *e.RetryAfter != 3 {
		t.Fatalf("RetryAfter = %v, want 3", e.RetryAfter)
	}
	if e := NewRateLimitError("slow down", 0); e.RetryAfter != nil {
		t.Fatalf("RetryAfter = %v, want nil", *e.RetryAfter)
	}
}
