package agent

import (
	"errors"
	"strings"
	"testing"
)

func TestToolErrorType_IsRetryable(t *testing.T) {
	tests := []struct {
		typ  ToolErrorType
		want bool
	}{
		{ToolErrorTimeout, true},
		{ToolErrorNetwork, true},
		{ToolErrorRateLimit, true},
		{ToolErrorNotFound, false},
		{ToolErrorInvalidInput, false},
		{ToolErrorPermission, false},
		{ToolErrorExecution, false},
		{ToolErrorUnknown, false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsRetryable(); got != tt.want {
			t.Errorf("%s.IsRetryable() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestToolError_Error(t *testing.T) {
	err := NewToolError("test_tool", errors.New("connection refused"))
	errStr := err.Error()
	for _, want := range []string{"tool:network", "test_tool"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error string %q should contain %q", errStr, want)
		}
	}
}

func TestNewToolError_Classification(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		wantType ToolErrorType
	}{
		{"timeout", "context deadline exceeded", ToolErrorTimeout},
		{"network", "connection refused", ToolErrorNetwork},
		{"rate_limit", "rate limit exceeded", ToolErrorRateLimit},
		{"permission", "permission denied", ToolErrorPermission},
		{"invalid", "invalid input parameter", ToolErrorInvalidInput},
		{"unknown", "some random error", ToolErrorExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewToolError("tool", errors.New(tt.errMsg))
			if err.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", err.Type, tt.wantType)
			}
		})
	}
}

func TestToolError_Unwrap(t *testing.T) {
	cause := errors.New("underlying cause")
	err := NewToolError("tool", cause)
	if !errors.Is(err, cause) {
		t.Error("should unwrap to underlying cause")
	}
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{ErrMaxTurns, ErrCancelled, ErrNoProvider, ErrToolNotFound, ErrToolTimeout}
	for _, err := range sentinels {
		if err == nil || err.Error() == "" {
			t.Errorf("sentinel %v should be non-nil with a message", err)
		}
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "intervalMs", Message: "must be >= 1000"}
	if !strings.Contains(err.Error(), "intervalMs") {
		t.Errorf("error should name the field, got %q", err.Error())
	}
}
