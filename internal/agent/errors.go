package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for agent state-machine and tool-gateway operations,
// grouped into kinds: cancellation, transport, tool, validation,
// persistence, background. Cancellation and in-loop transport
// failures are the only kinds that propagate outward past this package.
var (
	// ErrMaxTurns indicates the actor-critic loop reached maxTurns without
	// a terminal decision; the caller sees the "could not complete" sentinel
	// response instead, this error never escapes the state machine.
	ErrMaxTurns = errors.New("agent: max turns exceeded")

	// ErrCancelled indicates the request's cancellation handle fired.
	ErrCancelled = errors.New("agent: request cancelled")

	// ErrNoProvider indicates no Model Client provider is configured.
	ErrNoProvider = errors.New("agent: no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist in the gateway.
	ErrToolNotFound = errors.New("agent: tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("agent: tool execution timed out")
)

// ToolErrorType categorizes tool execution errors for retry logic.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable returns true if this error type suggests retrying the
// underlying transport call (not the tool's own output) may succeed.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError is a structured error from tool execution, classified by the
// underlying Go error rather than by scanning tool output text (that
// classification belongs to the gateway's /^error:/i convention instead).
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Cause      error
}

func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError classifies cause and wraps it with the tool name.
func NewToolError(toolName string, cause error) *ToolError {
	return &ToolError{ToolName: toolName, Cause: cause, Type: classifyToolError(cause)}
}

func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(s, "connection") || strings.Contains(s, "network") || strings.Contains(s, "refused") || strings.Contains(s, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(s, "rate limit") || strings.Contains(s, "429") || strings.Contains(s, "too many requests"):
		return ToolErrorRateLimit
	case strings.Contains(s, "permission") || strings.Contains(s, "forbidden") || strings.Contains(s, "unauthorized"):
		return ToolErrorPermission
	case strings.Contains(s, "invalid") || strings.Contains(s, "required") || strings.Contains(s, "missing"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// ValidationError reports invalid caller input. It is never retried.
// scheduler.Create does not use it: its intervalMs < 1000 check returns a
// plain error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}
