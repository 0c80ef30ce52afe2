package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sschepis/oboto/pkg/models"
)

// ToolExecConfig configures the per-call timeout and retry behavior of a
// ToolExecutor. Tool execution runs sequentially over the model's
// returned tool calls, checking the cancellation handle before each one
// starts; this package has no concurrent execution path.
type ToolExecConfig struct {
	// PerCallTimeout bounds a single tool execution. Default: 30 seconds.
	PerCallTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1, no
	// retry).
	MaxAttempts int

	// RetryBackoff waits between retries of the same call.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns sensible defaults: a single attempt per
// call and a 30-second per-call timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		PerCallTimeout: 30 * time.Second,
		MaxAttempts:    1,
		RetryBackoff:   0,
	}
}

// ToolExecutor runs tool calls sequentially against a Gateway.
type ToolExecutor struct {
	gateway *Gateway
	config  ToolExecConfig
	logger  *slog.Logger
}

// NewToolExecutor creates a ToolExecutor over gateway. Zero-valued config
// fields fall back to DefaultToolExecConfig.
func NewToolExecutor(gateway *Gateway, config ToolExecConfig, logger *slog.Logger) *ToolExecutor {
	if config.PerCallTimeout <= 0 {
		config.PerCallTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{gateway: gateway, config: config, logger: logger.With("component", "tool_exec")}
}

// ToolExecResult pairs an executed call with its timing and outcome.
type ToolExecResult struct {
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartedAt time.Time
	EndedAt   time.Time
	TimedOut  bool
}

// ExecuteSequentially runs toolCalls one at a time, in order, checking
// aborted before each call starts: once aborted fires, every remaining
// call in the batch is short-circuited to a cancellation result without
// invoking the gateway. Results are returned in the same order as input.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, aborted func() bool, toolCalls []models.ToolCall) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	for i, tc := range toolCalls {
		if aborted != nil && aborted() {
			results[i] = ToolExecResult{
				ToolCall: tc,
				Result: models.ToolResult{
					ToolCallID: tc.ID,
					Content:    "Error: Tool execution cancelled by user.",
					IsError:    true,
				},
			}
			continue
		}
		results[i] = e.executeOne(ctx, tc)
	}

	return results
}

// executeOne runs a single call with the configured timeout and retry
// policy, stamping the returned result with the call's stable id.
func (e *ToolExecutor) executeOne(ctx context.Context, tc models.ToolCall) ToolExecResult {
	startedAt := time.Now()
	var result *ToolResult
	var timedOut bool

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		var done bool
		result, timedOut, done = e.attempt(ctx, tc)
		if done || !result.IsError {
			break
		}
		if attempt < e.config.MaxAttempts {
			e.logger.Warn("tool call failed, retrying", "tool", tc.Name, "tool_call_id", tc.ID, "attempt", attempt)
			if e.config.RetryBackoff > 0 {
				select {
				case <-time.After(e.config.RetryBackoff):
				case <-ctx.Done():
					attempt = e.config.MaxAttempts
				}
			}
		}
	}

	return ToolExecResult{
		ToolCall: tc,
		Result: models.ToolResult{
			ToolCallID: tc.ID,
			Content:    result.Content,
			IsError:    result.IsError,
		},
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		TimedOut:  timedOut,
	}
}

// attempt runs a single try of tc under a fresh per-call timeout. done is
// true when the caller should not retry regardless of MaxAttempts (a
// context cancellation or deadline rather than an ordinary tool error).
func (e *ToolExecutor) attempt(ctx context.Context, tc models.ToolCall) (result *ToolResult, timedOut bool, done bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.PerCallTimeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
	}
	resultCh := make(chan outcome, 1)

	go func() {
		res := e.gateway.Execute(callCtx, tc.Name, tc.Input)
		select {
		case resultCh <- outcome{result: res}:
		default:
			// callCtx already expired; the caller has moved on, log and drop.
			e.logger.Warn("tool call finished after timeout, result discarded", "tool", tc.Name, "tool_call_id", tc.ID)
		}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return &ToolResult{Content: fmt.Sprintf("Error: tool execution timed out after %v", e.config.PerCallTimeout), IsError: true}, true, true
		}
		return &ToolResult{Content: "Error: Tool execution cancelled by user.", IsError: true}, false, true
	case out := <-resultCh:
		return out.result, false, false
	}
}
