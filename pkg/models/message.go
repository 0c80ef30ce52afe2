// Package models holds the wire-level data types shared across the runtime:
// conversation messages, tool-call stubs, and tool results.
package models

import "encoding/json"

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation's append-only history.
//
// A tool message must follow the assistant message that declared the
// ToolCallID it answers; ordering within a conversation is strictly
// append-only.
type Message struct {
	Role Role `json:"role"`

	// Content is the message's textual content; possibly empty for an
	// assistant message that only carries tool calls.
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that invoke one or more tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on role=tool messages, identifying
	// which call this message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a stable-id request from the model to invoke a named tool.
// Input is either a structured JSON object or, for providers that stream
// it incrementally, an unparsed string accumulated across chunks.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`

	// RawInput holds the unparsed argument string when Input has not yet
	// been (or could not be) parsed as JSON, e.g. mid-stream reassembly.
	RawInput string `json:"raw_input,omitempty"`
}

// ToolResult is the normalized output of a tool execution, correlated to
// its originating call by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ActionStatus is the outcome of a single completed tool call.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionError   ActionStatus = "error"
)

// maxActionSummaryLen bounds CompletedAction.Summary:
// length 150 keeps the summary untruncated; 151+ is cut to 150 chars
// with a trailing ellipsis marker.
const maxActionSummaryLen = 150

const summaryEllipsis = "…"

// CompletedAction records one finished tool call for display in the next
// turn's prompt and for the Request Context's action tally.
type CompletedAction struct {
	Tool    string       `json:"tool"`
	Status  ActionStatus `json:"status"`
	Summary string       `json:"summary"`
}

// NewCompletedAction builds a CompletedAction from raw tool output, truncating
// Summary to maxActionSummaryLen runes with an ellipsis marker when longer.
func NewCompletedAction(tool string, status ActionStatus, output string) CompletedAction {
	runes := []rune(output)
	summary := output
	if len(runes) > maxActionSummaryLen {
		summary = string(runes[:maxActionSummaryLen]) + summaryEllipsis
	}
	return CompletedAction{Tool: tool, Status: status, Summary: summary}
}

// ActionErrorEntry pairs a tool name with its surfaced error text.
type ActionErrorEntry struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
}
