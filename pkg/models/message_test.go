package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleSystem, "system"},
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleTool, "tool"},
	}
	for _, tt := range tests {
		if string(tt.constant) != tt.expected {
			t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
		}
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	original := Message{
		Role:      RoleAssistant,
		Content:   "Hello!",
		ToolCalls: []ToolCall{{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"test"}`)}},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.Role != original.Role {
		t.Errorf("Role = %v, want %v", decoded.Role, original.Role)
	}
	if len(decoded.ToolCalls) != 1 || decoded.ToolCalls[0].Name != "search" {
		t.Errorf("ToolCalls = %+v, want one call named search", decoded.ToolCalls)
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{ToolCallID: "tc-123", Content: "Search results here"}
	if tr.IsError {
		t.Error("IsError should default false")
	}

	trError := ToolResult{ToolCallID: "tc-456", Content: "Error occurred", IsError: true}
	if !trError.IsError {
		t.Error("IsError should be true")
	}
}

func TestNewCompletedAction_ExactBoundary(t *testing.T) {
	output := strings.Repeat("a", maxActionSummaryLen)
	action := NewCompletedAction("list_dir", ActionSuccess, output)
	if action.Summary != output {
		t.Errorf("summary at exact boundary should be untouched, got len %d", len(action.Summary))
	}
	if strings.HasSuffix(action.Summary, summaryEllipsis) {
		t.Error("summary at exact boundary must not carry an ellipsis marker")
	}
}

func TestNewCompletedAction_OverBoundary(t *testing.T) {
	output := strings.Repeat("b", maxActionSummaryLen+1)
	action := NewCompletedAction("list_dir", ActionSuccess, output)
	if !strings.HasSuffix(action.Summary, summaryEllipsis) {
		t.Errorf("summary over boundary must end with ellipsis marker, got %q", action.Summary)
	}
	runes := []rune(action.Summary)
	if len(runes) != maxActionSummaryLen+1 {
		t.Errorf("summary length = %d, want %d (150 chars + ellipsis)", len(runes), maxActionSummaryLen+1)
	}
}

func TestNewCompletedAction_Status(t *testing.T) {
	success := NewCompletedAction("web_search", ActionSuccess, "ok")
	if success.Status != ActionSuccess {
		t.Errorf("Status = %v, want success", success.Status)
	}
	failure := NewCompletedAction("web_search", ActionError, "error: boom")
	if failure.Status != ActionError {
		t.Errorf("Status = %v, want error", failure.Status)
	}
}
