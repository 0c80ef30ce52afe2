package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeTool struct {
	name    string
	result  *ToolResult
	err     error
	lastArg json.RawMessage
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool" }
func (f *fakeTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	f.lastArg = args
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestGateway_ResolutionOrder(t *testing.T) {
	g := NewGateway()
	g.RegisterMCP(&fakeTool{name: "mcp_search", result: &ToolResult{Content: "mcp"}})
	g.RegisterPlugin(&fakeTool{name: "search", result: &ToolResult{Content: "plugin"}})
	g.Register(&fakeTool{name: "search", result: &ToolResult{Content: "direct"}})

	tool, ok := g.Get("search")
	if !ok {
		t.Fatal("expected search to resolve")
	}
	got := g.Execute(context.Background(), "search", nil)
	if got.Content != "direct" {
		t.Errorf("Content = %q, want %q (explicit registration wins)", got.Content, "direct")
	}
	_ = tool

	mcpResult := g.Execute(context.Background(), "mcp_search", nil)
	if mcpResult.Content != "mcp" {
		t.Errorf("mcp_search Content = %q, want %q", mcpResult.Content, "mcp")
	}
}

func TestGateway_SetDeniedPatterns_BlocksResolutionAndListing(t *testing.T) {
	g := NewGateway()
	g.Register(&fakeTool{name: "search", result: &ToolResult{Content: "direct"}})
	g.RegisterMCP(&fakeTool{name: "mcp_search", result: &ToolResult{Content: "mcp"}})

	g.SetDeniedPatterns([]string{"mcp_*"})

	if _, ok := g.Get("search"); !ok {
		t.Error("expected search to still resolve")
	}
	if _, ok := g.Get("mcp_search"); ok {
		t.Error("expected mcp_search to be denied")
	}

	res := g.Execute(context.Background(), "mcp_search", nil)
	if !res.IsError || res.Content != "Error: tool not found: mcp_search" {
		t.Errorf("Execute(mcp_search) = %+v, want denied as not-found", res)
	}

	schemas := g.AsLLMTools()
	for _, s := range schemas {
		if s.Name == "mcp_search" {
			t.Errorf("AsLLMTools should not advertise denied tool mcp_search, got %+v", schemas)
		}
	}
}

func TestGateway_Execute_NotFound(t *testing.T) {
	g := NewGateway()
	res := g.Execute(context.Background(), "missing", nil)
	if !res.IsError || res.Content != "Error: tool not found: missing" {
		t.Errorf("got %+v", res)
	}
}

func TestGateway_Execute_ErrorNormalized(t *testing.T) {
	g := NewGateway()
	g.Register(&fakeTool{name: "boom", err: errors.New("kaboom")})
	res := g.Execute(context.Background(), "boom", nil)
	if !res.IsError || res.Content != "Error: kaboom" {
		t.Errorf("got %+v", res)
	}
}

func TestGateway_Execute_CancelledBeforeStart(t *testing.T) {
	g := NewGateway()
	g.Register(&fakeTool{name: "t", result: &ToolResult{Content: "ok"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := g.Execute(ctx, "t", nil)
	if !res.IsError || res.Content != "Error: Tool execution cancelled by user." {
		t.Errorf("got %+v", res)
	}
}

func TestGateway_Execute_UnwrapsDoubleEncodedArgs(t *testing.T) {
	g := NewGateway()
	tool := &fakeTool{name: "t", result: &ToolResult{Content: "ok"}}
	g.Register(tool)
	raw := json.RawMessage(`"{\"x\":1}"`)
	g.Execute(context.Background(), "t", raw)
	if string(tool.lastArg) != `{"x":1}` {
		t.Errorf("lastArg = %s, want unwrapped object", tool.lastArg)
	}
}

func TestGateway_Execute_NameTooLong(t *testing.T) {
	g := NewGateway()
	name := make([]byte, MaxToolNameLength+1)
	for i := range name {
		name[i] = 'a'
	}
	res := g.Execute(context.Background(), string(name), nil)
	if !res.IsError {
		t.Error("expected error for oversized tool name")
	}
}

func TestIsErrorOutput(t *testing.T) {
	cases := map[string]bool{
		"Error: boom":    true,
		"error: boom":    true,
		"ERROR: boom":    true,
		"boom":           false,
		"this error too": false,
	}
	for in, want := range cases {
		if got := IsErrorOutput(in); got != want {
			t.Errorf("IsErrorOutput(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMatchesToolPatterns(t *testing.T) {
	if !matchesToolPatterns([]string{"mcp_*"}, "mcp_search") {
		t.Error("mcp_* should match mcp_search")
	}
	if !matchesToolPatterns([]string{"file.*"}, "file.read") {
		t.Error("file.* should match file.read")
	}
	if matchesToolPatterns([]string{"file.*"}, "web_search") {
		t.Error("file.* should not match web_search")
	}
	if !matchesToolPatterns([]string{"web_search"}, "web_search") {
		t.Error("exact pattern should match")
	}
}
