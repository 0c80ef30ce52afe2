package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Tool Gateway: a name→callable registry with unified
// execution, error normalization, and cancellation pass-through.

// MaxToolNameLength and MaxToolParamsSize bound request size to prevent
// resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// mcpToolPrefix identifies MCP-backed tools, resolved last in the name
// resolution order (explicit registration, then plugin tools, then
// mcp_*-prefixed tools).
const mcpToolPrefix = "mcp_"

// Gateway is the Tool Gateway: a name→callable registry with unified
// execution, error normalization, and cancellation pass-through.
type Gateway struct {
	mu      sync.RWMutex
	direct  map[string]Tool
	plugins map[string]Tool
	mcp     map[string]Tool
	denied  []string
}

// NewGateway creates an empty Tool Gateway.
func NewGateway() *Gateway {
	return &Gateway{
		direct:  make(map[string]Tool),
		plugins: make(map[string]Tool),
		mcp:     make(map[string]Tool),
	}
}

// Register adds a tool under explicit registration, the first-resolved
// category. If a tool with the same name already exists, it is replaced.
func (g *Gateway) Register(tool Tool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.direct[tool.Name()] = tool
}

// RegisterPlugin adds a tool under the plugin/custom-tool category,
// resolved after explicit registrations.
func (g *Gateway) RegisterPlugin(tool Tool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plugins[tool.Name()] = tool
}

// RegisterMCP adds an MCP-backed tool, resolved last. Names conventionally
// carry the "mcp_" prefix.
func (g *Gateway) RegisterMCP(tool Tool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mcp[tool.Name()] = tool
}

// Unregister removes name from every category.
func (g *Gateway) Unregister(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.direct, name)
	delete(g.plugins, name)
	delete(g.mcp, name)
}

// Get resolves name via the standard order: explicit registration, then
// plugin/custom tools, then MCP-prefixed tools.
func (g *Gateway) Get(name string) (Tool, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLocked(name)
}

func (g *Gateway) resolveLocked(name string) (Tool, bool) {
	if matchesToolPatterns(g.denied, name) {
		return nil, false
	}
	if t, ok := g.direct[name]; ok {
		return t, true
	}
	if t, ok := g.plugins[name]; ok {
		return t, true
	}
	if strings.HasPrefix(name, mcpToolPrefix) {
		if t, ok := g.mcp[name]; ok {
			return t, true
		}
	}
	return nil, false
}

// SetDeniedPatterns restricts which tool names the gateway will resolve
// or advertise to the model. Each pattern matches via matchesToolPatterns
// (an exact name, the "mcp_*" prefix wildcard, or a ".*" suffix
// wildcard); a nil or empty list denies nothing.
func (g *Gateway) SetDeniedPatterns(patterns []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.denied = patterns
}

// AsLLMTools returns every registered tool (across all categories) that
// does not match a denied pattern, in the wire-level schema shape passed
// to a Provider.
func (g *Gateway) AsLLMTools() []ToolSchema {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ToolSchema, 0, len(g.direct)+len(g.plugins)+len(g.mcp))
	for _, set := range []map[string]Tool{g.direct, g.plugins, g.mcp} {
		for _, t := range set {
			if matchesToolPatterns(g.denied, t.Name()) {
				continue
			}
			out = append(out, ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()})
		}
	}
	return out
}

// Execute resolves name and runs it, normalizing the outcome: arguments
// are unwrapped if double-encoded as a JSON string, and errors (thrown
// or ctx-cancelled) are folded into "Error: <message>" text
// rather than surfaced as a Go error, so callers never need a type switch
// to decide what goes in the tool-result message. The result carries no
// call id; ToolExecutor stamps it with the originating tool call's id.
func (g *Gateway) Execute(ctx context.Context, name string, params json.RawMessage) *ToolResult {
	if len(name) > MaxToolNameLength {
		return errorResult(fmt.Sprintf("Error: tool name exceeds maximum length of %d characters", MaxToolNameLength))
	}
	if len(params) > MaxToolParamsSize {
		return errorResult(fmt.Sprintf("Error: tool parameters exceed maximum size of %d bytes", MaxToolParamsSize))
	}

	tool, ok := g.Get(name)
	if !ok {
		return errorResult("Error: tool not found: " + name)
	}

	if err := ctx.Err(); err != nil {
		return errorResult("Error: Tool execution cancelled by user.")
	}

	result, err := tool.Execute(ctx, normalizeArgs(params))
	if err != nil {
		if ctx.Err() != nil {
			return errorResult("Error: Tool execution cancelled by user.")
		}
		return errorResult("Error: " + err.Error())
	}
	if result == nil {
		return &ToolResult{}
	}
	return result
}

// NewCallID assigns a fresh stable call id for correlating a tool
// execution back to its originating request.
func NewCallID() string { return uuid.NewString() }

// normalizeArgs accepts either a structured JSON object/array or a JSON
// string containing the real payload (some providers double-encode tool
// arguments as a string), unwrapping the latter so tools always see the
// same json.RawMessage shape.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(args))
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(args, &inner); err == nil {
			return json.RawMessage(inner)
		}
	}
	return args
}

func errorResult(content string) *ToolResult {
	return &ToolResult{Content: content, IsError: true}
}

// IsErrorOutput reports whether tool output text represents an error, per
// the gateway's structured convention: the trimmed content must begin with
// "error:", case insensitive. Tools and callers rely on this instead of
// substring-matching words like "failed" that produce false positives.
func IsErrorOutput(content string) bool {
	trimmed := strings.TrimSpace(content)
	return len(trimmed) >= 6 && strings.EqualFold(trimmed[:6], "error:")
}

// normalizeToolName canonicalizes a tool name for pattern matching (case
// folding only; callers needing resolver-aware canonicalization do that
// upstream of this package).
func normalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// matchesToolPatterns reports whether toolName matches any of patterns,
// supporting an "mcp_*" prefix wildcard and a ".*" suffix wildcard.
func matchesToolPatterns(patterns []string, toolName string) bool {
	if len(patterns) == 0 {
		return false
	}
	name := normalizeToolName(toolName)
	for _, pattern := range patterns {
		if matchToolPattern(normalizeToolName(pattern), name) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == mcpToolPrefix+"*" {
		return strings.HasPrefix(toolName, mcpToolPrefix)
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}
