package agent

import (
	"context"
	"encoding/json"

	"github.com/sschepis/oboto/pkg/models"
)

// Provider is the external Model Client transport collaborator:
// implementations own the HTTP/stream parsing to a specific LLM API and
// present this narrow interface to the Model Client.
type Provider interface {
	// Complete performs a single non-streaming request, returning the
	// transport-level shape {choices:[{message:{content, tool_calls?}}]}
	// reduced to its first choice.
	Complete(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error)

	// Stream performs a streaming request, delivering incremental text and
	// tool-call-delta chunks. The channel is closed when the stream ends
	// (sentinel "[DONE]") or ctx is done.
	Stream(ctx context.Context, req *ProviderRequest) (<-chan ProviderChunk, error)

	// Name identifies the provider for logging and API-key resolution.
	Name() string
}

// ProviderRequest is the wire-agnostic request passed to a Provider.
type ProviderRequest struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int

	// ResponseSchema, when non-nil, is the JSON Schema the answer must
	// satisfy. OpenAIProvider attaches it as a strict
	// response_format.json_schema only; it sets no response_format.schema.
	ResponseSchema json.RawMessage
}

// ToolSchema is the tool catalog entry shape handed to a Provider: name,
// description, and JSON Schema for its arguments.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ProviderResponse is a single non-streaming completion result.
type ProviderResponse struct {
	Content   string
	ToolCalls []models.ToolCall
}

// ToolCallDelta is a streamed fragment of a tool call, reassembled by Index:
// the id arrives on the first fragment for that index, and Arguments
// fragments are concatenated across chunks with the same index.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ProviderChunk is a single streamed unit from Provider.Stream.
type ProviderChunk struct {
	Text      string
	ToolDelta *ToolCallDelta
	Done      bool
	Error     error
}

// Tool is the Tool Gateway's callable contract:
// (args, {signal}) → string | object. Implementations parse their own
// arguments from the json.RawMessage and return a ToolResult; a returned
// error is normalized by the gateway into "Error: <message>" text.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool's raw output before gateway normalization.
type ToolResult struct {
	Content string
	IsError bool
}
