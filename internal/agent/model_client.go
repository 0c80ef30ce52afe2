package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sschepis/oboto/internal/history"
	"github.com/sschepis/oboto/pkg/models"
)

// defaultTimeout is the deadline every Model Client request is raced
// against, absent an override.
const defaultTemperature = 0.7
const defaultTimeout = 120 * time.Second

// noResponsePlaceholder substitutes for a provider response carrying
// neither content nor tool calls, so history is never left holding an
// empty assistant turn.
const noResponsePlaceholder = "[no response generated]"

// jsonOnlySuffix is appended to a schema-less JSON-format prompt to coax
// plain-JSON output from providers with no native JSON mode.
const jsonOnlySuffix = "\n\nRespond with valid JSON only, no other text."

// Answer is the Model Client's result shape: exactly one of Text, JSON, or
// ToolCalls is meaningful, decided by the request's Format and the
// provider's response.
type Answer struct {
	Text      string
	JSON      map[string]any
	ToolCalls []models.ToolCall
}

// AskOptions configures a single ask/askWithMessages call.
type AskOptions struct {
	Format         ReqFormat
	Schema         json.RawMessage
	Tools          []ToolSchema
	System         string
	Temperature    float64
	Stream         bool
	ChunkSink      chan<- string
	RecordHistory  bool
	Timeout        time.Duration
	Model          string
}

// ReqFormat mirrors reqctx.ResponseFormat without importing reqctx, to
// keep the Model Client usable independent of the request-context layer.
type ReqFormat string

const (
	FormatText ReqFormat = "text"
	FormatJSON ReqFormat = "json"
)

// DefaultAskOptions returns the contract's documented defaults: text
// format, temperature 0.7, history recording enabled.
func DefaultAskOptions() AskOptions {
	return AskOptions{Format: FormatText, Temperature: defaultTemperature, RecordHistory: true}
}

// ModelClient is the Model Client: a thin, provider-agnostic
// wrapper implementing the ask/askWithMessages contract over a Provider
// and a History Store.
type ModelClient struct {
	provider Provider
	model    string
	history  *history.Store
	timeout  time.Duration
}

// NewModelClient creates a Model Client. model is the default model id
// used when an AskOptions.Model override isn't supplied.
func NewModelClient(provider Provider, model string, hist *history.Store) *ModelClient {
	return &ModelClient{provider: provider, model: model, history: hist, timeout: defaultTimeout}
}

// Ask assembles [optional system] + stored history + {role:user,
// content:prompt}, then completes it.
func (c *ModelClient) Ask(ctx context.Context, prompt string, opts AskOptions) (*Answer, error) {
	messages := append([]models.Message(nil), c.history.Get()...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: prompt})
	return c.complete(ctx, messages, prompt, opts)
}

// AskWithMessages completes over caller-supplied messages verbatim;
// history is never read or mutated regardless of opts.RecordHistory.
func (c *ModelClient) AskWithMessages(ctx context.Context, messages []models.Message, opts AskOptions) (*Answer, error) {
	opts.RecordHistory = false
	return c.complete(ctx, messages, "", opts)
}

func (c *ModelClient) complete(ctx context.Context, messages []models.Message, originalPrompt string, opts AskOptions) (*Answer, error) {
	if c.provider == nil {
		return nil, ErrNoProvider
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	req := &agentRequestParams{messages: messages, model: model, temperature: temperature}
	applyJSONCoaxing(&req.messages, opts)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	providerReq := &ProviderRequest{
		Model:          model,
		System:         opts.System,
		Messages:       req.messages,
		Tools:          opts.Tools,
		Temperature:    temperature,
		ResponseSchema: opts.Schema,
	}

	var resp *ProviderResponse
	var err error
	if opts.Stream {
		resp, err = c.streamAndAssemble(callCtx, providerReq, opts.ChunkSink)
	} else {
		resp, err = c.provider.Complete(callCtx, providerReq)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, err
	}

	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		resp.Content = noResponsePlaceholder
	}

	if opts.RecordHistory && originalPrompt != "" {
		c.history.Append(models.Message{Role: models.RoleUser, Content: originalPrompt})
		c.history.Append(models.Message{Role: models.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
	}

	return c.toAnswer(resp, opts), nil
}

type agentRequestParams struct {
	messages    []models.Message
	model       string
	temperature float64
}

// applyJSONCoaxing appends the terse JSON-only suffix to the last user
// message when format=json and no schema was supplied; a schema is instead attached at the transport level.
func applyJSONCoaxing(messages *[]models.Message, opts AskOptions) {
	if opts.Format != FormatJSON || len(opts.Schema) > 0 || len(*messages) == 0 {
		return
	}
	last := len(*messages) - 1
	if (*messages)[last].Role == models.RoleUser {
		(*messages)[last].Content += jsonOnlySuffix
	}
}

// streamAndAssemble drives Provider.Stream, forwarding text chunks to
// sink and reassembling tool-call deltas by index (id arrives on the
// first fragment for an index; Arguments fragments concatenate across
// chunks with that index).
func (c *ModelClient) streamAndAssemble(ctx context.Context, req *ProviderRequest, sink chan<- string) (*ProviderResponse, error) {
	chunks, err := c.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	deltas := make(map[int]*models.ToolCall)
	var order []int

	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if sink != nil {
				sink <- chunk.Text
			}
		}
		if chunk.ToolDelta != nil {
			d := chunk.ToolDelta
			tc, ok := deltas[d.Index]
			if !ok {
				tc = &models.ToolCall{}
				deltas[d.Index] = tc
				order = append(order, d.Index)
			}
			if d.ID != "" {
				tc.ID = d.ID
			}
			if d.Name != "" {
				tc.Name = d.Name
			}
			if d.Arguments != "" {
				tc.RawInput += d.Arguments
			}
		}
		if chunk.Done {
			break
		}
	}

	resp := &ProviderResponse{Content: text.String()}
	for _, idx := range order {
		tc := deltas[idx]
		tc.Input = json.RawMessage(tc.RawInput)
		if tc.ID == "" {
			// Some providers never send an id on a streamed tool-call
			// delta; assign one so the result can still be correlated
			// back to its originating call.
			tc.ID = NewCallID()
		}
		resp.ToolCalls = append(resp.ToolCalls, *tc)
	}
	return resp, nil
}

// toAnswer shapes a ProviderResponse into the ask contract's Answer:
// a tool-call bundle takes priority, then JSON parsing (per opts.Format),
// else plain text.
func (c *ModelClient) toAnswer(resp *ProviderResponse, opts AskOptions) *Answer {
	if len(resp.ToolCalls) > 0 {
		return &Answer{Text: resp.Content, ToolCalls: resp.ToolCalls}
	}
	if opts.Format == FormatJSON {
		parsed, ok := parseJSON(resp.Content)
		if !ok {
			return &Answer{JSON: map[string]any{"error": "JSON parse failed", "raw": resp.Content}}
		}
		if len(opts.Schema) > 0 {
			if err := validateAgainstSchema(opts.Schema, parsed); err != nil {
				return &Answer{JSON: map[string]any{"error": fmt.Sprintf("schema validation failed: %v", err), "raw": resp.Content}}
			}
		}
		return &Answer{JSON: parsed}
	}
	return &Answer{Text: resp.Content}
}

// validateAgainstSchema compiles rawSchema with jsonschema/v5 and validates
// value against it, grounded on the same CompileString-then-Validate
// pattern the Tool Gateway's collaborators use for inbound request frames.
func validateAgainstSchema(rawSchema json.RawMessage, value map[string]any) error {
	compiled, err := jsonschema.CompileString("ask-response", string(rawSchema))
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return compiled.Validate(value)
}

// parseJSON strips fenced code markers before parsing.
func parseJSON(content string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, false
	}
	return out, true
}
