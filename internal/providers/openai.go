// Package providers holds Model Client transport adapters: one file per
// LLM API, each implementing agent.Provider.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sschepis/oboto/internal/agent"
	"github.com/sschepis/oboto/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.Provider against OpenAI's chat
// completions API.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates a provider bound to apiKey. An empty apiKey
// yields a provider whose calls fail fast with a configuration error
// rather than panicking on first use.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{maxRetries: 3, retryDelay: time.Second}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

// Name identifies this provider for logging and API-key resolution.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete performs a single non-streaming completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.ProviderRequest) (*agent.ProviderResponse, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	chatReq, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		resp, lastErr = p.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			return nil, fmt.Errorf("openai: non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}
	if len(resp.Choices) == 0 {
		return &agent.ProviderResponse{}, nil
	}

	choice := resp.Choices[0].Message
	out := &agent.ProviderResponse{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream performs a streaming completion request, emitting raw text and
// tool-call-delta fragments; reassembly of tool-call fragments by index
// is the Model Client's responsibility, not the transport's.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.ProviderRequest) (<-chan agent.ProviderChunk, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	chatReq, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableError(lastErr) {
			return nil, fmt.Errorf("openai: non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan agent.ProviderChunk)
	go p.pump(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- agent.ProviderChunk) {
	defer close(out)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			out <- agent.ProviderChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				out <- agent.ProviderChunk{Done: true}
				return
			}
			// Malformed chunks (a JSON decode error) are skipped rather
			// than fatal, per the Model Client's streaming contract; any
			// other error still terminates the stream.
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				continue
			}
			out <- agent.ProviderChunk{Error: err, Done: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			out <- agent.ProviderChunk{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			out <- agent.ProviderChunk{ToolDelta: &agent.ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}}
		}
	}
}

// buildRequest converts a wire-agnostic ProviderRequest into the OpenAI
// SDK's shape, attaching ResponseSchema as a strict
// response_format.json_schema (the SDK's only structured-output field).
func (p *OpenAIProvider) buildRequest(req *agent.ProviderRequest, stream bool) (openai.ChatCompletionRequest, error) {
	messages, err := convertMessages(req.Messages, req.System)
	if err != nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      stream,
		Temperature: float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	if len(req.ResponseSchema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(req.ResponseSchema, &schema); err == nil {
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "response",
					Schema: jsonSchemaWrapper(schema),
					Strict: true,
				},
			}
		}
	}
	return chatReq, nil
}

// jsonSchemaWrapper adapts a raw map into the go-openai SDK's Marshaler
// interface so an already-decoded schema can be attached without a
// second encode/decode round trip.
type jsonSchemaWrapper map[string]any

func (j jsonSchemaWrapper) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(j))
}

func convertMessages(messages []models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				args := tc.RawInput
				if args == "" {
					args = string(tc.Input)
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, oaiMsg)
		default:
			out = append(out, openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return out, nil
}

func convertTools(tools []agent.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
