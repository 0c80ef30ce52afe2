package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sschepis/oboto/internal/history"
	"github.com/sschepis/oboto/pkg/models"
)

type scriptedProvider struct {
	responses []*ProviderResponse
	errs      []error
	calls     int
	lastReq   *ProviderRequest
	streamChunks []ProviderChunk
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	s.lastReq = req
	idx := s.calls
	s.calls++
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	if err != nil {
		return nil, err
	}
	if idx < len(s.responses) {
		return s.responses[idx], nil
	}
	return &ProviderResponse{}, nil
}

func (s *scriptedProvider) Stream(ctx context.Context, req *ProviderRequest) (<-chan ProviderChunk, error) {
	s.lastReq = req
	ch := make(chan ProviderChunk, len(s.streamChunks))
	for _, c := range s.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func TestModelClient_Ask_AssemblesHistoryAndRecordsTurn(t *testing.T) {
	hist := history.New(0, nil)
	hist.Append(models.Message{Role: models.RoleUser, Content: "earlier"})

	p := &scriptedProvider{responses: []*ProviderResponse{{Content: "hello there"}}}
	c := NewModelClient(p, "gpt-4o", hist)

	answer, err := c.Ask(context.Background(), "hi", DefaultAskOptions())
	if err != nil {
		t.Fatal(err)
	}
	if answer.Text != "hello there" {
		t.Errorf("Text = %q", answer.Text)
	}
	if len(p.lastReq.Messages) != 2 {
		t.Fatalf("expected prior history + new user message, got %d", len(p.lastReq.Messages))
	}

	log := hist.Get()
	if len(log) != 3 {
		t.Fatalf("expected history to record the new turn, got %d messages", len(log))
	}
	if log[1].Content != "hi" || log[2].Content != "hello there" {
		t.Errorf("got %+v", log[1:])
	}
}

func TestModelClient_AskWithMessages_NeverMutatesHistory(t *testing.T) {
	hist := history.New(0, nil)
	p := &scriptedProvider{responses: []*ProviderResponse{{Content: "answer"}}}
	c := NewModelClient(p, "gpt-4o", hist)

	opts := DefaultAskOptions()
	opts.RecordHistory = true // should be forced false regardless
	_, err := c.AskWithMessages(context.Background(), []models.Message{{Role: models.RoleUser, Content: "x"}}, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist.Get()) != 0 {
		t.Error("AskWithMessages must never mutate history")
	}
}

func TestModelClient_EmptyResponseFallback(t *testing.T) {
	hist := history.New(0, nil)
	p := &scriptedProvider{responses: []*ProviderResponse{{}}}
	c := NewModelClient(p, "gpt-4o", hist)

	answer, err := c.Ask(context.Background(), "hi", DefaultAskOptions())
	if err != nil {
		t.Fatal(err)
	}
	if answer.Text != noResponsePlaceholder {
		t.Errorf("Text = %q, want placeholder", answer.Text)
	}
}

func TestModelClient_JSONFormat_NoSchema_AppendsCoaxingSuffix(t *testing.T) {
	hist := history.New(0, nil)
	p := &scriptedProvider{responses: []*ProviderResponse{{Content: `{"ok":true}`}}}
	c := NewModelClient(p, "gpt-4o", hist)

	opts := DefaultAskOptions()
	opts.Format = FormatJSON
	opts.RecordHistory = false
	answer, err := c.Ask(context.Background(), "give me json", opts)
	if err != nil {
		t.Fatal(err)
	}
	if answer.JSON["ok"] != true {
		t.Errorf("JSON = %+v", answer.JSON)
	}
	lastMsg := p.lastReq.Messages[len(p.lastReq.Messages)-1]
	if lastMsg.Content == "give me json" {
		t.Error("expected JSON-only suffix appended to prompt")
	}
}

func TestModelClient_JSONFormat_ParseFailure(t *testing.T) {
	hist := history.New(0, nil)
	p := &scriptedProvider{responses: []*ProviderResponse{{Content: "not json"}}}
	c := NewModelClient(p, "gpt-4o", hist)

	opts := DefaultAskOptions()
	opts.Format = FormatJSON
	opts.RecordHistory = false
	answer, err := c.Ask(context.Background(), "x", opts)
	if err != nil {
		t.Fatal(err)
	}
	if answer.JSON["error"] != "JSON parse failed" {
		t.Errorf("JSON = %+v", answer.JSON)
	}
}

func TestModelClient_JSONFormat_StripsFencedCodeMarkers(t *testing.T) {
	hist := history.New(0, nil)
	p := &scriptedProvider{responses: []*ProviderResponse{{Content: "```json\n{\"ok\":true}\n```"}}}
	c := NewModelClient(p, "gpt-4o", hist)

	opts := DefaultAskOptions()
	opts.Format = FormatJSON
	opts.RecordHistory = false
	answer, err := c.Ask(context.Background(), "x", opts)
	if err != nil {
		t.Fatal(err)
	}
	if answer.JSON["ok"] != true {
		t.Errorf("JSON = %+v", answer.JSON)
	}
}

func TestModelClient_ToolCalls_TakePriorityOverJSON(t *testing.T) {
	hist := history.New(0, nil)
	p := &scriptedProvider{responses: []*ProviderResponse{{
		Content:   "using a tool",
		ToolCalls: []models.ToolCall{{ID: "1", Name: "search", Input: json.RawMessage(`{}`)}},
	}}}
	c := NewModelClient(p, "gpt-4o", hist)

	opts := DefaultAskOptions()
	opts.Format = FormatJSON
	opts.RecordHistory = false
	answer, err := c.Ask(context.Background(), "x", opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(answer.ToolCalls) != 1 || answer.ToolCalls[0].Name != "search" {
		t.Errorf("ToolCalls = %+v", answer.ToolCalls)
	}
}

func TestModelClient_Stream_ReassemblesToolCallDeltasByIndex(t *testing.T) {
	hist := history.New(0, nil)
	p := &scriptedProvider{streamChunks: []ProviderChunk{
		{Text: "thinking "},
		{ToolDelta: &ToolCallDelta{Index: 0, ID: "call-1", Name: "search"}},
		{ToolDelta: &ToolCallDelta{Index: 0, Arguments: `{"q":`}},
		{ToolDelta: &ToolCallDelta{Index: 0, Arguments: `"go"}`}},
		{Text: "done"},
		{Done: true},
	}}
	c := NewModelClient(p, "gpt-4o", hist)

	opts := DefaultAskOptions()
	opts.Stream = true
	opts.RecordHistory = false
	sink := make(chan string, 10)
	opts.ChunkSink = sink
	answer, err := c.Ask(context.Background(), "x", opts)
	if err != nil {
		t.Fatal(err)
	}
	if answer.Text != "thinking done" {
		t.Errorf("Text = %q", answer.Text)
	}
	if len(answer.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %+v", answer.ToolCalls)
	}
	tc := answer.ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "search" || string(tc.Input) != `{"q":"go"}` {
		t.Errorf("got %+v", tc)
	}
}

func TestModelClient_NoProvider(t *testing.T) {
	c := NewModelClient(nil, "gpt-4o", history.New(0, nil))
	_, err := c.Ask(context.Background(), "hi", DefaultAskOptions())
	if err != ErrNoProvider {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}
