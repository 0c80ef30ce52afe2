// Package agent implements the Agent State Machine and the
// components it drives directly: the Model Client, Tool Gateway, and the
// sequential tool executor. It is an actor-critic loop: a pre-check
// classifier gates entry into a bounded loop of model turns, tool
// execution, and critic evaluation.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/sschepis/oboto/internal/checkpoint"
	"github.com/sschepis/oboto/internal/events"
	"github.com/sschepis/oboto/internal/history"
	"github.com/sschepis/oboto/internal/reqctx"
	"github.com/sschepis/oboto/pkg/models"
)

// Policy bundles the actor-critic loop's quality-gate constants. The
// source hardcodes these; this implementation exposes
// them as configuration instead.
type Policy struct {
	// MaxTurns bounds the actor-critic loop; exceeding it yields the
	// "could not complete" sentinel response rather than an error.
	MaxTurns int

	// ShortInputChars/ShortInputMinResponseChars: text-response critic
	// rule (i) — input shorter than ShortInputChars paired with a
	// response longer than ShortInputMinResponseChars is accepted
	// without further scrutiny.
	ShortInputChars           int
	ShortInputMinResponseChars int

	// LongInputChars/LongInputMaxResponseChars: rule (ii) — input longer
	// than LongInputChars paired with a response shorter than
	// LongInputMaxResponseChars is retried as "too brief".
	LongInputChars           int
	LongInputMaxResponseChars int

	// MaxTextRetries bounds how many times the text-response critic may
	// send the loop back for a quality retry.
	MaxTextRetries int

	// ToolBudgetWarn: the critic-after-tools rule (b) — more than this
	// many total tool calls (or turnNumber within 2 of MaxTurns) signals
	// budget pressure and emits a "correct" (finalize) guidance.
	ToolBudgetWarn int

	// CompletionTools is the fixed set of tool names whose success with
	// no errors in the batch signals the turn likely finished the task.
	CompletionTools map[string]bool

	// DeniedToolPatterns are tool-name patterns (exact names, "mcp_*",
	// or a ".*" suffix wildcard) the Tool Gateway refuses to resolve or
	// advertise to the model, regardless of registration.
	DeniedToolPatterns []string
}

// DefaultPolicy returns the source's documented constants: 30 max turns,
// 50/20 and 200/30 text-response thresholds, 2 max quality retries, a
// 25-call tool budget warning, and the fixed completion-tool set.
func DefaultPolicy() Policy {
	return Policy{
		MaxTurns:                   30,
		ShortInputChars:            50,
		ShortInputMinResponseChars: 20,
		LongInputChars:             200,
		LongInputMaxResponseChars:  30,
		MaxTextRetries:             2,
		ToolBudgetWarn:             25,
		CompletionTools: map[string]bool{
			"speak_text":               true,
			"evaluate_math":            true,
			"web_search":               true,
			"generate_image":           true,
			"update_surface_component": true,
			"create_surface":           true,
			"attempt_completion":       true,
			"write_file":               true,
			"create_file":              true,
			"execute_command":          true,
		},
	}
}

// failsafeMessage is returned when a model turn produces neither text nor
// tool calls.
const failsafeMessage = "I wasn't able to generate a response. Please try rephrasing your request."

// maxTurnsSentinel is returned when the loop exhausts MaxTurns without a
// terminal decision.
const maxTurnsSentinel = "Could not complete within allowed turns."

// precheckSystemPrompt is the fixed classifier prompt run once before the
// loop.
const precheckSystemPrompt = `You are a fast routing classifier for an AI agent. Given the user's message, decide one of three labels:
- FAST_PATH: you can answer directly, right now, with a short complete response. Provide it as "response".
- CLARIFY: the request is too ambiguous to act on without more information. Provide a single clarifying question as "question".
- PROCEED: the request needs tools, multiple steps, or more than a one-line answer.

Respond with JSON only: {"status": "FAST_PATH"|"CLARIFY"|"PROCEED", "response": "...", "question": "...", "reasoning": "..."}.`

// precheckDecision is reflected into the JSON Schema attached to the
// pre-check call's response_format, the way internal/config/schema.go
// reflects its Config struct rather than hand-writing the schema.
type precheckDecision struct {
	Status    string `json:"status" jsonschema:"enum=FAST_PATH,enum=CLARIFY,enum=PROCEED"`
	Response  string `json:"response,omitempty"`
	Question  string `json:"question,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

var (
	precheckSchemaOnce sync.Once
	precheckSchema     json.RawMessage
)

func buildPrecheckSchema() json.RawMessage {
	precheckSchemaOnce.Do(func() {
		r := &jsonschema.Reflector{}
		reflected := r.Reflect(&precheckDecision{})
		b, err := json.Marshal(reflected)
		if err != nil {
			// Reflection of a fixed, well-formed struct cannot fail in
			// practice; fall back to a minimal schema rather than panic.
			b = json.RawMessage(`{"type":"object","required":["status"]}`)
		}
		precheckSchema = b
	})
	return precheckSchema
}

// precheckStatus is the classifier's decision label.
type precheckStatus string

const (
	precheckFastPath precheckStatus = "FAST_PATH"
	precheckClarify  precheckStatus = "CLARIFY"
	precheckProceed  precheckStatus = "PROCEED"
)

// criticToolAction is the critic-after-tools decision.
type criticToolAction string

const (
	criticWrapup   criticToolAction = "wrapup"
	criticCorrect  criticToolAction = "correct"
	criticContinue criticToolAction = "continue"
)

// criticTextAction is the text-response critic's decision.
type criticTextAction string

const (
	criticAccept criticTextAction = "accept"
	criticRetry  criticTextAction = "retry"
)

// AgentLoop drives a single Request Context through the actor-critic
// state machine, wired to the Model Client, Tool Gateway, History Store,
// Checkpoint Store, and Event Bus.
type AgentLoop struct {
	model       *ModelClient
	gateway     *Gateway
	executor    *ToolExecutor
	history     *history.Store
	checkpoints *checkpoint.Store
	bus         *events.Bus
	policy      Policy
	system      string
	modelID     string
	logger      *slog.Logger
}

// NewAgentLoop wires the Agent State Machine's collaborators. bus and
// checkpoints may be nil, in which case background error injection and
// checkpointing are silently skipped.
func NewAgentLoop(model *ModelClient, gateway *Gateway, executor *ToolExecutor, hist *history.Store, checkpoints *checkpoint.Store, bus *events.Bus, policy Policy, logger *slog.Logger) *AgentLoop {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentLoop{
		model:       model,
		gateway:     gateway,
		executor:    executor,
		history:     hist,
		checkpoints: checkpoints,
		bus:         bus,
		policy:      policy,
		logger:      logger.With("component", "agent_loop"),
	}
}

// SetSystemPrompt sets the system prompt attached to every in-loop model
// call (composition of persona/workspace text is out of this package's
// scope; the caller supplies the finished string).
func (l *AgentLoop) SetSystemPrompt(system string) { l.system = system }

// SetModelID sets the model id recorded on every checkpoint snapshot this
// loop writes from this point on.
func (l *AgentLoop) SetModelID(modelID string) { l.modelID = modelID }

// Run drives rc from AGENT_START through to a terminal response, using
// rc's own cancellation handle (Context.Context()) for every model call
// and tool invocation — the Request Context, not a caller-supplied
// context.Context, is the operation's single cancellation source. It
// subscribes to system:error at entry and unsubscribes on every exit
// path, checkpoints at each phase boundary, and marks rc complete exactly
// once before returning.
func (l *AgentLoop) Run(rc *reqctx.Context) (string, error) {
	if l.model == nil {
		rc.Complete()
		return "", ErrNoProvider
	}
	ctx := rc.Context()

	var sub events.Subscription
	subscribed := false
	if l.bus != nil {
		sub = l.bus.Subscribe(events.TopicSystemError, func(payload any) {
			p, ok := payload.(events.SystemErrorPayload)
			if !ok {
				return
			}
			rc.QueuePendingError(reqctx.PendingError{Type: p.Type, Message: p.Message})
		})
		subscribed = true
	}
	defer func() {
		if subscribed {
			l.bus.Unsubscribe(sub)
		}
	}()

	l.checkpointPhase(rc, "AGENT_START")

	status, payload := l.precheck(ctx, rc)
	switch status {
	case precheckFastPath:
		return l.terminal(rc, payload), nil
	case precheckClarify:
		return l.terminal(rc, payload), nil
	default:
		resp, err := l.actorCriticLoop(ctx, rc)
		if err != nil {
			l.terminal(rc, "")
		}
		return resp, err
	}
}

// precheck runs the fixed classifier prompt. Any failure (transport error
// or an unparseable/unrecognized status) falls through to PROCEED
// silently.
func (l *AgentLoop) precheck(ctx context.Context, rc *reqctx.Context) (precheckStatus, string) {
	messages := []models.Message{{Role: models.RoleUser, Content: rc.CurrentInput}}
	opts := DefaultAskOptions()
	opts.Format = FormatJSON
	opts.Schema = buildPrecheckSchema()
	opts.System = precheckSystemPrompt
	opts.RecordHistory = false

	answer, err := l.model.AskWithMessages(ctx, messages, opts)
	if err != nil {
		l.logger.Debug("precheck failed, falling through to PROCEED", "error", err)
		return precheckProceed, ""
	}
	if answer.JSON == nil {
		return precheckProceed, ""
	}
	status, _ := answer.JSON["status"].(string)
	switch precheckStatus(status) {
	case precheckFastPath:
		resp, _ := answer.JSON["response"].(string)
		return precheckFastPath, resp
	case precheckClarify:
		q, _ := answer.JSON["question"].(string)
		return precheckClarify, q
	default:
		return precheckProceed, ""
	}
}

// actorCriticLoop is the bounded turn loop: each iteration is one model
// call followed by either tool execution (with its own critic) or a
// text-response critic decision.
func (l *AgentLoop) actorCriticLoop(ctx context.Context, rc *reqctx.Context) (string, error) {
	guidance := ""
	textRetryCount := 0

	for {
		if err := rc.ThrowIfAborted(); err != nil {
			return "", err
		}

		turn := rc.AdvanceTurn()
		if turn > l.policy.MaxTurns {
			return l.terminal(rc, maxTurnsSentinel), nil
		}

		prompt := l.assemblePrompt(rc, turn, guidance)
		guidance = ""

		opts := DefaultAskOptions()
		opts.System = l.system
		opts.Tools = l.gateway.AsLLMTools()

		answer, err := l.model.Ask(ctx, prompt, opts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			return "", fmt.Errorf("agent: in-loop model call failed: %w", err)
		}

		l.checkpointPhase(rc, "ACTOR_CRITIC_LOOP")

		switch {
		case len(answer.ToolCalls) > 0:
			l.executeTools(ctx, rc, answer.ToolCalls)
			l.checkpointPhase(rc, "POST_TOOLS")

			if rc.Aborted() {
				return "", reqctx.ErrAborted
			}

			action := l.criticAfterTools(rc, answer.ToolCalls)
			switch action {
			case criticWrapup:
				guidance = "summarize the work done so far and give the user a final answer."
			case criticCorrect:
				guidance = "finalize your answer now; you are close to the turn or tool-call budget."
			}
			continue

		case answer.Text != "":
			action, nextGuidance := l.textResponseCritic(rc.CurrentInput, answer.Text, textRetryCount)
			if action == criticRetry && textRetryCount < l.policy.MaxTextRetries {
				textRetryCount++
				guidance = "[QUALITY CHECK FAILED] " + nextGuidance
				continue
			}
			return l.terminal(rc, answer.Text), nil

		default:
			return l.terminal(rc, failsafeMessage), nil
		}
	}
}

// assemblePrompt builds the turn's user-facing prompt: the original task
// plus guidance, accumulated errors, recent completed actions, and any
// pending system warnings, for turns after the first.
func (l *AgentLoop) assemblePrompt(rc *reqctx.Context, turn int, guidance string) string {
	if turn == 1 {
		return rc.CurrentInput
	}

	var b strings.Builder
	if guidance != "" {
		b.WriteString("[GUIDANCE]: ")
		b.WriteString(guidance)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Original task: %s\n\nTurn %d of %d.\n", rc.CurrentInput, turn, l.policy.MaxTurns)

	if errs := rc.Errors(); len(errs) > 0 {
		b.WriteString("\nERRORS YOU MUST ADDRESS:\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "- %s: %s\n", e.Phase, e.Message)
		}
		rc.ClearErrors()
	}

	if actions := rc.CompletedActions(); len(actions) > 0 {
		tail := actions
		if len(tail) > 5 {
			tail = tail[len(tail)-5:]
		}
		b.WriteString("\nCompleted actions:\n")
		for _, a := range tail {
			fmt.Fprintf(&b, "- %s (%s): %s\n", a.Tool, a.Status, a.Summary)
		}
	}

	if pending := rc.DrainPendingErrors(); len(pending) > 0 {
		b.WriteString("\n[SYSTEM WARNING]\n")
		for _, p := range dedupePendingErrors(pending) {
			fmt.Fprintf(&b, "- %s: %s\n", p.Type, p.Message)
		}
	}

	b.WriteString("\nReview the tool results above and continue.")
	return b.String()
}

// dedupePendingErrors removes duplicate (type, message) pairs, preserving
// first-seen order.
func dedupePendingErrors(pending []reqctx.PendingError) []reqctx.PendingError {
	seen := make(map[string]bool, len(pending))
	out := make([]reqctx.PendingError, 0, len(pending))
	for _, p := range pending {
		key := p.Type + "\x00" + p.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// executeTools runs toolCalls sequentially, appending a role=tool history
// message per result, keyed by call id, and recording a Completed Action
// for each. Error results (per the /^error:/i structured convention,
// never a "failed" substring check) are also added to the Request
// Context's error list for the next turn.
func (l *AgentLoop) executeTools(ctx context.Context, rc *reqctx.Context, toolCalls []models.ToolCall) {
	results := l.executor.ExecuteSequentially(ctx, rc.Aborted, toolCalls)

	for _, r := range results {
		l.history.Append(models.Message{
			Role:       models.RoleTool,
			Content:    r.Result.Content,
			ToolCallID: r.Result.ToolCallID,
			ToolName:   r.ToolCall.Name,
		})

		status := models.ActionSuccess
		if IsErrorOutput(r.Result.Content) || r.Result.IsError {
			status = models.ActionError
			rc.AddError(r.ToolCall.Name, r.Result.Content)
		}
		action := models.NewCompletedAction(r.ToolCall.Name, status, r.Result.Content)
		rc.AppendCompletedAction(reqctx.CompletedActionEntry{
			Tool:    action.Tool,
			Status:  string(action.Status),
			Summary: action.Summary,
		})
	}
}

// criticAfterTools decides the next guidance purely from structured
// state: a successful completion-tool call with no batch errors wraps
// up; tool-call or turn budget pressure corrects; otherwise the loop
// continues unguided.
func (l *AgentLoop) criticAfterTools(rc *reqctx.Context, toolCalls []models.ToolCall) criticToolAction {
	batchHasError := false
	batchHasCompletionTool := false
	for _, tc := range toolCalls {
		if l.policy.CompletionTools[tc.Name] {
			batchHasCompletionTool = true
		}
	}
	for _, a := range rc.CompletedActions()[max(0, rc.ToolCallCount()-len(toolCalls)):] {
		if a.Status == string(models.ActionError) {
			batchHasError = true
		}
	}

	if batchHasCompletionTool && !batchHasError {
		return criticWrapup
	}
	if rc.ToolCallCount() > l.policy.ToolBudgetWarn || rc.TurnNumber() >= l.policy.MaxTurns-2 {
		return criticCorrect
	}
	return criticContinue
}

// textResponseCritic decides whether a text response is accepted outright
// or retried with quality guidance.
// Rules are evaluated in order; the first that matches wins.
func (l *AgentLoop) textResponseCritic(input, response string, retryCount int) (criticTextAction, string) {
	inputLen := len([]rune(input))
	responseLen := len([]rune(response))
	lower := strings.ToLower(response)

	if inputLen < l.policy.ShortInputChars && responseLen > l.policy.ShortInputMinResponseChars {
		return criticAccept, ""
	}
	if inputLen > l.policy.LongInputChars && responseLen < l.policy.LongInputMaxResponseChars {
		return criticRetry, "that response was too brief for the scope of the request; provide a fuller answer."
	}
	if (strings.Contains(lower, "i can't") || strings.Contains(lower, "i cannot")) &&
		!strings.Contains(lower, "because") && !strings.Contains(lower, "however") {
		return criticRetry, "justify why you can't complete this, or propose an alternative."
	}
	return criticAccept, ""
}

// terminal marks rc complete, removes its checkpoint, and returns text as
// the final response.
func (l *AgentLoop) terminal(rc *reqctx.Context, text string) string {
	rc.Complete()
	if l.checkpoints != nil {
		l.checkpoints.CompleteRequest(rc.ID)
	}
	return text
}

// checkpointPhase syncs history and writes a Checkpoint Store snapshot for
// the given phase boundary.
func (l *AgentLoop) checkpointPhase(rc *reqctx.Context, phase string) {
	if l.checkpoints == nil {
		return
	}
	var hist []models.Message
	if l.history != nil {
		hist = l.history.Get()
	}
	l.checkpoints.CheckpointRequest(checkpoint.Snapshot{
		RequestID:     rc.ID,
		TurnNumber:    rc.TurnNumber(),
		ToolCallCount: rc.ToolCallCount(),
		OriginalInput: rc.OriginalInput,
		ModelID:       l.modelID,
		RetryCount:    rc.RetryCount,
		MaxTurns:      rc.MaxTurns,
		Status:        phase,
		History:       hist,
		CheckpointedAt: time.Now(),
	})
}
