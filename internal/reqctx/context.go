// Package reqctx implements the per-request Request Context: the isolated,
// single-owner state a request's agent-loop handlers thread through each
// turn, along with its cancellation handle, turn counters, and error logs.
package reqctx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAborted is returned by ThrowIfAborted when the context's cancellation
// handle has fired, either from explicit cancellation or a timeout.
var ErrAborted = errors.New("reqctx: request aborted")

// ResponseFormat hints how the Model Client should coax model output.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// PendingError is a background error queued by the system:error listener,
// consumed and cleared the next time a turn's prompt is assembled.
type PendingError struct {
	Type    string
	Message string
}

// ErrorEntry pairs a phase name with the error text raised during it.
type ErrorEntry struct {
	Phase   string
	Message string
}

// Context is the per-request Request Context. It must only be mutated by
// the handlers of the request that owns it; concurrent requests each get
// their own Context and never share one.
type Context struct {
	ID string

	// OriginalInput is immutable once the Context is constructed.
	OriginalInput string

	// CurrentInput may be rewritten on a retry (see DeriveRetry).
	CurrentInput string

	Stream      bool
	ChunkSink   chan<- string
	ModelOverride string
	Format      ResponseFormat

	Retry      bool
	RetryCount int
	DryRun     bool

	MaxTurns int

	Metadata map[string]any

	StartedAt   time.Time
	CompletedAt time.Time

	mu               sync.Mutex
	turnNumber       int
	toolCallCount    int
	completedActions []CompletedActionEntry
	errors           []ErrorEntry
	pendingErrors    []PendingError
	completed        bool

	cancel context.CancelFunc
	ctx    context.Context
}

// CompletedActionEntry mirrors models.CompletedAction without importing
// pkg/models, keeping this package free of a dependency cycle risk; the
// agent package converts between the two at its boundary.
type CompletedActionEntry struct {
	Tool    string
	Status  string
	Summary string
}

// New constructs a fresh Request Context for a single incoming request.
// parent supplies the root cancellation/deadline; New derives its own
// cancellable child so Cancel() only affects this request.
func New(parent context.Context, input string, maxTurns int) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		ID:            uuid.NewString(),
		OriginalInput: input,
		CurrentInput:  input,
		MaxTurns:      maxTurns,
		Metadata:      make(map[string]any),
		StartedAt:     time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Done returns the cancellation handle's Done channel.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Context returns the request's cancellable context, for threading into
// Model Client and Tool Gateway calls that need a context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// Cancel fires this request's cancellation handle.
func (c *Context) Cancel() { c.cancel() }

// Aborted reflects whether the cancellation handle has fired.
func (c *Context) Aborted() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// ThrowIfAborted returns ErrAborted if the cancellation handle has fired.
func (c *Context) ThrowIfAborted() error {
	if c.Aborted() {
		return ErrAborted
	}
	return nil
}

// AddError appends an error entry for the given phase, visible to the
// caller's invariant checks and surfaced to the next turn's prompt assembly
// by the agent state machine.
func (c *Context) AddError(phase, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, ErrorEntry{Phase: phase, Message: message})
}

// Errors returns a copy of the accumulated error entries.
func (c *Context) Errors() []ErrorEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ErrorEntry, len(c.errors))
	copy(out, c.errors)
	return out
}

// ClearErrors empties the error list, called once the next turn's prompt
// has consumed it.
func (c *Context) ClearErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = nil
}

// QueuePendingError records a background error (from the system:error
// listener) for injection into the next turn's prompt.
func (c *Context) QueuePendingError(p PendingError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingErrors = append(c.pendingErrors, p)
}

// DrainPendingErrors returns and clears the queued background errors.
func (c *Context) DrainPendingErrors() []PendingError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pendingErrors
	c.pendingErrors = nil
	return out
}

// AppendCompletedAction records a finished tool call in execution order.
func (c *Context) AppendCompletedAction(a CompletedActionEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedActions = append(c.completedActions, a)
	c.toolCallCount++
}

// CompletedActions returns a copy of the accumulated completed actions.
func (c *Context) CompletedActions() []CompletedActionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CompletedActionEntry, len(c.completedActions))
	copy(out, c.completedActions)
	return out
}

// ToolCallCount returns the total number of tool calls executed so far.
func (c *Context) ToolCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toolCallCount
}

// TurnNumber returns the current turn number.
func (c *Context) TurnNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnNumber
}

// AdvanceTurn increments the turn counter and returns the new value. It
// panics if called after Complete, since a completed context must not
// mutate further.
func (c *Context) AdvanceTurn() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		panic("reqctx: AdvanceTurn called on a completed context")
	}
	c.turnNumber++
	return c.turnNumber
}

// Complete marks the context as finished. It is idempotent; only the first
// call stamps CompletedAt. After Complete, no further mutation is permitted.
func (c *Context) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.completed = true
	c.CompletedAt = time.Now()
}

// Completed reports whether Complete has been called.
func (c *Context) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// ElapsedMs returns milliseconds since StartedAt, measured against
// CompletedAt once the context is complete, else against now.
func (c *Context) ElapsedMs() int64 {
	c.mu.Lock()
	end := c.CompletedAt
	completed := c.completed
	c.mu.Unlock()
	if !completed || end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.StartedAt).Milliseconds()
}

// DeriveRetry produces a sibling Context for a retry attempt: RetryCount is
// incremented, CurrentInput is replaced with newInput, loop counters (turn
// number, tool-call count, completed actions, errors) are reset, and the
// cancellation handle is inherited from the parent rather than re-derived,
// so cancelling the parent still cancels the retry. The retry shares no
// mutable state with its parent: every slice and counter is copied fresh.
func (c *Context) DeriveRetry(newInput string) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	retry := &Context{
		ID:            uuid.NewString(),
		OriginalInput: c.OriginalInput,
		CurrentInput:  newInput,
		Stream:        c.Stream,
		ChunkSink:     c.ChunkSink,
		ModelOverride: c.ModelOverride,
		Format:        c.Format,
		Retry:         true,
		RetryCount:    c.RetryCount + 1,
		DryRun:        c.DryRun,
		MaxTurns:      c.MaxTurns,
		Metadata:      make(map[string]any, len(c.Metadata)),
		StartedAt:     time.Now(),
		ctx:           c.ctx,
		cancel:        c.cancel,
	}
	for k, v := range c.Metadata {
		retry.Metadata[k] = v
	}
	return retry
}

// String renders a short diagnostic summary, useful in logs.
func (c *Context) String() string {
	return fmt.Sprintf("reqctx(%s turn=%d tools=%d retry=%d)", c.ID, c.TurnNumber(), c.ToolCallCount(), c.RetryCount)
}
