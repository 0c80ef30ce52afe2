// Package agent: runtime.go is the wiring layer binding the Model Client,
// Tool Gateway, History Store, Checkpoint Store, and Event Bus into an
// assistant factory: a function that constructs a fresh, isolated agent
// per spawned background task or per-interval schedule firing. The Agent
// State Machine itself (loop.go) is request-scoped and holds no notion of
// tasks or schedules; Runtime is what gives the Task Manager and
// Scheduler a concrete agent to run.
package agent

import (
	"context"
	"log/slog"

	"github.com/sschepis/oboto/internal/checkpoint"
	"github.com/sschepis/oboto/internal/events"
	"github.com/sschepis/oboto/internal/history"
	"github.com/sschepis/oboto/internal/reqctx"
	"github.com/sschepis/oboto/internal/scheduler"
	"github.com/sschepis/oboto/internal/tasks"
)

// Runtime holds the collaborators shared across every agent the process
// constructs: the model provider, the tool gateway, the checkpoint store,
// and the event bus. Each call into the Runtime builds a fresh History
// Store and AgentLoop, so concurrently running tasks never share
// conversation state.
type Runtime struct {
	provider    Provider
	model       string
	gateway     *Gateway
	checkpoints *checkpoint.Store
	bus         *events.Bus
	policy      Policy
	system      string
	logger      *slog.Logger
}

// NewRuntime wires a Runtime. checkpoints and bus may be nil, in which
// case checkpointing and background-error injection are silently skipped
// by every agent the Runtime constructs.
func NewRuntime(provider Provider, model string, gateway *Gateway, checkpoints *checkpoint.Store, bus *events.Bus, policy Policy, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if gateway != nil {
		gateway.SetDeniedPatterns(policy.DeniedToolPatterns)
	}
	return &Runtime{
		provider:    provider,
		model:       model,
		gateway:     gateway,
		checkpoints: checkpoints,
		bus:         bus,
		policy:      policy,
		logger:      logger.With("component", "runtime"),
	}
}

// SetSystemPrompt sets the system prompt every agent the Runtime
// constructs from this point on will use.
func (rt *Runtime) SetSystemPrompt(system string) { rt.system = system }

// newAgent constructs one fresh Model Client, History Store, and
// ToolExecutor, then wires them into a new Agent State Machine. Every
// call produces a fully isolated agent: no history, turn counters, or
// tool-call bookkeeping is shared across calls.
func (rt *Runtime) newAgent() *AgentLoop {
	hist := history.New(history.DefaultTokenBudget, nil)
	executor := NewToolExecutor(rt.gateway, DefaultToolExecConfig(), rt.logger)
	model := NewModelClient(rt.provider, rt.model, hist)
	loop := NewAgentLoop(model, rt.gateway, executor, hist, rt.checkpoints, rt.bus, rt.policy, rt.logger)
	loop.SetSystemPrompt(rt.system)
	loop.SetModelID(rt.model)
	return loop
}

// RunQuery constructs a fresh agent and drives query through it to
// completion, deriving its Request Context from ctx. Used by callers that
// want a synchronous result rather than a spawned background task.
func (rt *Runtime) RunQuery(ctx context.Context, query string) (string, error) {
	rc := reqctx.New(ctx, query, rt.policy.MaxTurns)
	loop := rt.newAgent()
	return loop.Run(rc)
}

// TaskRunner adapts the Runtime into a tasks.Runner for a single query:
// an assistant factory. Each invocation (there is
// exactly one per spawned task) constructs a fresh agent, derives a
// Request Context from ctx, and races the agent's run against the
// task's own cancellation handle — ctx is the task's handle, so
// Manager.Cancel reaches the agent through reqctx.Context.Context().
func (rt *Runtime) TaskRunner(query string) tasks.Runner {
	return func(ctx context.Context, report func(progress int, line string)) (string, error) {
		rc := reqctx.New(ctx, query, rt.policy.MaxTurns)
		loop := rt.newAgent()

		report(0, "agent started")
		result, err := loop.Run(rc)
		if err != nil {
			return "", err
		}
		report(100, "agent finished")
		return result, nil
	}
}

// ScheduleFire adapts the Runtime into a scheduler.Fire bound to a
// specific Task Manager: each due schedule spawns one background task
// running its query through a fresh agent.
func (rt *Runtime) ScheduleFire(manager *tasks.Manager) scheduler.Fire {
	return func(ctx context.Context, rec scheduler.Record) (string, error) {
		task := manager.Spawn(ctx, rec.Description, rec.Query, rec.ID, rec.RunCount+1, rt.TaskRunner(rec.Query))
		return task.ID, nil
	}
}
