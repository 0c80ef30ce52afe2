package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sschepis/oboto/internal/agent"
	"github.com/sschepis/oboto/internal/checkpoint"
	"github.com/sschepis/oboto/internal/config"
	"github.com/sschepis/oboto/internal/events"
	"github.com/sschepis/oboto/internal/providers"
	"github.com/sschepis/oboto/internal/scheduler"
	"github.com/sschepis/oboto/internal/tasks"
)

// app bundles every long-lived collaborator a CLI invocation needs: the
// Event Bus, Checkpoint Store, Tool Gateway, Agent Runtime, Task Manager,
// and Scheduler, wired from a loaded Config.
type app struct {
	cfg         *config.Config
	bus         *events.Bus
	checkpoints *checkpoint.Store
	gateway     *agent.Gateway
	runtime     *agent.Runtime
	tasks       *tasks.Manager
	scheduler   *scheduler.Scheduler
}

// newApp loads configPath and wires every collaborator together. The
// Scheduler is constructed but not started; callers that need the
// polling loop running call app.scheduler.Start explicitly.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)

	bus := events.New()
	checkpoints := checkpoint.New(false, logger)
	gateway := agent.NewGateway()

	provider := providers.NewOpenAIProvider(cfg.LLM.APIKey)

	policy := agent.DefaultPolicy()
	policy.MaxTurns = cfg.Loop.MaxTurns
	policy.ShortInputChars = cfg.Loop.ShortInputChars
	policy.ShortInputMinResponseChars = cfg.Loop.ShortInputMinResponseChars
	policy.LongInputChars = cfg.Loop.LongInputChars
	policy.LongInputMaxResponseChars = cfg.Loop.LongInputMaxResponseChars
	policy.MaxTextRetries = cfg.Loop.MaxTextRetries
	policy.ToolBudgetWarn = cfg.Loop.ToolBudgetWarn
	policy.DeniedToolPatterns = cfg.Loop.DeniedToolPatterns

	runtime := agent.NewRuntime(provider, cfg.LLM.DefaultModel, gateway, checkpoints, bus, policy, logger)

	manager := tasks.NewManager(bus, cfg.Tasks.SoftConcurrency, logger, nil)

	schedulesPath := filepath.Join(cfg.Workspace.Dir, "schedules.json")
	sched := scheduler.New(schedulesPath, bus, logger, runtime.ScheduleFire(manager),
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
		scheduler.WithTaskRunningCheck(func(taskID string) bool {
			rec, ok := manager.Get(taskID)
			if !ok {
				return false
			}
			return rec.Status == tasks.StatusQueued || rec.Status == tasks.StatusRunning
		}))
	if err := sched.Load(); err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}

	return &app{
		cfg:         cfg,
		bus:         bus,
		checkpoints: checkpoints,
		gateway:     gateway,
		runtime:     runtime,
		tasks:       manager,
		scheduler:   sched,
	}, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
