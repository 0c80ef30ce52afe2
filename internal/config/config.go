// Package config is the runtime's configuration surface: a YAML-backed
// Config struct with an environment-variable overlay and defaults,
// trimmed to this runtime's needs (model defaults, loop policy
// thresholds, task manager concurrency, scheduler tick interval,
// workspace directory). Follows a struct-plus-yaml-tags convention,
// narrowed to the components this module actually has: no gateway,
// channels, plugins, or marketplace sections, since those belong to
// out-of-scope collaborators.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	LLM       LLMConfig       `yaml:"llm"`
	Loop      LoopConfig      `yaml:"loop"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WorkspaceConfig locates the runtime's on-disk state: schedules.json and
// any other workspace-scoped files (checkpoints are kept in memory only).
type WorkspaceConfig struct {
	// Dir is the root directory the Scheduler's schedules.json and any
	// other workspace-scoped state live under. Defaults to "./.oboto".
	Dir string `yaml:"dir"`
}

// LLMConfig configures the default model and provider credentials the
// Model Client's transport adapter (internal/providers) uses.
type LLMConfig struct {
	DefaultProvider string `yaml:"default_provider"`
	DefaultModel    string `yaml:"default_model"`

	// APIKey is usually left empty in the file and supplied via the
	// OBOTO_OPENAI_API_KEY environment override instead.
	APIKey string `yaml:"api_key"`

	// TimeoutSeconds is decoded and defaulted to 120, but it is not passed
	// to the Model Client: requests use the Model Client's own 120s default
	// or a per-call AskOptions.Timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// LoopConfig mirrors agent.Policy as configuration, the
// explicit instruction to expose the quality-gate constants rather than
// hardcode them).
type LoopConfig struct {
	MaxTurns                   int `yaml:"max_turns"`
	ShortInputChars            int `yaml:"short_input_chars"`
	ShortInputMinResponseChars int `yaml:"short_input_min_response_chars"`
	LongInputChars             int `yaml:"long_input_chars"`
	LongInputMaxResponseChars  int `yaml:"long_input_max_response_chars"`
	MaxTextRetries             int      `yaml:"max_text_retries"`
	ToolBudgetWarn             int      `yaml:"tool_budget_warn"`
	DeniedToolPatterns         []string `yaml:"denied_tool_patterns"`
}

// TasksConfig configures the Task Manager.
type TasksConfig struct {
	// SoftConcurrency is the advisory running-task count above which a
	// warning is logged; it never blocks a spawn.
	SoftConcurrency int `yaml:"soft_concurrency"`

	// CleanupMaxAge is the retention age for terminal task records,
	// defaulted to 24h. Nothing in this module passes it to
	// Manager.CleanupOld, so records are not removed automatically.
	CleanupMaxAge time.Duration `yaml:"cleanup_max_age"`
}

// SchedulerConfig configures the Scheduler's polling loop.
type SchedulerConfig struct {
	// TickInterval overrides the Scheduler's default one-second poll.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LoggingConfig configures the process-wide slog handler.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Load reads and parses path, expanding environment variables, applying
// the OBOTO_* environment overrides, filling defaults, and validating
// the result — the Load pipeline (read, expand, decode,
// override, default, validate) narrowed to this module's fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain a single YAML document", path)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment-time secrets and host-specific
// values override the checked-in config file without editing it.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OBOTO_OPENAI_API_KEY")); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OBOTO_DEFAULT_MODEL")); v != "" {
		cfg.LLM.DefaultModel = v
	}
	if v := strings.TrimSpace(os.Getenv("OBOTO_WORKSPACE_DIR")); v != "" {
		cfg.Workspace.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("OBOTO_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = "./.oboto"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "openai"
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "gpt-4o"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 120
	}

	if cfg.Loop.MaxTurns == 0 {
		cfg.Loop.MaxTurns = 30
	}
	if cfg.Loop.ShortInputChars == 0 {
		cfg.Loop.ShortInputChars = 50
	}
	if cfg.Loop.ShortInputMinResponseChars == 0 {
		cfg.Loop.ShortInputMinResponseChars = 20
	}
	if cfg.Loop.LongInputChars == 0 {
		cfg.Loop.LongInputChars = 200
	}
	if cfg.Loop.LongInputMaxResponseChars == 0 {
		cfg.Loop.LongInputMaxResponseChars = 30
	}
	if cfg.Loop.MaxTextRetries == 0 {
		cfg.Loop.MaxTextRetries = 2
	}
	if cfg.Loop.ToolBudgetWarn == 0 {
		cfg.Loop.ToolBudgetWarn = 25
	}

	if cfg.Tasks.SoftConcurrency == 0 {
		cfg.Tasks.SoftConcurrency = 3
	}
	if cfg.Tasks.CleanupMaxAge == 0 {
		cfg.Tasks.CleanupMaxAge = 24 * time.Hour
	}

	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be one of debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	if cfg.Loop.MaxTurns <= 0 {
		return fmt.Errorf("config: loop.max_turns must be positive, got %d", cfg.Loop.MaxTurns)
	}
	if cfg.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("config: scheduler.tick_interval must be at least 1s, got %s", cfg.Scheduler.TickInterval)
	}
	return nil
}
