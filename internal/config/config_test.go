package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "llm:\n  default_model: gpt-4o-mini\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.DefaultModel != "gpt-4o-mini" {
		t.Errorf("DefaultModel = %q", cfg.LLM.DefaultModel)
	}
	if cfg.Loop.MaxTurns != 30 {
		t.Errorf("MaxTurns = %d, want default 30", cfg.Loop.MaxTurns)
	}
	if cfg.Workspace.Dir != "./.oboto" {
		t.Errorf("Workspace.Dir = %q", cfg.Workspace.Dir)
	}
	if cfg.Scheduler.TickInterval.String() != "1s" {
		t.Errorf("TickInterval = %s", cfg.Scheduler.TickInterval)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, "llm:\n  api_key: from-file\n")
	t.Setenv("OBOTO_OPENAI_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env override to win", cfg.LLM.APIKey)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, "nonexistent_section:\n  foo: bar\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unknown top-level field")
	}
}

func TestLoad_RejectsInvalidLoggingLevel(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: verbose\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an invalid logging.level")
	}
}

func TestLoad_RejectsTooShortTickInterval(t *testing.T) {
	path := writeTempConfig(t, "scheduler:\n  tick_interval: 100ms\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a sub-second scheduler tick interval")
	}
}

func TestJSONSchema_ReflectsConfig(t *testing.T) {
	b, err := JSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 {
		t.Error("expected a non-empty schema")
	}
}
