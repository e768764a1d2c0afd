package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("expected 15 iterations, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.DuplicateThreshold != 2 {
		t.Errorf("expected duplicate threshold 2, got %d", cfg.Agent.DuplicateThreshold)
	}
	if !cfg.Memory.PreserveSystem || !cfg.Memory.PreserveFirstUser {
		t.Error("memory preservation should be on by default")
	}
	if cfg.SessionTTL() != time.Hour {
		t.Errorf("expected one-hour session TTL, got %v", cfg.SessionTTL())
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Errorf("expected five-minute cache TTL, got %v", cfg.CacheTTL())
	}
	if cfg.RunDeadline() != 0 {
		t.Errorf("expected no run deadline by default, got %v", cfg.RunDeadline())
	}
	if cfg.Sanitizer.AssistantName == "" {
		t.Error("expected a default assistant name")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  base_url: http://localhost:1234/v1
  model: local-model
agent:
  max_iterations: 5
  timeout_seconds: 120
sessions:
  ttl_seconds: 60
sanitizer:
  assistant_name: Scribe
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:1234/v1" {
		t.Errorf("base_url not loaded: %q", cfg.API.BaseURL)
	}
	if cfg.API.Model != "local-model" {
		t.Errorf("model not loaded: %q", cfg.API.Model)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("max_iterations not loaded: %d", cfg.Agent.MaxIterations)
	}
	if cfg.RunDeadline() != 2*time.Minute {
		t.Errorf("run deadline not loaded: %v", cfg.RunDeadline())
	}
	if cfg.SessionTTL() != time.Minute {
		t.Errorf("session ttl not loaded: %v", cfg.SessionTTL())
	}
	if cfg.Sanitizer.AssistantName != "Scribe" {
		t.Errorf("assistant name not loaded: %q", cfg.Sanitizer.AssistantName)
	}

	// Untouched sections keep their defaults.
	if cfg.Tool.DefaultTimeoutSeconds != 30 {
		t.Errorf("tool defaults lost: %d", cfg.Tool.DefaultTimeoutSeconds)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("a missing file must yield defaults: %v", err)
	}
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("expected defaults, got %d iterations", cfg.Agent.MaxIterations)
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api: [not: a map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("QUILL_BASE_URL", "http://env-host:9999/v1")
	t.Setenv("QUILL_MODEL", "env-model")
	t.Setenv("QUILL_API_KEY", "env-key")
	t.Setenv("QUILL_WORKSPACE", "/tmp/env-workspace")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.BaseURL != "http://env-host:9999/v1" {
		t.Errorf("QUILL_BASE_URL ignored: %q", cfg.API.BaseURL)
	}
	if cfg.API.Model != "env-model" {
		t.Errorf("QUILL_MODEL ignored: %q", cfg.API.Model)
	}
	if cfg.API.APIKey != "env-key" {
		t.Errorf("QUILL_API_KEY ignored: %q", cfg.API.APIKey)
	}
	if cfg.Security.WorkspaceDir != "/tmp/env-workspace" {
		t.Errorf("QUILL_WORKSPACE ignored: %q", cfg.Security.WorkspaceDir)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		cfg := DefaultConfig()
		cfg.Logging.Level = level
		if logger := cfg.NewLogger(); logger == nil {
			t.Errorf("level %q produced a nil logger", level)
		}
	}

	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	if logger := cfg.NewLogger(); logger == nil {
		t.Error("json format produced a nil logger")
	}
}
