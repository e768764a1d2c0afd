// config.go defines the runtime configuration, loaded from YAML with
// environment variable overrides. Secrets resolve through the OS keyring
// before falling back to the environment and the config file (see keyring.go).
package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root runtime configuration.
type Config struct {
	// API configures the LLM endpoint.
	API APIOptions `yaml:"api"`

	// Fallback configures retry and model fallback.
	Fallback FallbackOptions `yaml:"fallback"`

	// Memory configures the conversation window.
	Memory MemoryConfig `yaml:"memory"`

	// Tool configures execution defaults and caching.
	Tool ToolConfig `yaml:"tool"`

	// Agent configures the think/act loop.
	Agent AgentConfig `yaml:"agent"`

	// Planning configures the planner flow.
	Planning PlanningConfig `yaml:"planning"`

	// Sessions configures the session manager.
	Sessions SessionConfig `yaml:"sessions"`

	// Security configures workspace path containment and auditing.
	Security SecurityConfig `yaml:"security"`

	// Sanitizer configures output normalisation.
	Sanitizer SanitizerConfig `yaml:"sanitizer"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`
}

// APIOptions configures one OpenAI-compatible endpoint. Local servers
// (LM Studio, Ollama) work by pointing BaseURL at them; the key may be a
// placeholder there.
type APIOptions struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`

	// TimeoutSeconds is the safety-net timeout per LLM call (default: 300).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// MemoryConfig configures the conversation window.
type MemoryConfig struct {
	MaxTokens         int  `yaml:"max_tokens"`
	PreserveSystem    bool `yaml:"preserve_system_prompt"`
	PreserveFirstUser bool `yaml:"preserve_first_user_message"`

	// SummarizationThreshold is the fraction of the budget at which a
	// summarisation pass would trigger. Reserved for the compaction hook.
	SummarizationThreshold float64 `yaml:"summarization_threshold"`
}

// ToolConfig configures execution defaults and result caching.
type ToolConfig struct {
	DefaultTimeoutSeconds int  `yaml:"default_timeout_seconds"`
	CacheTTLSeconds       int  `yaml:"default_cache_ttl_seconds"`
	EnableCaching         bool `yaml:"enable_caching"`
	MaxParallel           int  `yaml:"max_parallel"`
}

// AgentConfig configures the think/act loop.
type AgentConfig struct {
	MaxIterations      int    `yaml:"max_iterations"`
	ExecutionMode      string `yaml:"execution_mode"` // "sequential" or "parallel"
	DuplicateThreshold int    `yaml:"duplicate_threshold"`

	// TimeoutSeconds is the outer deadline for a whole run (0 = none).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// PlanningConfig configures the planner flow.
type PlanningConfig struct {
	// ContinueOnFailure keeps executing later steps after one blocks.
	ContinueOnFailure bool `yaml:"continue_on_failure"`
}

// SessionConfig configures the session manager and store.
type SessionConfig struct {
	TTLSeconds     int    `yaml:"ttl_seconds"`
	MaxHistorySize int    `yaml:"max_history_size"`
	StorePath      string `yaml:"store_path"`
}

// SecurityConfig configures path containment for file-touching tools.
type SecurityConfig struct {
	WorkspaceDir     string   `yaml:"workspace_dir"`
	AllowedPaths     []string `yaml:"allowed_paths"`
	RestrictedPaths  []string `yaml:"restricted_paths"`
	MaxCommandLength int      `yaml:"max_command_length"`
	AuditLogPath     string   `yaml:"audit_log_path"`
}

// SanitizerConfig configures output normalisation.
type SanitizerConfig struct {
	AssistantName string `yaml:"assistant_name"`
	Disable       bool   `yaml:"disable"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIOptions{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 300,
		},
		Fallback: FallbackOptions{
			MaxRetries:          defaultMaxRetries,
			MaxFallbackAttempts: defaultMaxFallbackHops,
			InitialBackoffMs:    1000,
			MaxBackoffMs:        30000,
		},
		Memory: MemoryConfig{
			MaxTokens:         DefaultMemoryMaxTokens,
			PreserveSystem:    true,
			PreserveFirstUser: true,
		},
		Tool: ToolConfig{
			DefaultTimeoutSeconds: 30,
			CacheTTLSeconds:       300,
			EnableCaching:         true,
			MaxParallel:           5,
		},
		Agent: AgentConfig{
			MaxIterations:      15,
			ExecutionMode:      string(ExecutionSequential),
			DuplicateThreshold: 2,
		},
		Sessions: SessionConfig{
			TTLSeconds:     3600,
			MaxHistorySize: 100,
		},
		Security: SecurityConfig{
			MaxCommandLength: 4096,
		},
		Sanitizer: SanitizerConfig{
			AssistantName: "Quill",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path (or
// empty string) yields the defaults; env overrides apply either way.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if cfg.API.APIKey == "" {
		cfg.API.APIKey = ResolveAPIKey()
	}
	return cfg, nil
}

// applyEnv overlays the well-known environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("QUILL_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("QUILL_MODEL"); v != "" {
		c.API.Model = v
	}
	if v := os.Getenv("QUILL_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.API.APIKey == "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("QUILL_WORKSPACE"); v != "" {
		c.Security.WorkspaceDir = v
	}
}

// SessionTTL returns the configured session TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	if c.Sessions.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.Sessions.TTLSeconds) * time.Second
}

// CacheTTL returns the configured tool cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	if c.Tool.CacheTTLSeconds <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(c.Tool.CacheTTLSeconds) * time.Second
}

// RunDeadline returns the outer run deadline, or 0 when unset.
func (c *Config) RunDeadline() time.Duration {
	if c.Agent.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// NewLogger builds the slog logger from the logging section.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch c.Logging.Level {
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
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// DefaultConfigPath returns ~/.quill/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".quill", "config.yaml")
}

// DefaultSessionStorePath returns ~/.quill/sessions.
func DefaultSessionStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessions"
	}
	return filepath.Join(home, ".quill", "sessions")
}
