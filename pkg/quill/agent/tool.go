// tool.go defines the Tool capability contract: a named function with a
// JSON-Schema parameter spec, an execution function, and optional recovery
// hooks used by the executor's retry ladder.
package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// DefaultToolTimeout is the per-call timeout when a tool declares none.
const DefaultToolTimeout = 30 * time.Second

// ToolFunc is the signature of a tool's execution function. It receives the
// decoded arguments and returns the result or an error. Implementations must
// honour ctx cancellation.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// RecoverFunc is an optional error-recovery hook invoked by the executor when
// the primary execution fails.
type RecoverFunc func(ctx context.Context, args map[string]any, cause error) (any, error)

// Tool is a registered capability. Tools are shared by reference between
// agents and must be reentrancy-safe unless they document otherwise and
// expose Reset.
type Tool struct {
	// Name uniquely identifies the tool. Sanitized on registration to the
	// OpenAI pattern ^[a-zA-Z0-9_-]+$.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is the JSON-Schema describing the arguments.
	Parameters json.RawMessage

	// Run executes the tool. Required.
	Run ToolFunc

	// Timeout is the declared per-call timeout. Zero means undeclared: the
	// executor plans around DefaultToolTimeout instead. A declared value
	// below MinToolTimeout is raised to that floor at execution time, so a
	// tool cannot opt into a timeout shorter than 5s.
	Timeout time.Duration

	// CacheTTL overrides the cache TTL for this tool's results (cache
	// default when 0). Cacheable is false for tools with side effects.
	CacheTTL  time.Duration
	Cacheable bool

	// Reset clears internal state between sessions. Optional.
	Reset func()

	// RecoverFromTimeout is called when execution times out. Optional;
	// without it the executor retries once with simplified arguments.
	RecoverFromTimeout func(ctx context.Context, args map[string]any) (any, error)

	// RecoverFromError is called on non-timeout failures. Optional.
	RecoverFromError RecoverFunc

	// cache is the per-tool instance cache, consulted before the global one.
	cache *Cache
}

// Definition returns the OpenAI-style function schema for the tool.
func (t *Tool) Definition() ToolDefinition {
	params := t.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return ToolDefinition{
		Type: "function",
		Function: FunctionDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}
}

// EffectiveTimeout returns the declared timeout, or DefaultToolTimeout when
// none was declared.
func (t *Tool) EffectiveTimeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultToolTimeout
}

// WithInstanceCache attaches a private cache consulted before the global
// cache. Returns the tool for chaining.
func (t *Tool) WithInstanceCache(c *Cache) *Tool {
	t.cache = c
	return t
}

// InstanceCache returns the per-tool cache, or nil.
func (t *Tool) InstanceCache() *Cache { return t.cache }

// validate checks the required capability fields.
func (t *Tool) validate() error {
	switch {
	case t == nil:
		return ErrToolValidation
	case strings.TrimSpace(t.Name) == "":
		return wrapValidation("missing name")
	case strings.TrimSpace(t.Description) == "":
		return wrapValidation("missing description")
	case len(t.Parameters) == 0:
		return wrapValidation("missing parameters schema")
	case t.Run == nil:
		return wrapValidation("missing run function")
	}
	return nil
}

func wrapValidation(reason string) error {
	return &toolValidationError{reason: reason}
}

type toolValidationError struct{ reason string }

func (e *toolValidationError) Error() string { return "tool validation failed: " + e.reason }
func (e *toolValidationError) Unwrap() error { return ErrToolValidation }

// toolNameSanitizer replaces any character not in [a-zA-Z0-9_-] with "_".
var toolNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeToolName normalizes a tool name to the pattern the chat-completions
// API accepts.
func SanitizeToolName(name string) string {
	name = toolNameSanitizer.ReplaceAllString(name, "_")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return strings.Trim(name, "_")
}
