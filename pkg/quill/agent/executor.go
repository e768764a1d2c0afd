// executor.go dispatches tool calls from the LLM to registered tools. Each
// call runs through validation, an adaptive per-call timeout, cache lookup
// (instance first, then global), and an error-specific recovery ladder.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Effective timeout bounds. Every computed timeout lands in this range.
const (
	MinToolTimeout = 5 * time.Second
	MaxToolTimeout = 180 * time.Second
)

// HardMaxToolResultChars caps a tool result before it enters the
// conversation, preventing context overflow from oversized outputs.
const HardMaxToolResultChars = 400_000

// ExecutionMode selects how a batch of tool calls runs.
type ExecutionMode string

const (
	ExecutionSequential ExecutionMode = "sequential"
	ExecutionParallel   ExecutionMode = "parallel"
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	EnableCaching bool
	CacheTTL      time.Duration
	Mode          ExecutionMode
	MaxParallel   int
}

// Executor runs tool calls against the registry with caching and recovery.
type Executor struct {
	registry *Registry
	cache    *Cache
	logger   *slog.Logger

	enableCaching bool
	cacheTTL      time.Duration
	mode          ExecutionMode
	maxParallel   int

	// compiled caches JSON-Schema compilation per schema text.
	compiled sync.Map // string -> *jsonschema.Schema
}

// NewExecutor creates an executor over a registry and a global cache.
func NewExecutor(registry *Registry, cache *Cache, opts ExecutorOptions, logger *slog.Logger) *Executor {
	if cache == nil {
		cache = NewCache(opts.CacheTTL)
	}
	mode := opts.Mode
	if mode == "" {
		mode = ExecutionSequential
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 5
	}
	return &Executor{
		registry:      registry,
		cache:         cache,
		logger:        logger.With("component", "executor"),
		enableCaching: opts.EnableCaching,
		cacheTTL:      opts.CacheTTL,
		mode:          mode,
		maxParallel:   maxParallel,
	}
}

// Mode returns the configured execution mode.
func (e *Executor) Mode() ExecutionMode { return e.mode }

// Execute runs a batch of tool calls and returns responses in the same order
// as the input, regardless of completion order. In parallel mode individual
// failures are captured per-response and never abort the batch.
func (e *Executor) Execute(ctx context.Context, calls []ToolCall) []ToolResponse {
	if e.mode != ExecutionParallel || len(calls) <= 1 {
		results := make([]ToolResponse, len(calls))
		for i, call := range calls {
			results[i] = e.ExecuteCall(ctx, call)
		}
		return results
	}

	results := make([]ToolResponse, len(calls))
	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = e.ExecuteCall(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// ExecuteCall runs one tool call end to end:
// resolve → decode → validate → timeout → cache → run → recover → store.
func (e *Executor) ExecuteCall(ctx context.Context, call ToolCall) ToolResponse {
	name := call.Function.Name
	resp := ToolResponse{ToolCallID: call.ID, Name: name}

	tool, err := e.registry.Get(name)
	if err != nil {
		resp.Error = err.Error()
		resp.Content = formatToolError(name, err)
		e.logger.Warn("unknown tool called", "name", name)
		return resp
	}

	// Every invocation of a resolved tool counts toward its usage metrics;
	// only successful uncached runs feed the execution-time average.
	rt, tracked := e.registry.handle(name)

	args, err := decodeArgs(call.Function.Arguments)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidToolArgument, err)
		resp.Error = err.Error()
		resp.Content = formatToolError(name, err)
		if tracked {
			rt.recordUse()
		}
		e.logger.Warn("tool argument decode failed", "name", name, "error", err)
		return resp
	}

	if err := e.validateArgs(tool, args); err != nil {
		// One lightweight coercion pass before giving up: the model often
		// sends "5" where 5 is required, or omits a required string.
		if fixed, changed := coerceArgs(tool, args); changed {
			if err2 := e.validateArgs(tool, fixed); err2 == nil {
				args = fixed
				err = nil
			}
		}
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidToolArgument, err)
			resp.Error = err.Error()
			resp.Content = formatToolError(name, err)
			if tracked {
				rt.recordUse()
			}
			e.logger.Warn("tool argument validation failed", "name", name, "error", err)
			return resp
		}
	}

	timeout := e.effectiveTimeout(tool, args)

	// Cache lookup: instance cache shadows the global one.
	if e.enableCaching && tool.Cacheable {
		if value, hit := e.cacheLookup(tool, args); hit {
			resp.Success = true
			resp.Cached = true
			resp.Raw = value
			resp.Content = stringifyResult(value)
			if tracked {
				rt.recordUse()
			}
			e.logger.Debug("tool cache hit", "name", name)
			return resp
		}
	}

	start := time.Now()
	value, err := e.runWithRecovery(ctx, tool, args, timeout)
	resp.Duration = time.Since(start)

	if err != nil {
		resp.Error = err.Error()
		resp.Content = formatToolError(name, err)
		if tracked {
			rt.recordUse()
		}
		e.logger.Warn("tool execution failed",
			"name", name,
			"error", err,
			"duration_ms", resp.Duration.Milliseconds(),
		)
		return resp
	}

	resp.Success = true
	resp.Raw = value
	resp.Content = stringifyResult(value)

	if len(resp.Content) > HardMaxToolResultChars {
		original := len(resp.Content)
		resp.Content = resp.Content[:HardMaxToolResultChars] +
			fmt.Sprintf("\n... [truncated: result was %d chars, capped at %d]", original, HardMaxToolResultChars)
		e.logger.Warn("tool result truncated by size guard",
			"name", name, "original_chars", original)
	}

	if e.enableCaching && tool.Cacheable {
		e.cacheStore(tool, args, value)
	}

	if tracked {
		rt.recordCall(resp.Duration)
	}

	e.logger.Info("tool executed",
		"name", name,
		"duration_ms", resp.Duration.Milliseconds(),
		"output_len", len(resp.Content),
	)
	return resp
}

// ---------- Argument Handling ----------

// decodeArgs turns the wire arguments (a JSON string, possibly empty) into a
// map.
func decodeArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

// validateArgs checks args against the tool's JSON-Schema.
func (e *Executor) validateArgs(tool *Tool, args map[string]any) error {
	if len(tool.Parameters) == 0 {
		return nil
	}
	schema, err := e.compileSchema(string(tool.Parameters))
	if err != nil {
		// A broken schema is the tool author's bug; don't block the call.
		e.logger.Warn("tool schema failed to compile", "name", tool.Name, "error", err)
		return nil
	}
	// Args arrive as decoded JSON (float64 numbers), which is what the
	// validator expects.
	return schema.Validate(args)
}

func (e *Executor) compileSchema(schemaText string) (*jsonschema.Schema, error) {
	if cached, ok := e.compiled.Load(schemaText); ok {
		return cached.(*jsonschema.Schema), nil
	}
	schema, err := jsonschema.CompileString("tool.schema.json", schemaText)
	if err != nil {
		return nil, err
	}
	e.compiled.Store(schemaText, schema)
	return schema, nil
}

// schemaInfo extracts the property types and required list from a tool's
// parameter schema for the coercion pass.
func schemaInfo(tool *Tool) (types map[string]string, required []string) {
	var parsed struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(tool.Parameters, &parsed); err != nil {
		return nil, nil
	}
	types = make(map[string]string, len(parsed.Properties))
	for name, prop := range parsed.Properties {
		types[name] = prop.Type
	}
	return types, parsed.Required
}

// coerceArgs applies the enumerated lightweight fixes: a string of digits
// becomes an int where the schema wants one, and a missing required string
// field becomes "".
func coerceArgs(tool *Tool, args map[string]any) (map[string]any, bool) {
	types, required := schemaInfo(tool)
	if types == nil {
		return args, false
	}

	fixed := make(map[string]any, len(args))
	for k, v := range args {
		fixed[k] = v
	}
	changed := false

	for name, typ := range types {
		v, present := fixed[name]
		if !present {
			continue
		}
		if s, ok := v.(string); ok && (typ == "integer" || typ == "number") {
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				fixed[name] = float64(n)
				changed = true
			}
		}
	}
	for _, name := range required {
		if _, present := fixed[name]; !present && types[name] == "string" {
			fixed[name] = ""
			changed = true
		}
	}
	return fixed, changed
}

// simplifyArgs reduces argument complexity for the timeout-retry pass:
// long strings are truncated, lists capped at 5 elements, and count-like
// integer fields capped at 5.
func simplifyArgs(args map[string]any) map[string]any {
	countFields := map[string]bool{"limit": true, "max_results": true, "size": true, "count": true}

	simplified := make(map[string]any, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			if len(val) > 1000 {
				simplified[k] = val[:1000]
			} else {
				simplified[k] = val
			}
		case []any:
			if len(val) > 5 {
				simplified[k] = val[:5]
			} else {
				simplified[k] = val
			}
		case float64:
			if countFields[k] && val > 5 {
				simplified[k] = float64(5)
			} else {
				simplified[k] = val
			}
		default:
			simplified[k] = v
		}
	}
	return simplified
}

// ---------- Adaptive Timeout ----------

// effectiveTimeout computes the per-call timeout from the tool's declared
// base, its observed average execution time, and argument complexity.
// The result is always within [MinToolTimeout, MaxToolTimeout], rounded to
// 0.1s.
func (e *Executor) effectiveTimeout(tool *Tool, args map[string]any) time.Duration {
	base := tool.EffectiveTimeout()
	timeout := base

	// Learned adjustment: when an average is known, target twice the
	// average, bounded to [base/2, base] (never above the declared base,
	// never below half of it).
	if rt, ok := e.registry.handle(tool.Name); ok {
		if avg := rt.avgExecTime(); avg > 0 {
			target := 2 * avg
			if capped := base * 3 / 2; target > capped {
				target = capped
			}
			timeout = clampDuration(target, base/2, base)
		}
	}

	// Complexity adjustments, each expressed as a fraction of the current
	// timeout.
	bonus := 0.0
	if size, ok := numericArg(args, "size"); ok && size > 1000 {
		bonus += math.Min(1.0, (size-1000)/10000)
	}
	if depth, ok := numericArg(args, "depth"); ok && depth > 3 {
		bonus += math.Min(1.0, (depth-3)*0.2)
	}
	longest := 0
	for _, v := range args {
		if s, ok := v.(string); ok && len(s) > longest {
			longest = len(s)
		}
	}
	if longest > 5000 {
		bonus += math.Min(0.5, float64(longest-5000)/20000)
	}
	timeout = time.Duration(float64(timeout) * (1 + bonus))

	timeout = clampDuration(timeout, MinToolTimeout, MaxToolTimeout)
	// Round to 0.1s.
	return timeout.Round(100 * time.Millisecond)
}

func numericArg(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// ---------- Execution + Recovery ----------

// runWithRecovery executes the tool under its timeout and walks the recovery
// ladder on failure.
func (e *Executor) runWithRecovery(ctx context.Context, tool *Tool, args map[string]any, timeout time.Duration) (any, error) {
	value, err := runWithTimeout(ctx, tool, args, timeout)
	if err == nil {
		return value, nil
	}

	if isTimeoutError(err) {
		return e.recoverFromTimeout(ctx, tool, args, timeout, err)
	}
	return e.recoverFromError(ctx, tool, args, err)
}

// recoverFromTimeout prefers the tool's own hook, then retries once with
// simplified arguments under 75% of the original timeout.
func (e *Executor) recoverFromTimeout(ctx context.Context, tool *Tool, args map[string]any, timeout time.Duration, cause error) (any, error) {
	e.logger.Warn("tool timed out, attempting recovery",
		"name", tool.Name, "timeout", timeout)

	if tool.RecoverFromTimeout != nil {
		value, err := tool.RecoverFromTimeout(ctx, args)
		if err == nil {
			return value, nil
		}
		return nil, fmt.Errorf("%w: %s (recovery also failed: %v)", ErrToolTimeout, tool.Name, err)
	}

	retryTimeout := timeout * 3 / 4
	if retryTimeout < MinToolTimeout {
		retryTimeout = MinToolTimeout
	}
	value, err := runWithTimeout(ctx, tool, simplifyArgs(args), retryTimeout)
	if err == nil {
		return value, nil
	}
	return nil, fmt.Errorf("%w: %s after %s (simplified retry also failed)", ErrToolTimeout, tool.Name, timeout)
}

// recoverFromError prefers the tool's own hook; otherwise network errors get
// one retry with a fixed 60s timeout, and argument-type errors get the
// coercion pass. Anything else surfaces the original error.
func (e *Executor) recoverFromError(ctx context.Context, tool *Tool, args map[string]any, cause error) (any, error) {
	if tool.RecoverFromError != nil {
		value, err := tool.RecoverFromError(ctx, args, cause)
		if err == nil {
			return value, nil
		}
		return nil, cause
	}

	if isNetworkError(cause) {
		e.logger.Info("network error, retrying with fixed timeout",
			"name", tool.Name, "error", cause)
		value, err := runWithTimeout(ctx, tool, args, 60*time.Second)
		if err == nil {
			return value, nil
		}
		return nil, cause
	}

	if isArgTypeError(cause) {
		if fixed, changed := coerceArgs(tool, args); changed {
			value, err := runWithTimeout(ctx, tool, fixed, tool.EffectiveTimeout())
			if err == nil {
				return value, nil
			}
		}
	}

	return nil, cause
}

// runWithTimeout invokes the tool's run function under a derived deadline.
// The goroutine result is delivered over a buffered channel so a timed-out
// tool cannot block forever.
func runWithTimeout(ctx context.Context, tool *Tool, args map[string]any, timeout time.Duration) (any, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := tool.Run(execCtx, args)
		done <- outcome{value, err}
	}()

	select {
	case <-execCtx.Done():
		return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, tool.Name, timeout)
	case out := <-done:
		return out.value, out.err
	}
}

// ---------- Error Classification ----------

func isTimeoutError(err error) bool {
	if errors.Is(err, ErrToolTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network")
}

func isArgTypeError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "type") &&
		(strings.Contains(msg, "argument") || strings.Contains(msg, "expected") || strings.Contains(msg, "invalid"))
}

// ---------- Caching + Formatting ----------

func (e *Executor) cacheLookup(tool *Tool, args map[string]any) (any, bool) {
	if inst := tool.InstanceCache(); inst != nil {
		if value, hit := inst.Get(tool.Name, args); hit {
			return value, true
		}
	}
	return e.cache.Get(tool.Name, args)
}

func (e *Executor) cacheStore(tool *Tool, args map[string]any, value any) {
	ttl := tool.CacheTTL
	if ttl <= 0 {
		ttl = e.cacheTTL
	}
	if inst := tool.InstanceCache(); inst != nil {
		inst.Set(tool.Name, args, value, ttl)
	}
	e.cache.Set(tool.Name, args, value, ttl)
}

// stringifyResult converts a tool's return value to the string fed back to
// the LLM. The raw value is retained on the ToolResponse.
func stringifyResult(value any) string {
	switch v := value.(type) {
	case nil:
		return "OK"
	case string:
		return v
	case []byte:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// formatToolError creates a structured JSON error payload. More parseable by
// the LLM than plain "Error: ..." text.
func formatToolError(toolName string, err error) string {
	msg := err.Error()
	if len(msg) > 2000 {
		msg = msg[:2000] + "... (truncated)"
	}
	b, _ := json.Marshal(map[string]string{
		"status": "error",
		"tool":   toolName,
		"error":  msg,
	})
	return string(b)
}
