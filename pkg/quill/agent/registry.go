// registry.go implements the thread-safe tool registry. Registration
// validates the capability contract; lookups return a handle that records
// call metrics (count, last-used, running average execution time).
package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ToolMetrics is a snapshot of one tool's usage counters.
type ToolMetrics struct {
	Name             string
	CallCount        int64
	LastUsed         time.Time
	AvgExecutionTime time.Duration
	RegisteredAt     time.Time
}

// registeredTool bundles a tool with its metrics. callCount tracks every
// invocation (failures and cache hits included); the execution-time average
// is computed over successful uncached runs only, so failures do not skew
// the adaptive timeout.
type registeredTool struct {
	tool *Tool

	mu           sync.Mutex
	callCount    int64
	execSamples  int64
	lastUsed     time.Time
	totalExec    time.Duration
	registeredAt time.Time
}

// recordUse bumps the call count and last-used time. Used for invocations
// that produce no execution-time sample.
func (r *registeredTool) recordUse() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callCount++
	r.lastUsed = time.Now()
}

// recordCall updates the counters after one successful uncached execution.
func (r *registeredTool) recordCall(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callCount++
	r.execSamples++
	r.lastUsed = time.Now()
	r.totalExec += d
}

// avgExecTime returns the running average execution time (0 when unused).
func (r *registeredTool) avgExecTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.execSamples == 0 {
		return 0
	}
	return r.totalExec / time.Duration(r.execSamples)
}

func (r *registeredTool) metrics() ToolMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := ToolMetrics{
		Name:         r.tool.Name,
		CallCount:    r.callCount,
		LastUsed:     r.lastUsed,
		RegisteredAt: r.registeredAt,
	}
	if r.execSamples > 0 {
		m.AvgExecutionTime = r.totalExec / time.Duration(r.execSamples)
	}
	return m
}

// Registry is a thread-safe registry of tools by unique name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	logger *slog.Logger

	// defsCache caches the definitions slice handed to the LLM; rebuilt
	// when the tool set changes.
	defsCache []ToolDefinition
	defsDirty bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*registeredTool),
		logger: logger.With("component", "registry"),
	}
}

// Register adds a tool under its (sanitized) name. Fails with
// ErrDuplicateTool when the name exists and ErrToolValidation when the tool
// is missing required fields. The registry is not mutated on failure.
func (r *Registry) Register(t *Tool) error {
	if err := t.validate(); err != nil {
		return err
	}
	name := SanitizeToolName(t.Name)
	if name == "" {
		return wrapValidation("name empty after sanitization")
	}
	t.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = &registeredTool{tool: t, registeredAt: time.Now()}
	r.defsDirty = true

	r.logger.Debug("tool registered", "name", name)
	return nil
}

// Get returns the tool by name or ErrToolNotFound.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return rt.tool, nil
}

// Unregister removes a tool. Returns ErrToolNotFound when absent.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	delete(r.tools, name)
	r.defsDirty = true
	r.logger.Debug("tool unregistered", "name", name)
	return nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns the registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the function schemas for all registered tools, in name
// order. The slice is cached until the tool set changes.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	if !r.defsDirty && r.defsCache != nil {
		defs := r.defsCache
		r.mu.RUnlock()
		return defs
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.defsDirty && r.defsCache != nil {
		return r.defsCache
	}

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].tool.Definition())
	}
	r.defsCache = defs
	r.defsDirty = false
	return defs
}

// Metrics returns usage counters for one tool, or for all tools when name is
// empty.
func (r *Registry) Metrics(name string) ([]ToolMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name != "" {
		rt, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
		}
		return []ToolMetrics{rt.metrics()}, nil
	}

	out := make([]ToolMetrics, 0, len(r.tools))
	for _, rt := range r.tools {
		out = append(out, rt.metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ResetAll invokes each tool's Reset hook. Called between sessions so
// stateful tools start clean.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.tools {
		if rt.tool.Reset != nil {
			rt.tool.Reset()
		}
	}
}

// handle returns the internal record for metric updates by the executor.
func (r *Registry) handle(name string) (*registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	return rt, ok
}
