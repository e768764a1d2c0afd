// loop.go implements the think/act loop: the agent alternates LLM calls
// (THINKING) and tool executions (EXECUTING) until the model answers in plain
// text, the iteration cap fires, or an unrecoverable error occurs.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentState is the loop's current phase.
type AgentState string

const (
	StateIdle      AgentState = "idle"
	StateThinking  AgentState = "thinking"
	StateExecuting AgentState = "executing"
	StateDone      AgentState = "done"
	StateError     AgentState = "error"
)

// Run statuses reported in RunResult.Status.
const (
	StatusSuccess       = "success"
	StatusError         = "error"
	StatusMaxIterations = "max_iterations"
)

// stuckPrompt is injected before the next THINKING step when the model keeps
// repeating itself.
const stuckPrompt = "You have given the same response multiple times. " +
	"Change strategy: try different tools, different arguments, or state " +
	"plainly what is blocking you."

// emptyReplyPrompt is injected when the model returns neither content nor
// tool calls.
const emptyReplyPrompt = "Your last reply was empty. Either call a tool or " +
	"give your final answer as text."

// emptyPromptResponse is returned when a run is started with a blank prompt.
const emptyPromptResponse = "I did not receive a prompt. Tell me what you " +
	"would like me to do."

// Agent drives one conversation through the think/act loop. Each agent owns
// its memory and diagnostics; the registry and global cache may be shared
// across agents.
type Agent struct {
	id        string
	cfg       *Config
	llm       *LLMClient
	memory    *Memory
	registry  *Registry
	executor  *Executor
	cache     *Cache
	sanitizer *Sanitizer
	diag      *Diagnostics
	tok       *Tokenizer
	logger    *slog.Logger

	mode         Mode
	systemPrompt string
	state        AgentState
}

// AgentDeps carries optional shared collaborators. Zero-value fields are
// constructed fresh.
type AgentDeps struct {
	LLM      *LLMClient
	Registry *Registry
	Cache    *Cache
	Tok      *Tokenizer
}

// NewAgent builds an agent from config. Pass deps to share a registry or
// cache across agents; nil deps fields get fresh instances.
func NewAgent(cfg *Config, deps AgentDeps, logger *slog.Logger) *Agent {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	tok := deps.Tok
	if tok == nil {
		tok = NewTokenizer()
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry(logger)
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewCache(cfg.CacheTTL())
	}
	llm := deps.LLM
	if llm == nil {
		llm = NewLLMClient(cfg.API, cfg.Fallback, logger)
	}

	memory := NewMemory(MemoryOptions{
		MaxTokens:         cfg.Memory.MaxTokens,
		PreserveSystem:    cfg.Memory.PreserveSystem,
		PreserveFirstUser: cfg.Memory.PreserveFirstUser,
		Model:             cfg.API.Model,
	}, tok, logger)

	executor := NewExecutor(registry, cache, ExecutorOptions{
		EnableCaching: cfg.Tool.EnableCaching,
		CacheTTL:      cfg.CacheTTL(),
		Mode:          ExecutionMode(cfg.Agent.ExecutionMode),
		MaxParallel:   cfg.Tool.MaxParallel,
	}, logger)

	var sanitizer *Sanitizer
	if !cfg.Sanitizer.Disable {
		sanitizer = NewSanitizer(cfg.Sanitizer.AssistantName)
	}

	id := uuid.NewString()
	return &Agent{
		id:        id,
		cfg:       cfg,
		llm:       llm,
		memory:    memory,
		registry:  registry,
		executor:  executor,
		cache:     cache,
		sanitizer: sanitizer,
		diag:      NewDiagnostics(),
		tok:       tok,
		logger:    logger.With("component", "agent", "conversation_id", id),
		mode:      ModeAct,
		state:     StateIdle,
	}
}

// ID returns the conversation id.
func (a *Agent) ID() string { return a.id }

// State returns the loop's current phase.
func (a *Agent) State() AgentState { return a.state }

// Memory returns the agent's conversation window.
func (a *Agent) Memory() *Memory { return a.memory }

// Registry returns the tool registry.
func (a *Agent) Registry() *Registry { return a.registry }

// LLM returns the underlying client.
func (a *Agent) LLM() *LLMClient { return a.llm }

// Mode returns the current run mode.
func (a *Agent) Mode() Mode { return a.mode }

// SetMode switches between act and plan runs.
func (a *Agent) SetMode(mode Mode) {
	if mode == ModePlan {
		a.mode = ModePlan
		return
	}
	a.mode = ModeAct
}

// SystemPrompt returns the configured system prompt.
func (a *Agent) SystemPrompt() string { return a.systemPrompt }

// SetSystemPrompt installs the system prompt into memory's system slot.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.systemPrompt = prompt
	if prompt != "" {
		a.memory.Add(NewMessage(RoleSystem, prompt))
	}
}

// RegisterTools adds tools to the registry. Registration stops at the first
// failure.
func (a *Agent) RegisterTools(tools ...*Tool) error {
	for _, t := range tools {
		if err := a.registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteTool dispatches one tool directly, outside the loop. The call goes
// through the full executor pipeline (validation, timeout, cache, recovery).
func (a *Agent) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	argsJSON := "{}"
	if len(args) > 0 {
		argsJSON = canonicalJSON(args)
	}
	resp := a.executor.ExecuteCall(ctx, ToolCall{
		ID:       "call_" + uuid.NewString()[:8],
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: argsJSON},
	})
	a.diag.NoteToolRun(resp)
	if !resp.Success {
		return nil, fmt.Errorf("tool %s: %s", name, resp.Error)
	}
	if resp.Raw != nil {
		return resp.Raw, nil
	}
	return resp.Content, nil
}

// Cleanup resets transient state between sessions: conversation buffer,
// diagnostics, and stateful tools. The system prompt survives.
func (a *Agent) Cleanup() {
	a.memory.Clear()
	a.diag.Reset()
	a.registry.ResetAll()
	a.state = StateIdle
}

// GetDiagnosticReport returns a copy of the agent's diagnostic record.
func (a *Agent) GetDiagnosticReport() *DiagnosticReport {
	return a.diag.Report()
}

// Run drives one prompt through the runtime in the agent's current mode.
func (a *Agent) Run(ctx context.Context, prompt string) (*RunResult, error) {
	if a.mode == ModePlan {
		return a.RunPlan(ctx, prompt)
	}
	return a.RunAct(ctx, prompt)
}

// RunAct executes the think/act loop on a prompt. The returned result is
// non-nil even on error, carrying the partial tool trace and diagnostics.
func (a *Agent) RunAct(ctx context.Context, prompt string) (*RunResult, error) {
	a.diag.Reset()

	// A blank prompt has nothing to act on. Answer directly without touching
	// the conversation window or the model.
	if strings.TrimSpace(prompt) == "" {
		a.state = StateDone
		return &RunResult{
			Response:       emptyPromptResponse,
			Status:         StatusSuccess,
			ConversationID: a.id,
			Diagnostics:    a.diag.Report(),
		}, nil
	}

	if deadline := a.cfg.RunDeadline(); deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	maxIterations := a.cfg.Agent.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 15
	}
	dupThreshold := a.cfg.Agent.DuplicateThreshold
	if dupThreshold <= 0 {
		dupThreshold = 2
	}

	a.memory.Add(NewMessage(RoleUser, prompt))
	a.state = StateThinking

	var (
		allCalls   []ToolCall
		allResults []ToolResponse
		contents   []string // assistant texts seen this run, for stuck detection
		notes      []string // transient system notes for the next THINKING step
		iterations int
	)

	result := func(response, status string) *RunResult {
		return &RunResult{
			Response:       response,
			Status:         status,
			ToolCalls:      allCalls,
			ToolResults:    allResults,
			ConversationID: a.id,
			Iterations:     iterations,
			Diagnostics:    a.diag.Report(),
		}
	}

	for iterations < maxIterations {
		iterations++

		// THINKING: memory plus any transient notes, tools attached.
		messages := a.memory.Get()
		for _, note := range notes {
			messages = append(messages, NewMessage(RoleSystem, note))
		}
		notes = notes[:0]

		resp, err := a.llm.ChatWithTools(ctx, messages, a.registry.Definitions(), CompletionOptions{})
		if err != nil {
			a.state = StateError
			severity := SeverityError
			if ctx.Err() != nil {
				severity = SeverityCritical
				a.diag.Record("deadline", "run deadline exceeded", severity, "deadline", nil)
			}
			a.diag.Record("llm", err.Error(), severity, "llm_failure", map[string]any{
				"iteration": iterations,
			})
			a.logger.Error("run failed", "iteration", iterations, "error", err)
			return result(fmt.Sprintf("The request could not be completed: %v", err), StatusError), err
		}
		a.diag.NoteLLMCall(resp)

		if resp.ExtractedFreeText {
			notes = append(notes, StructuredToolNote)
		}

		a.memory.Add(resp.Message)

		// Terminal: plain text, no tool calls.
		if len(resp.Message.ToolCalls) == 0 {
			content := strings.TrimSpace(resp.Message.Content)
			if content == "" {
				a.diag.Record("loop", "empty assistant reply", SeverityWarning, "empty_reply", nil)
				notes = append(notes, emptyReplyPrompt)
				continue
			}
			if countEqual(contents, content) >= dupThreshold {
				a.diag.Record("loop", "duplicate assistant response", SeverityWarning, "stuck", nil)
				a.logger.Warn("stuck detected, injecting strategy nudge", "iteration", iterations)
				notes = append(notes, stuckPrompt)
				contents = append(contents, content)
				continue
			}
			contents = append(contents, content)

			a.state = StateDone
			return result(a.sanitize(content), StatusSuccess), nil
		}

		if resp.Message.Content != "" {
			contents = append(contents, strings.TrimSpace(resp.Message.Content))
		}

		// EXECUTING: run the batch, feed results back as tool messages in the
		// original call order.
		a.state = StateExecuting
		responses := a.executor.Execute(ctx, resp.Message.ToolCalls)
		allCalls = append(allCalls, resp.Message.ToolCalls...)
		for _, r := range responses {
			a.diag.NoteToolRun(r)
			if !r.Success {
				a.diag.Record("tool", r.Error, SeverityWarning, "tool_failure", map[string]any{
					"tool": r.Name,
				})
			}
			a.memory.Add(NewToolMessage(r.ToolCallID, r.Name, r.Content))
		}
		allResults = append(allResults, responses...)

		if ctx.Err() != nil {
			a.state = StateError
			a.diag.Record("deadline", "run deadline exceeded", SeverityCritical, "deadline", nil)
			return result("The request ran out of time before completing.", StatusError), ctx.Err()
		}
		a.state = StateThinking
	}

	// Iteration cap: always produce a non-empty bounded-completion summary.
	a.diag.Record("loop", "iteration cap reached", SeverityWarning, "max_iterations", map[string]any{
		"max_iterations": maxIterations,
	})
	a.logger.Warn("iteration cap reached", "max_iterations", maxIterations)

	summary := a.boundedSummary(ctx, allResults)
	a.state = StateDone
	return result(a.sanitize(summary), StatusMaxIterations), nil
}

// boundedSummary asks the model (without tools) to summarise progress; on
// failure it rolls up the tool trace itself.
func (a *Agent) boundedSummary(ctx context.Context, results []ToolResponse) string {
	messages := append(a.memory.Get(), NewMessage(RoleSystem,
		"The step limit was reached. Summarise in plain text what was "+
			"accomplished, what remains, and any partial results. Do not call tools."))

	sumCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	text, _, err := a.llm.Complete(sumCtx, messages, CompletionOptions{})
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	if err != nil {
		a.logger.Warn("bounded-completion summary failed, using roll-up", "error", err)
	}

	var sb strings.Builder
	sb.WriteString("Reached the step limit before finishing. Progress so far:\n")
	if len(results) == 0 {
		sb.WriteString("- no tools were executed\n")
	}
	for _, r := range results {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Error
		}
		fmt.Fprintf(&sb, "- %s: %s\n", r.Name, status)
	}
	return sb.String()
}

// sanitize applies identity normalisation to user-facing text.
func (a *Agent) sanitize(content string) string {
	if a.sanitizer == nil {
		return content
	}
	return a.sanitizer.Normalize(content)
}

// countEqual counts how many previous entries equal s.
func countEqual(previous []string, s string) int {
	n := 0
	for _, p := range previous {
		if p == s {
			n++
		}
	}
	return n
}
