// planner.go implements the planning flow: the model decomposes a prompt into
// an ordered list of steps, the agent executes each step in turn, and the
// per-step outcomes are rolled up into one summary.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StepStatus is the lifecycle of one plan step.
type StepStatus string

const (
	StepNotStarted StepStatus = "not_started"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepBlocked    StepStatus = "blocked"
)

// Plan is an ordered list of steps with parallel status and note slices.
// The three slices always have equal length, and at most one step is
// in_progress at a time.
type Plan struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Steps            []string     `json:"steps"`
	StepStatuses     []StepStatus `json:"step_statuses"`
	StepNotes        []string     `json:"step_notes"`
	CurrentStepIndex int          `json:"current_step_index"`
}

// NewPlan creates a plan with all steps not_started.
func NewPlan(title string, steps []string) *Plan {
	p := &Plan{
		ID:               uuid.NewString(),
		Title:            title,
		Steps:            steps,
		StepStatuses:     make([]StepStatus, len(steps)),
		StepNotes:        make([]string, len(steps)),
		CurrentStepIndex: 0,
	}
	for i := range p.StepStatuses {
		p.StepStatuses[i] = StepNotStarted
	}
	return p
}

// setStatus moves one step to status, demoting any other in_progress step.
func (p *Plan) setStatus(i int, status StepStatus, note string) {
	if i < 0 || i >= len(p.Steps) {
		return
	}
	if status == StepInProgress {
		for j, s := range p.StepStatuses {
			if j != i && s == StepInProgress {
				p.StepStatuses[j] = StepNotStarted
			}
		}
	}
	p.StepStatuses[i] = status
	if note != "" {
		p.StepNotes[i] = note
	}
}

// StatusLine renders the plan as one line per step for step prompts.
func (p *Plan) StatusLine() string {
	var sb strings.Builder
	for i, step := range p.Steps {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, p.StepStatuses[i], step)
	}
	return sb.String()
}

// planPrompt asks the model for a strict JSON array of steps.
const planPrompt = "Break the user's request into a short ordered list of " +
	"concrete steps. Respond with ONLY a JSON array of strings, e.g. " +
	`["First step","Second step"]. Use 2 to 7 steps.`

// defaultPlanSteps is the fallback when the plan response cannot be parsed.
var defaultPlanSteps = []string{
	"Analyse request",
	"Execute task",
	"Verify results",
}

// RunPlan drives a prompt through plan-then-execute: build the plan, run the
// agent once per step, then summarise. Step failures block the run unless
// planning.continue_on_failure is set.
func (a *Agent) RunPlan(ctx context.Context, prompt string) (*RunResult, error) {
	// Nothing to plan; same direct answer the act loop gives.
	if strings.TrimSpace(prompt) == "" {
		return a.RunAct(ctx, prompt)
	}

	plan := a.buildPlan(ctx, prompt)
	a.logger.Info("plan created", "plan_id", plan.ID, "steps", len(plan.Steps))

	var (
		allCalls    []ToolCall
		allResults  []ToolResponse
		stepOutputs = make([]string, len(plan.Steps))
		iterations  int
		lastErr     error
	)

	for i, step := range plan.Steps {
		plan.CurrentStepIndex = i
		plan.setStatus(i, StepInProgress, "")

		stepPrompt := fmt.Sprintf(
			"You are executing a plan for the request: %s\n\nPlan status:\n%s\nCurrent step (%d of %d): %s\n\nComplete only this step.",
			prompt, plan.StatusLine(), i+1, len(plan.Steps), step)

		res, err := a.RunAct(ctx, stepPrompt)
		if res != nil {
			iterations += res.Iterations
			allCalls = append(allCalls, res.ToolCalls...)
			allResults = append(allResults, res.ToolResults...)
		}
		if err != nil || res == nil || res.Status == StatusError {
			msg := "step failed"
			if err != nil {
				msg = err.Error()
			} else if res != nil && res.Response != "" {
				msg = res.Response
			}
			plan.setStatus(i, StepBlocked, msg)
			lastErr = err
			a.logger.Warn("plan step blocked", "plan_id", plan.ID, "step", i+1, "error", msg)
			if !a.cfg.Planning.ContinueOnFailure {
				break
			}
			continue
		}

		stepOutputs[i] = res.Response
		plan.setStatus(i, StepCompleted, res.Response)
	}

	summary := a.planSummary(ctx, prompt, plan, stepOutputs)
	status := StatusSuccess
	for _, s := range plan.StepStatuses {
		if s == StepBlocked {
			status = StatusError
			break
		}
	}

	return &RunResult{
		Response:       a.sanitize(summary),
		Status:         status,
		ToolCalls:      allCalls,
		ToolResults:    allResults,
		ConversationID: a.id,
		Iterations:     iterations,
		Diagnostics:    a.diag.Report(),
	}, lastErr
}

// buildPlan asks the model for steps, falling back to the default plan when
// the reply does not parse as a JSON string array.
func (a *Agent) buildPlan(ctx context.Context, prompt string) *Plan {
	planCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	messages := []Message{
		NewMessage(RoleSystem, planPrompt),
		NewMessage(RoleUser, prompt),
	}
	text, _, err := a.llm.Complete(planCtx, messages, CompletionOptions{})
	if err != nil {
		a.logger.Warn("plan request failed, using default plan", "error", err)
		return NewPlan(prompt, defaultPlanSteps)
	}

	steps, ok := parsePlanSteps(text)
	if !ok {
		a.logger.Warn("plan response not parseable, using default plan")
		a.diag.Record("planner", "unparseable plan response", SeverityWarning, "plan_parse", nil)
		return NewPlan(prompt, defaultPlanSteps)
	}
	return NewPlan(prompt, steps)
}

// parsePlanSteps extracts a JSON string array from a model reply, tolerating
// surrounding prose and code fences.
func parsePlanSteps(text string) ([]string, bool) {
	trimmed := strings.TrimSpace(stripCodeFence(text))
	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start == -1 || end <= start {
		return nil, false
	}

	var steps []string
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &steps); err != nil {
		return nil, false
	}
	out := steps[:0]
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// planSummary asks the model for a natural-language roll-up; on failure it
// builds a structured one from the plan itself.
func (a *Agent) planSummary(ctx context.Context, prompt string, plan *Plan, outputs []string) string {
	var detail strings.Builder
	for i, step := range plan.Steps {
		fmt.Fprintf(&detail, "Step %d (%s): %s\n", i+1, plan.StepStatuses[i], step)
		if outputs[i] != "" {
			fmt.Fprintf(&detail, "Result: %s\n", outputs[i])
		} else if plan.StepNotes[i] != "" {
			fmt.Fprintf(&detail, "Note: %s\n", plan.StepNotes[i])
		}
	}

	sumCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	messages := []Message{
		NewMessage(RoleSystem, "Summarise the outcome of this plan execution "+
			"for the user in plain language. Mention anything that was blocked."),
		NewMessage(RoleUser, fmt.Sprintf("Request: %s\n\n%s", prompt, detail.String())),
	}
	text, _, err := a.llm.Complete(sumCtx, messages, CompletionOptions{})
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text)
	}
	if err != nil {
		a.logger.Warn("plan summary request failed, using structured roll-up", "error", err)
	}
	return "Plan execution finished.\n\n" + detail.String()
}
