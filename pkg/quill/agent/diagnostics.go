// diagnostics.go records errors and last-activity summaries for a single
// agent. The record is owned by its agent; Report() hands out copies.
package agent

import (
	"sync"
	"time"
)

// DiagnosticSeverity ranks recorded problems.
type DiagnosticSeverity string

const (
	SeverityInfo     DiagnosticSeverity = "info"
	SeverityWarning  DiagnosticSeverity = "warning"
	SeverityError    DiagnosticSeverity = "error"
	SeverityCritical DiagnosticSeverity = "critical"
)

// DiagnosticEntry is one recorded problem.
type DiagnosticEntry struct {
	Kind      string             `json:"kind"`
	Message   string             `json:"message"`
	Severity  DiagnosticSeverity `json:"severity"`
	Code      string             `json:"code,omitempty"`
	Context   map[string]any     `json:"context,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// LLMCallSummary describes the most recent LLM request.
type LLMCallSummary struct {
	Model     string        `json:"model"`
	Latency   time.Duration `json:"latency"`
	Usage     LLMUsage      `json:"usage"`
	ToolCalls int           `json:"tool_calls"`
	Timestamp time.Time     `json:"timestamp"`
}

// ToolExecSummary describes the most recent tool execution.
type ToolExecSummary struct {
	Tool      string        `json:"tool"`
	Success   bool          `json:"success"`
	Cached    bool          `json:"cached"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// DiagnosticReport is a copy of the record safe to hand to callers.
type DiagnosticReport struct {
	Errors      []DiagnosticEntry `json:"errors"`
	LastLLMCall *LLMCallSummary   `json:"last_llm_call,omitempty"`
	LastToolRun *ToolExecSummary  `json:"last_tool_run,omitempty"`
}

// Diagnostics accumulates entries during a run.
type Diagnostics struct {
	mu          sync.Mutex
	entries     []DiagnosticEntry
	lastLLMCall *LLMCallSummary
	lastToolRun *ToolExecSummary
}

// NewDiagnostics creates an empty record.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Record appends an error entry.
func (d *Diagnostics) Record(kind, message string, severity DiagnosticSeverity, code string, ctx map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, DiagnosticEntry{
		Kind:      kind,
		Message:   message,
		Severity:  severity,
		Code:      code,
		Context:   ctx,
		Timestamp: time.Now(),
	})
}

// NoteLLMCall records the latest LLM request summary.
func (d *Diagnostics) NoteLLMCall(resp *LLMResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLLMCall = &LLMCallSummary{
		Model:     resp.ModelUsed,
		Latency:   resp.Latency,
		Usage:     resp.Usage,
		ToolCalls: len(resp.Message.ToolCalls),
		Timestamp: time.Now(),
	}
}

// NoteToolRun records the latest tool execution summary.
func (d *Diagnostics) NoteToolRun(r ToolResponse) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastToolRun = &ToolExecSummary{
		Tool:      r.Name,
		Success:   r.Success,
		Cached:    r.Cached,
		Duration:  r.Duration,
		Error:     r.Error,
		Timestamp: time.Now(),
	}
}

// Reset clears the record for a fresh run.
func (d *Diagnostics) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
	d.lastLLMCall = nil
	d.lastToolRun = nil
}

// Report returns a copy of the current record.
func (d *Diagnostics) Report() *DiagnosticReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	report := &DiagnosticReport{
		Errors: make([]DiagnosticEntry, len(d.entries)),
	}
	copy(report.Errors, d.entries)
	if d.lastLLMCall != nil {
		llm := *d.lastLLMCall
		report.LastLLMCall = &llm
	}
	if d.lastToolRun != nil {
		tool := *d.lastToolRun
		report.LastToolRun = &tool
	}
	return report
}
