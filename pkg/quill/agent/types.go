// Package agent implements the Quill agent runtime: a bounded think/act loop
// that alternates LLM calls and tool executions until the model produces a
// final text response. The package owns the conversation memory, the tool
// registry and executor, the LLM client with retry/fallback, the response
// sanitizer, the planner, and session management.
package agent

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
)

// Message is one conversation entry. Immutable after creation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool messages, linking the result back
	// to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`

	// ArgumentsParseError is set when the arguments string from the model
	// was not valid JSON. The raw string is preserved so the model can be
	// asked to correct itself on the next turn.
	ArgumentsParseError string `json:"-"`
}

// FunctionCall holds the function name and serialized arguments from the LLM.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResponse is the outcome of executing one tool call.
type ToolResponse struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Success    bool   `json:"success"`

	// Content is the string form fed back to the LLM as a tool message.
	Content string `json:"content"`

	// Raw retains the tool's original return value when it was not a string.
	Raw any `json:"-"`

	Error string `json:"error,omitempty"`

	// Cached is true when the result came from the tool cache.
	Cached bool `json:"cached,omitempty"`

	Duration time.Duration `json:"-"`
}

// ToolDefinition is the OpenAI-style function schema exposed to the LLM.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the LLM.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolChoice controls whether the model may, must, or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// Mode selects how a prompt is driven through the runtime.
type Mode string

const (
	// ModeAct runs the think/act loop directly on the prompt.
	ModeAct Mode = "act"

	// ModePlan decomposes the prompt into steps first and drives the agent
	// across them.
	ModePlan Mode = "plan"
)

// RunResult is the outcome of a single agent run.
type RunResult struct {
	Response       string            `json:"response"`
	Status         string            `json:"status"` // "success" or "error"
	ToolCalls      []ToolCall        `json:"tool_calls"`
	ToolResults    []ToolResponse    `json:"tool_results"`
	ConversationID string            `json:"conversation_id"`
	Iterations     int               `json:"iterations"`
	Diagnostics    *DiagnosticReport `json:"diagnostics,omitempty"`
}

// NewMessage creates a message with the creation timestamp set.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now()}
}

// NewToolMessage creates a tool-role message carrying a tool result.
func NewToolMessage(callID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		Name:       name,
		CreatedAt:  time.Now(),
	}
}
