package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// scriptedLLM serves scripted chat turns. The handler receives the decoded
// request and the 1-based turn number and returns the response body.
func scriptedLLM(t *testing.T, handler func(turn int, req chatRequest) []byte) *httptest.Server {
	t.Helper()
	var turn atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write(handler(int(turn.Add(1)), req))
	}))
}

// requestMentions reports whether any message in the request contains s.
func requestMentions(req chatRequest, s string) bool {
	for _, m := range req.Messages {
		if strings.Contains(m.Content, s) {
			return true
		}
	}
	return false
}

func newLoopAgent(t *testing.T, serverURL, model string, mutate func(*Config)) *Agent {
	t.Helper()
	cfg := DefaultConfig()
	cfg.API.BaseURL = serverURL
	cfg.API.Model = model
	cfg.Fallback.InitialBackoffMs = 1
	cfg.Fallback.MaxRetries = 1
	if mutate != nil {
		mutate(cfg)
	}
	a := NewAgent(cfg, AgentDeps{}, testLogger())

	stamp := &Tool{
		Name:        "stamp",
		Description: "returns a fixed timestamp",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			return "12:00", nil
		},
	}
	if err := a.RegisterTools(stamp); err != nil {
		t.Fatalf("register: %v", err)
	}
	return a
}

func stampCall(id string) []ToolCall {
	return []ToolCall{{
		ID:       id,
		Type:     "function",
		Function: FunctionCall{Name: "stamp", Arguments: "{}"},
	}}
}

func TestRunActToolThenAnswer(t *testing.T) {
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		switch turn {
		case 1:
			return chatBody("", stampCall("c1"))
		default:
			// The tool result must be visible on the second turn.
			if !requestMentions(req, "12:00") {
				t.Error("tool result missing from follow-up request")
			}
			return chatBody("The time is 12:00.", nil)
		}
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-basic", nil)
	result, err := a.Run(context.Background(), "what time is it?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("expected success, got %s", result.Status)
	}
	if result.Response != "The time is 12:00." {
		t.Errorf("unexpected response %q", result.Response)
	}
	if result.Iterations != 2 {
		t.Errorf("expected 2 iterations, got %d", result.Iterations)
	}
	if len(result.ToolCalls) != 1 || len(result.ToolResults) != 1 {
		t.Errorf("expected 1 call and 1 result, got %d/%d", len(result.ToolCalls), len(result.ToolResults))
	}
	if a.State() != StateDone {
		t.Errorf("expected done state, got %s", a.State())
	}
	if result.ConversationID != a.ID() {
		t.Error("result should carry the conversation id")
	}
}

func TestRunActBlankPrompt(t *testing.T) {
	// The scripted model would happily call a tool; a blank prompt must
	// never give it the chance.
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		t.Error("a blank prompt must not reach the model")
		return chatBody("", stampCall("c1"))
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-blank", nil)
	for _, prompt := range []string{"", "   ", "\n\t"} {
		result, err := a.Run(context.Background(), prompt)
		if err != nil {
			t.Fatalf("run %q: %v", prompt, err)
		}
		if result.Status != StatusSuccess {
			t.Errorf("prompt %q: expected success, got %s", prompt, result.Status)
		}
		if strings.TrimSpace(result.Response) == "" {
			t.Errorf("prompt %q: expected a non-empty default response", prompt)
		}
		if len(result.ToolCalls) != 0 || len(result.ToolResults) != 0 {
			t.Errorf("prompt %q: expected no tool activity, got %d/%d",
				prompt, len(result.ToolCalls), len(result.ToolResults))
		}
		if a.State() != StateDone {
			t.Errorf("prompt %q: expected done state, got %s", prompt, a.State())
		}
	}
	if a.Memory().Len() != 0 {
		t.Errorf("blank prompts must not enter the conversation window, have %d messages", a.Memory().Len())
	}

	// Plan mode answers the same way without building a plan.
	a.SetMode(ModePlan)
	result, err := a.Run(context.Background(), "  ")
	if err != nil {
		t.Fatalf("plan run: %v", err)
	}
	if result.Status != StatusSuccess || strings.TrimSpace(result.Response) == "" {
		t.Errorf("plan mode: expected a default answer, got status %s response %q",
			result.Status, result.Response)
	}
}

func TestRunActMaxIterations(t *testing.T) {
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		if requestMentions(req, "step limit was reached") {
			return chatBody("Partial progress: fetched the time twice.", nil)
		}
		return chatBody("", stampCall("c1"))
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-cap", func(cfg *Config) {
		cfg.Agent.MaxIterations = 2
	})
	result, err := a.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusMaxIterations {
		t.Errorf("expected max_iterations status, got %s", result.Status)
	}
	if !strings.Contains(result.Response, "Partial progress") {
		t.Errorf("expected the bounded summary, got %q", result.Response)
	}
	if result.Iterations != 2 {
		t.Errorf("expected the cap to hold at 2, got %d", result.Iterations)
	}
	if len(result.ToolResults) != 2 {
		t.Errorf("expected 2 tool results, got %d", len(result.ToolResults))
	}
}

func TestRunActDuplicateNudge(t *testing.T) {
	const repeated = "Still working on it."
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		switch turn {
		case 1, 2:
			return chatBody(repeated, stampCall("c1"))
		case 3:
			return chatBody(repeated, nil)
		default:
			if !requestMentions(req, "same response multiple times") {
				t.Error("strategy nudge missing from request after stuck detection")
			}
			return chatBody("Done: the time is 12:00.", nil)
		}
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-stuck", nil)
	result, err := a.Run(context.Background(), "what time is it?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("expected eventual success, got %s", result.Status)
	}
	if !strings.Contains(result.Response, "Done") {
		t.Errorf("unexpected final response %q", result.Response)
	}

	var sawStuck bool
	for _, e := range result.Diagnostics.Errors {
		if e.Code == "stuck" {
			sawStuck = true
		}
	}
	if !sawStuck {
		t.Error("expected a stuck diagnostic entry")
	}
}

func TestRunActEmptyReply(t *testing.T) {
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		if turn == 1 {
			return chatBody("", nil)
		}
		if !requestMentions(req, "last reply was empty") {
			t.Error("empty-reply nudge missing from follow-up request")
		}
		return chatBody("Here is the answer.", nil)
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-empty", nil)
	result, err := a.Run(context.Background(), "hello")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusSuccess || result.Iterations != 2 {
		t.Errorf("expected recovery on turn 2, got status %s after %d iterations",
			result.Status, result.Iterations)
	}
}

func TestRunActLLMFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"schema rejected"}}`))
	}))
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-fail", nil)
	result, err := a.Run(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected an error")
	}
	if result == nil {
		t.Fatal("result must be non-nil even on failure")
	}
	if result.Status != StatusError {
		t.Errorf("expected error status, got %s", result.Status)
	}
	if !strings.Contains(result.Response, "could not be completed") {
		t.Errorf("expected the failure notice, got %q", result.Response)
	}
	if a.State() != StateError {
		t.Errorf("expected error state, got %s", a.State())
	}
}

func TestRunActSanitizesResponse(t *testing.T) {
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		return chatBody("I am ChatGPT, happy to help.", nil)
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-sanitize", nil)
	result, err := a.Run(context.Background(), "who are you?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Contains(result.Response, "ChatGPT") {
		t.Errorf("foreign identity leaked: %q", result.Response)
	}
	if !strings.Contains(result.Response, "Quill") {
		t.Errorf("expected the configured name, got %q", result.Response)
	}
}

func TestRunActFreeTextNudge(t *testing.T) {
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		if turn == 1 {
			content := `[TOOL_REQUEST]{"name":"stamp","arguments":{}}[END_TOOL_REQUEST]`
			return chatBody(content, nil)
		}
		if !requestMentions(req, "structured tool-calling interface") {
			t.Error("structured-interface note missing after free-text extraction")
		}
		return chatBody("The time is 12:00.", nil)
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-freetext", nil)
	result, err := a.Run(context.Background(), "what time is it?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("expected success, got %s", result.Status)
	}
	if len(result.ToolCalls) != 1 {
		t.Errorf("expected the extracted call to execute, got %d calls", len(result.ToolCalls))
	}
}

func TestExecuteToolDirect(t *testing.T) {
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		t.Error("direct tool execution must not reach the LLM")
		return chatBody("", nil)
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-direct", nil)

	value, err := a.ExecuteTool(context.Background(), "stamp", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if value != "12:00" {
		t.Errorf("expected the tool result, got %v", value)
	}

	if _, err := a.ExecuteTool(context.Background(), "missing", nil); err == nil {
		t.Error("expected an error for an unknown tool")
	}
}

func TestAgentCleanup(t *testing.T) {
	server := scriptedLLM(t, func(turn int, req chatRequest) []byte {
		return chatBody("ok", nil)
	})
	defer server.Close()

	a := newLoopAgent(t, server.URL, "test-loop-cleanup", nil)
	a.SetSystemPrompt("you are terse")
	if _, err := a.Run(context.Background(), "hello"); err != nil {
		t.Fatalf("run: %v", err)
	}

	a.Cleanup()
	msgs := a.Memory().Get()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Fatalf("expected only the system prompt after cleanup, got %+v", msgs)
	}
	if a.State() != StateIdle {
		t.Errorf("expected idle state, got %s", a.State())
	}
}
