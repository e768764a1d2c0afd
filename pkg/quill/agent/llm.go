// llm.go implements the LLM client for chat completions with function
// calling support. Uses the OpenAI-compatible API format, which works with
// OpenAI, Anthropic proxies, and local servers (LM Studio, Ollama) exposing
// the same wire shape.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Retry/backoff defaults, overridable via FallbackOptions.
const (
	defaultMaxRetries       = 3
	defaultInitialBackoff   = 1 * time.Second
	defaultMaxBackoff       = 30 * time.Second
	defaultMaxFallbackHops  = 3
	unavailableModelCooloff = 10 * time.Minute
)

// unavailableModels is the process-wide cache of models proven unavailable
// (model_not_found / unloaded). Entries age out after a cooloff so transient
// unloads recover without a restart.
var unavailableModels sync.Map // model -> time.Time (marked at)

// markModelUnavailable records that a model cannot serve requests.
func markModelUnavailable(model string) {
	unavailableModels.Store(model, time.Now())
}

// isModelUnavailable reports whether a model is in the unavailable cache.
func isModelUnavailable(model string) bool {
	v, ok := unavailableModels.Load(model)
	if !ok {
		return false
	}
	if time.Since(v.(time.Time)) > unavailableModelCooloff {
		unavailableModels.Delete(model)
		return false
	}
	return true
}

// clearUnavailable removes a model from the unavailable cache.
func clearUnavailable(model string) {
	unavailableModels.Delete(model)
}

// FallbackOptions configures retry and model fallback.
type FallbackOptions struct {
	// Models is the ordered list of fallback models tried when the current
	// one is proven unavailable.
	Models []string `yaml:"models"`

	// MaxRetries per model before moving on (default: 3).
	MaxRetries int `yaml:"max_retries"`

	// MaxFallbackAttempts caps how many fallback models are tried (default: 3).
	MaxFallbackAttempts int `yaml:"max_fallback_attempts"`

	// InitialBackoffMs is the initial retry delay in ms (default: 1000).
	InitialBackoffMs int `yaml:"initial_backoff_ms"`

	// MaxBackoffMs caps the backoff (default: 30000).
	MaxBackoffMs int `yaml:"max_backoff_ms"`
}

// CompletionOptions are per-call overrides.
type CompletionOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
	ToolChoice  ToolChoice

	// ToolChoiceName forces a specific function when set; overrides ToolChoice.
	ToolChoiceName string
}

// LLMUsage holds token usage from the API response.
type LLMUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMResponse is the normalised response of one completion.
type LLMResponse struct {
	Message      Message
	FinishReason string
	Usage        LLMUsage
	ModelUsed    string
	Latency      time.Duration

	// ExtractedFreeText is true when tool calls were parsed out of plain
	// assistant text rather than the structured field.
	ExtractedFreeText bool
}

// PerformanceMetrics aggregates client-level counters for introspection.
type PerformanceMetrics struct {
	Calls            int64
	Retries          int64
	FallbackAttempts int64
	TotalLatency     time.Duration
	LastLatency      time.Duration
	PromptTokens     int64
	CompletionTokens int64
}

// LLMClient talks to an OpenAI-compatible chat-completions endpoint with
// retry, model fallback, and free-text tool-call extraction.
type LLMClient struct {
	baseURL     string
	apiKey      string
	temperature *float64
	maxTokens   *int
	fallback    FallbackOptions
	httpClient  *http.Client
	logger      *slog.Logger

	mu         sync.Mutex
	configured string // model from config, restorable via ResetModel
	current    string // model actually used (may be a fallback)
	metrics    PerformanceMetrics
}

// NewLLMClient creates a client from config.
func NewLLMClient(cfg APIOptions, fallback FallbackOptions, logger *slog.Logger) *LLMClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &LLMClient{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		fallback:    fallback,
		configured:  cfg.Model,
		current:     cfg.Model,
		httpClient: &http.Client{
			// No global timeout: each call carries its own context deadline.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 180 * time.Second,
			},
		},
		logger: logger.With("component", "llm"),
	}
}

// Model returns the model currently in use (primary or fallback).
func (c *LLMClient) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ResetModel restores the configured primary model and clears its
// unavailable mark.
func (c *LLMClient) ResetModel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clearUnavailable(c.configured)
	c.current = c.configured
	c.logger.Info("model reset to primary", "model", c.configured)
}

// Metrics returns a snapshot of client counters.
func (c *LLMClient) Metrics() PerformanceMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// ---------- Wire Types ----------

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []chatMessage    `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  any              `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *LLMUsage `json:"usage"`
	Model string    `json:"model"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// toWire converts runtime messages to the wire shape.
func toWire(msgs []Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	return out
}

// ---------- Public API ----------

// Complete posts a plain chat completion (no tools) and returns the text.
func (c *LLMClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, LLMUsage, error) {
	opts.ToolChoice = ToolChoiceNone
	resp, err := c.ChatWithTools(ctx, messages, nil, opts)
	if err != nil {
		return "", LLMUsage{}, err
	}
	return resp.Message.Content, resp.Usage, nil
}

// ChatWithTools posts a chat completion with function schemas attached and
// returns a normalised assistant message. Structured tool calls are decoded;
// free-text tool requests in the content are extracted (see extract.go). An
// empty content with tool calls is a valid tool-only turn.
func (c *LLMClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, opts CompletionOptions) (*LLMResponse, error) {
	resp, err := c.completeWithFallback(ctx, toWire(messages), tools, opts)
	if err != nil {
		return nil, err
	}

	// Normalise arguments: keep raw strings that fail JSON decode, flagged
	// so the loop can ask the model to correct itself.
	for i := range resp.Message.ToolCalls {
		tc := &resp.Message.ToolCalls[i]
		if tc.Type == "" {
			tc.Type = "function"
		}
		if args := tc.Function.Arguments; args != "" {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(args), &decoded); err != nil {
				tc.ArgumentsParseError = err.Error()
			}
		}
	}

	// Free-text tool requests: extract them from the content when the model
	// ignored the structured interface.
	if len(resp.Message.ToolCalls) == 0 && resp.Message.Content != "" {
		calls, remainder := ExtractToolCalls(resp.Message.Content)
		if len(calls) > 0 {
			resp.Message.ToolCalls = calls
			resp.Message.Content = remainder
			resp.ExtractedFreeText = true
			c.logger.Info("extracted tool calls from free text",
				"count", len(calls), "model", resp.ModelUsed)
		}
	}

	return resp, nil
}

// Embed returns the embedding vector for text. Fails with ErrNotSupported
// when the endpoint rejects the request (local servers often do).
func (c *LLMClient) Embed(ctx context.Context, text, model string) ([]float64, error) {
	body, _ := json.Marshal(embeddingRequest{Model: model, Input: []string{text}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if httpResp.StatusCode == http.StatusNotFound || httpResp.StatusCode == http.StatusNotImplemented {
		return nil, fmt.Errorf("%w: embeddings on %s", ErrNotSupported, c.baseURL)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &apiError{statusCode: httpResp.StatusCode, body: string(respBody), model: model}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return parsed.Data[0].Embedding, nil
}

// ---------- Retry + Fallback ----------

// completeWithFallback drives the retry/backoff loop for the current model
// and substitutes fallback models when the current one is proven unavailable.
func (c *LLMClient) completeWithFallback(ctx context.Context, messages []chatMessage, tools []ToolDefinition, opts CompletionOptions) (*LLMResponse, error) {
	primary := opts.Model
	if primary == "" {
		primary = c.Model()
	}

	maxRetries := c.fallback.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	maxHops := c.fallback.MaxFallbackAttempts
	if maxHops <= 0 {
		maxHops = defaultMaxFallbackHops
	}
	initialBackoff := defaultInitialBackoff
	if c.fallback.InitialBackoffMs > 0 {
		initialBackoff = time.Duration(c.fallback.InitialBackoffMs) * time.Millisecond
	}
	maxBackoff := defaultMaxBackoff
	if c.fallback.MaxBackoffMs > 0 {
		maxBackoff = time.Duration(c.fallback.MaxBackoffMs) * time.Millisecond
	}

	candidates := make([]string, 0, 1+len(c.fallback.Models))
	candidates = append(candidates, primary)
	for _, m := range c.fallback.Models {
		if m != primary {
			candidates = append(candidates, m)
		}
	}

	var lastErr error
	hops := 0

	for idx, model := range candidates {
		if idx > 0 {
			hops++
			if hops > maxHops {
				break
			}
			c.mu.Lock()
			c.metrics.FallbackAttempts++
			c.mu.Unlock()
		}
		if isModelUnavailable(model) {
			c.logger.Debug("skipping unavailable model", "model", model)
			lastErr = fmt.Errorf("%w: %s", ErrModelUnavailable, model)
			continue
		}

		for attempt := 0; attempt < maxRetries; attempt++ {
			if attempt > 0 {
				c.mu.Lock()
				c.metrics.Retries++
				c.mu.Unlock()
			}

			resp, err := c.completeOnce(ctx, model, messages, tools, opts)
			if err == nil {
				// Model works: make it sticky until ResetModel.
				c.mu.Lock()
				c.current = model
				c.mu.Unlock()
				clearUnavailable(model)
				return resp, nil
			}
			lastErr = err

			statusCode, body, retryAfterSec := 0, "", 0
			if apierr, ok := err.(*apiError); ok {
				statusCode = apierr.statusCode
				body = apierr.body
				retryAfterSec = apierr.retryAfterSec
			}
			kind := classifyAPIError(statusCode, body)

			// Proven-unavailable model: mark it and move to the next
			// candidate without burning the remaining retries.
			if kind == APIErrorModelNotFound {
				markModelUnavailable(model)
				c.logger.Warn("model unavailable, switching to fallback",
					"model", model, "error", err)
				break
			}

			if !kind.IsRetryable() {
				c.logger.Warn("non-retryable LLM error",
					"model", model, "kind", kind.String(), "error", err)
				return nil, err
			}

			if attempt == maxRetries-1 {
				c.logger.Warn("exhausted retries for model",
					"model", model, "attempts", attempt+1, "error", err)
				break
			}

			// Exponential backoff: min(initial * 2^attempt, max), bumped to
			// the server's Retry-After on 429.
			backoff := initialBackoff << attempt
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if kind == APIErrorRateLimit && retryAfterSec > 0 {
				server := time.Duration(retryAfterSec) * time.Second
				if server > backoff {
					backoff = server
				}
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}

			c.logger.Info("retrying LLM call",
				"model", model,
				"attempt", attempt+1,
				"kind", kind.String(),
				"backoff_ms", backoff.Milliseconds(),
			)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("cancelled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate models configured")
	}
	return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, lastErr)
}

// completeOnce performs a single HTTP round trip against one model.
func (c *LLMClient) completeOnce(ctx context.Context, model string, messages []chatMessage, tools []ToolDefinition, opts CompletionOptions) (*LLMResponse, error) {
	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Tools:       tools,
	}
	if opts.Temperature != nil {
		reqBody.Temperature = opts.Temperature
	}
	if opts.MaxTokens != nil {
		reqBody.MaxTokens = opts.MaxTokens
	}
	if len(tools) > 0 {
		switch {
		case opts.ToolChoiceName != "":
			reqBody.ToolChoice = map[string]any{
				"type":     "function",
				"function": map[string]string{"name": opts.ToolChoiceName},
			}
		case opts.ToolChoice != "":
			reqBody.ToolChoice = string(opts.ToolChoice)
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 50<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	latency := time.Since(start)

	if httpResp.StatusCode != http.StatusOK {
		apierr := &apiError{
			statusCode: httpResp.StatusCode,
			body:       string(respBody),
			model:      model,
		}
		if ra := httpResp.Header.Get("Retry-After"); ra != "" {
			if sec, convErr := strconv.Atoi(ra); convErr == nil {
				apierr.retryAfterSec = sec
			}
		}
		return nil, apierr
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &apiError{statusCode: httpResp.StatusCode, body: parsed.Error.Message, model: model}
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	choice := parsed.Choices[0]
	resp := &LLMResponse{
		Message: Message{
			Role:      RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: choice.Message.ToolCalls,
			CreatedAt: time.Now(),
		},
		FinishReason: choice.FinishReason,
		ModelUsed:    model,
		Latency:      latency,
	}
	if parsed.Usage != nil {
		resp.Usage = *parsed.Usage
	}

	c.mu.Lock()
	c.metrics.Calls++
	c.metrics.TotalLatency += latency
	c.metrics.LastLatency = latency
	c.metrics.PromptTokens += int64(resp.Usage.PromptTokens)
	c.metrics.CompletionTokens += int64(resp.Usage.CompletionTokens)
	c.mu.Unlock()

	c.logger.Debug("completion ok",
		"model", model,
		"latency_ms", latency.Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"tool_calls", len(resp.Message.ToolCalls),
	)
	return resp, nil
}

func (c *LLMClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
