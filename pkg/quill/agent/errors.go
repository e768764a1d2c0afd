// errors.go defines the runtime's sentinel errors and the classification of
// LLM API errors used for retry and fallback decisions.
package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by the registry, executor, and LLM client.
var (
	// ErrToolNotFound is returned when a tool name is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool is returned when registering a name that already exists.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrToolValidation is returned when a tool is missing required fields.
	ErrToolValidation = errors.New("tool validation failed")

	// ErrInvalidToolArgument is returned when arguments cannot be decoded
	// or fail schema validation.
	ErrInvalidToolArgument = errors.New("invalid tool argument")

	// ErrToolTimeout is returned when a tool exceeds its effective timeout
	// and recovery also fails.
	ErrToolTimeout = errors.New("tool timeout")

	// ErrModelUnavailable is returned when the primary model and every
	// fallback have been exhausted.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrNotSupported is returned for operations the active backend does
	// not implement (e.g. embeddings).
	ErrNotSupported = errors.New("not supported")
)

// APIErrorKind classifies LLM API errors for retry/fallback decisions.
type APIErrorKind int

const (
	APIErrorRetryable     APIErrorKind = iota // transient 5xx
	APIErrorRateLimit                         // 429 — respect Retry-After
	APIErrorOverloaded                        // 529 or "overloaded" in body
	APIErrorTimeout                           // deadline exceeded / timed out
	APIErrorModelNotFound                     // unknown model or model unloaded
	APIErrorAuth                              // 401, 403
	APIErrorContext                           // context_length_exceeded
	APIErrorBadRequest                        // 400 — malformed request
	APIErrorFatal                             // everything else
)

// String returns a human-readable label for the error kind.
func (k APIErrorKind) String() string {
	switch k {
	case APIErrorRetryable:
		return "retryable"
	case APIErrorRateLimit:
		return "rate_limit"
	case APIErrorOverloaded:
		return "overloaded"
	case APIErrorTimeout:
		return "timeout"
	case APIErrorModelNotFound:
		return "model_not_found"
	case APIErrorAuth:
		return "auth"
	case APIErrorContext:
		return "context"
	case APIErrorBadRequest:
		return "bad_request"
	case APIErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether the kind warrants retrying the same model.
func (k APIErrorKind) IsRetryable() bool {
	return k == APIErrorRetryable || k == APIErrorRateLimit ||
		k == APIErrorOverloaded || k == APIErrorTimeout
}

// apiError captures HTTP status, body, and optional Retry-After for 429.
type apiError struct {
	statusCode    int
	body          string
	retryAfterSec int    // from Retry-After header, 0 if not set
	model         string // model that produced the error
}

func (e *apiError) Error() string {
	if e.model != "" {
		return fmt.Sprintf("%s: API returned %d: %s", e.model, e.statusCode, truncate(e.body, 200))
	}
	return fmt.Sprintf("API returned %d: %s", e.statusCode, truncate(e.body, 200))
}

// classifyAPIError determines the error kind from status code and body.
func classifyAPIError(statusCode int, body string) APIErrorKind {
	bodyLower := strings.ToLower(body)

	// Context overflow — highest priority check.
	if strings.Contains(bodyLower, "context_length_exceeded") ||
		strings.Contains(bodyLower, "maximum context length") {
		return APIErrorContext
	}

	// Missing or unloaded model — triggers fallback, not retry.
	if strings.Contains(bodyLower, "model_not_found") ||
		strings.Contains(bodyLower, "model not found") ||
		strings.Contains(bodyLower, "model unloaded") ||
		strings.Contains(bodyLower, "no model loaded") {
		return APIErrorModelNotFound
	}

	// Rate limit.
	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return APIErrorRateLimit
	}

	// Overloaded.
	if statusCode == 529 ||
		strings.Contains(bodyLower, "overloaded") ||
		strings.Contains(bodyLower, "capacity") {
		return APIErrorOverloaded
	}

	// Timeout.
	if strings.Contains(bodyLower, "timeout") ||
		strings.Contains(bodyLower, "deadline") ||
		strings.Contains(bodyLower, "timed out") {
		return APIErrorTimeout
	}

	switch statusCode {
	case 400:
		return APIErrorBadRequest
	case 401, 403:
		return APIErrorAuth
	case 404:
		// A 404 from a chat endpoint usually means the model does not exist.
		return APIErrorModelNotFound
	case 500, 502, 503, 521, 522, 523, 524:
		return APIErrorRetryable
	default:
		if statusCode >= 500 {
			return APIErrorRetryable
		}
		return APIErrorFatal
	}
}

// truncate shortens s to at most n characters, appending "..." when cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
