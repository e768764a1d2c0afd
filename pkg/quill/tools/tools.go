// Package tools provides the builtin tool set: clock, calc, read_file, and
// http_fetch. They cover the common cases a fresh install needs and double as
// reference implementations for custom tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hvilela/quill/pkg/quill/agent"
	"github.com/hvilela/quill/pkg/quill/agent/security"
)

// maxFetchBytes caps http_fetch response bodies.
const maxFetchBytes = 1 << 20

// maxReadBytes caps read_file contents.
const maxReadBytes = 512 << 10

// Options wires the guards into the file and network tools.
type Options struct {
	Paths *security.PathGuard
	URLs  *security.URLGuard
}

// Builtin returns the builtin tool set.
func Builtin(opts Options) []*agent.Tool {
	return []*agent.Tool{
		Clock(),
		Calc(),
		ReadFile(opts.Paths),
		HTTPFetch(opts.URLs),
	}
}

// Clock returns the current time. Not cacheable for obvious reasons.
func Clock() *agent.Tool {
	return &agent.Tool{
		Name:        "clock",
		Description: "Get the current date and time, optionally in a named IANA timezone.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"timezone": {"type": "string", "description": "IANA timezone name, e.g. Europe/Lisbon. Defaults to UTC."}
			}
		}`),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			loc := time.UTC
			if tz, ok := args["timezone"].(string); ok && tz != "" {
				parsed, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", tz)
				}
				loc = parsed
			}
			now := time.Now().In(loc)
			return map[string]any{
				"iso":      now.Format(time.RFC3339),
				"unix":     now.Unix(),
				"timezone": loc.String(),
				"weekday":  now.Weekday().String(),
			}, nil
		},
	}
}

// Calc evaluates a basic arithmetic expression.
func Calc() *agent.Tool {
	return &agent.Tool{
		Name:        "calc",
		Description: "Evaluate an arithmetic expression with + - * / % ^ and parentheses.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": {"type": "string", "description": "The expression to evaluate, e.g. (2+3)*4."}
			},
			"required": ["expression"]
		}`),
		Cacheable: true,
		CacheTTL:  time.Hour,
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			expr, _ := args["expression"].(string)
			if strings.TrimSpace(expr) == "" {
				return nil, fmt.Errorf("expression is required")
			}
			value, err := evalExpression(expr)
			if err != nil {
				return nil, err
			}
			return map[string]any{"expression": expr, "result": value}, nil
		},
	}
}

// ReadFile reads a workspace file. Every path goes through the guard; nil
// guard confines to the current directory.
func ReadFile(guard *security.PathGuard) *agent.Tool {
	return &agent.Tool{
		Name:        "read_file",
		Description: "Read a text file from the workspace. Paths outside the workspace are rejected.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path, relative to the workspace root."}
			},
			"required": ["path"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return nil, fmt.Errorf("path is required")
			}

			g := guard
			if g == nil {
				var err error
				if g, err = security.NewPathGuard("", nil, nil); err != nil {
					return nil, err
				}
			}
			resolved, err := g.Resolve(path)
			if err != nil {
				return nil, err
			}

			f, err := os.Open(resolved)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			truncated := false
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
				truncated = true
			}
			return map[string]any{
				"path":      path,
				"content":   string(data),
				"truncated": truncated,
			}, nil
		},
	}
}

// HTTPFetch retrieves a URL after the guard clears it.
func HTTPFetch(guard *security.URLGuard) *agent.Tool {
	client := &http.Client{Timeout: 30 * time.Second}
	return &agent.Tool{
		Name:        "http_fetch",
		Description: "Fetch a public http(s) URL and return the response body as text.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The URL to fetch."}
			},
			"required": ["url"]
		}`),
		Cacheable: true,
		CacheTTL:  5 * time.Minute,
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			rawURL, _ := args["url"].(string)
			if rawURL == "" {
				return nil, fmt.Errorf("url is required")
			}

			g := guard
			if g == nil {
				g = security.NewURLGuard(security.URLGuardConfig{})
			}
			if err := g.Check(rawURL); err != nil {
				return nil, fmt.Errorf("blocked: %w", err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", "quill/1.0")

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			truncated := false
			if len(body) > maxFetchBytes {
				body = body[:maxFetchBytes]
				truncated = true
			}
			return map[string]any{
				"url":          rawURL,
				"status":       resp.StatusCode,
				"content_type": resp.Header.Get("Content-Type"),
				"body":         string(body),
				"truncated":    truncated,
			}, nil
		},
	}
}
