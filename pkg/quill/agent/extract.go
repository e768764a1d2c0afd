// extract.go parses tool-call requests out of free-form assistant text for
// models that ignore the structured tool-calling interface. Three delimited
// formats are accepted, in precedence order, plus bare JSON objects shaped
// like {"name":…,"arguments":…}. Anything else is plain content.
package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// freeTextPatterns are the accepted delimited formats, tried in order.
var freeTextPatterns = []*regexp.Regexp{
	// [TOOL_REQUEST]{"name":"x","arguments":{}}[END_TOOL_REQUEST]
	regexp.MustCompile(`(?s)\[TOOL_REQUEST\](.*?)\[END_TOOL_REQUEST\]`),
	// ```tool_code\n{"name":"x","arguments":{}}\n```
	regexp.MustCompile("(?s)```tool_code\\s*(.*?)```"),
	// <function_call>{"name":"x","arguments":{}}</function_call>
	regexp.MustCompile(`(?s)<function_call>(.*?)</function_call>`),
}

// freeTextCall is the JSON payload inside a delimited block.
type freeTextCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExtractToolCalls scans content for free-text tool requests, returning the
// extracted calls (with freshly generated ids) and the content with the
// request blocks removed. An empty slice means the content is plain text.
func ExtractToolCalls(content string) ([]ToolCall, string) {
	var calls []ToolCall
	remainder := content

	for _, pattern := range freeTextPatterns {
		matches := pattern.FindAllStringSubmatch(remainder, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			if call, ok := parseFreeTextCall(m[1]); ok {
				calls = append(calls, call)
			}
		}
		remainder = pattern.ReplaceAllString(remainder, "")
	}

	// Bare JSON fragments: only when no delimited block matched, and only
	// when the fragment really looks like a call.
	if len(calls) == 0 {
		if frag, rest, ok := findBareCall(remainder); ok {
			if call, parsed := parseFreeTextCall(frag); parsed {
				calls = append(calls, call)
				remainder = rest
			}
		}
	}

	return calls, strings.TrimSpace(remainder)
}

// parseFreeTextCall decodes one request payload. Returns false when the
// payload has no usable tool name.
func parseFreeTextCall(raw string) (ToolCall, bool) {
	raw = strings.TrimSpace(raw)
	var parsed freeTextCall
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return ToolCall{}, false
	}
	if parsed.Name == "" {
		return ToolCall{}, false
	}

	args := "{}"
	if len(parsed.Arguments) > 0 {
		trimmed := strings.TrimSpace(string(parsed.Arguments))
		switch {
		case trimmed == "" || trimmed == "null":
			// keep {}
		case strings.HasPrefix(trimmed, "{"):
			args = trimmed
		default:
			// The model sometimes double-encodes arguments as a string.
			var inner string
			if err := json.Unmarshal(parsed.Arguments, &inner); err == nil && strings.HasPrefix(strings.TrimSpace(inner), "{") {
				args = strings.TrimSpace(inner)
			}
		}
	}

	return ToolCall{
		ID:   "call_" + uuid.NewString()[:8],
		Type: "function",
		Function: FunctionCall{
			Name:      parsed.Name,
			Arguments: args,
		},
	}, true
}

// findBareCall locates a top-level JSON object containing both "name" and
// "arguments" keys in the text. Returns the fragment and the text without it.
func findBareCall(content string) (frag, rest string, ok bool) {
	start := strings.Index(content, "{")
	for start != -1 {
		if end := matchBrace(content, start); end != -1 {
			candidate := content[start : end+1]
			if strings.Contains(candidate, `"name"`) && strings.Contains(candidate, `"arguments"`) {
				var probe freeTextCall
				if err := json.Unmarshal([]byte(candidate), &probe); err == nil && probe.Name != "" {
					return candidate, content[:start] + content[end+1:], true
				}
			}
			next := strings.Index(content[start+1:], "{")
			if next == -1 {
				break
			}
			start = start + 1 + next
			continue
		}
		break
	}
	return "", content, false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
// String literals are skipped so braces inside argument values don't confuse
// the scan.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// StructuredToolNote is appended as a system note after free-text extraction
// so the model uses the structured interface on the next turn.
const StructuredToolNote = "Use the structured tool-calling interface to invoke tools. " +
	"Do not describe tool calls in plain text."
