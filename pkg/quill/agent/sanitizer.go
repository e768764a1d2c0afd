// sanitizer.go post-processes assistant text before it reaches the user:
// identity normalisation (third-party model names and generic AI
// self-references become the configured assistant name) and structural
// validation of declared JSON/XML payloads with conservative repairs.
package agent

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// ExpectedFormat declares the structure a caller expects from the model.
type ExpectedFormat string

const (
	FormatText ExpectedFormat = "text"
	FormatJSON ExpectedFormat = "json"
	FormatXML  ExpectedFormat = "xml"
)

// Sanitizer normalises assistant output. Construct once, share freely; it is
// immutable after creation.
type Sanitizer struct {
	name     string
	patterns []*regexp.Regexp
}

// identitySources are the third-party model names and self-reference phrases
// replaced by the configured assistant name.
var identitySources = []string{
	`(?i)\bChatGPT\b`,
	`(?i)\bGPT-4o?\b`,
	`(?i)\bGPT-3\.5\b`,
	`(?i)\bClaude\b`,
	`(?i)\bGemini\b`,
	`(?i)\bLLaMA\b`,
	`(?i)\bMistral(?:-\w+)?\b`,
	`(?i)as an AI(?: language)?(?: model)?`,
	`(?i)I(?:'| a)m (?:an? )?(?:AI|artificial intelligence|language model|LLM)(?: assistant| model)?`,
}

// NewSanitizer creates a sanitizer that rewrites identity references to name.
func NewSanitizer(name string) *Sanitizer {
	if name == "" {
		name = "Quill"
	}
	patterns := make([]*regexp.Regexp, 0, len(identitySources))
	for _, src := range identitySources {
		patterns = append(patterns, regexp.MustCompile(src))
	}
	return &Sanitizer{name: name, patterns: patterns}
}

// Normalize rewrites identity references. Idempotent: applying it twice
// yields the same output as applying it once.
func (s *Sanitizer) Normalize(content string) string {
	out := content
	for _, p := range s.patterns {
		out = p.ReplaceAllString(out, s.name)
	}
	// Replacement can stack the name when a phrase contained a model name
	// ("I'm Claude, an AI model" → "I'm <name>, <name>"); collapse runs.
	doubled := regexp.MustCompile(regexp.QuoteMeta(s.name) + `(?:[,\s]+` + regexp.QuoteMeta(s.name) + `)+`)
	out = doubled.ReplaceAllString(out, s.name)
	return out
}

// Validate checks content against the expected format, applying conservative
// repairs on parse failure. Returns (repairedContent, true) on success and
// ("", false) when the content cannot be made to parse.
func (s *Sanitizer) Validate(content string, format ExpectedFormat) (string, bool) {
	switch format {
	case FormatJSON:
		return validateJSON(content)
	case FormatXML:
		return validateXML(content)
	default:
		return content, true
	}
}

// validateJSON attempts a parse, then repairs, then a final parse.
func validateJSON(content string) (string, bool) {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if json.Valid([]byte(trimmed)) {
		return trimmed, true
	}
	repaired := repairJSON(trimmed)
	if json.Valid([]byte(repaired)) {
		return repaired, true
	}
	return "", false
}

var (
	// 'key': or {key: — single-quoted or bare object keys.
	singleQuotedKey = regexp.MustCompile(`'([^']*)'\s*:`)
	bareKey         = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingComma   = regexp.MustCompile(`,\s*([}\]])`)
	singleQuotedVal = regexp.MustCompile(`:\s*'([^']*)'`)
)

// repairJSON applies the enumerated conservative fixes: quote bare keys,
// convert single to double quotes, strip trailing commas.
func repairJSON(content string) string {
	out := singleQuotedKey.ReplaceAllString(content, `"$1":`)
	out = bareKey.ReplaceAllString(out, `$1"$2":`)
	out = singleQuotedVal.ReplaceAllString(out, `: "$1"`)
	out = trailingComma.ReplaceAllString(out, "$1")
	return out
}

// validateXML attempts a parse; on failure unclosed tags are auto-closed.
func validateXML(content string) (string, bool) {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if xmlValid(trimmed) {
		return trimmed, true
	}
	repaired := closeOpenTags(trimmed)
	if xmlValid(repaired) {
		return repaired, true
	}
	return "", false
}

func xmlValid(content string) bool {
	decoder := xml.NewDecoder(strings.NewReader(content))
	for {
		_, err := decoder.Token()
		if err != nil {
			return err.Error() == "EOF"
		}
	}
}

var xmlTag = regexp.MustCompile(`<(/?)([A-Za-z_][A-Za-z0-9_.-]*)[^>]*?(/?)>`)

// closeOpenTags appends closing tags for every unclosed element, innermost
// first.
func closeOpenTags(content string) string {
	var stack []string
	for _, m := range xmlTag.FindAllStringSubmatch(content, -1) {
		closing, name, selfClose := m[1] == "/", m[2], m[3] == "/"
		switch {
		case selfClose:
		case closing:
			if len(stack) > 0 && stack[len(stack)-1] == name {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, name)
		}
	}
	var sb strings.Builder
	sb.WriteString(content)
	for i := len(stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "</%s>", stack[i])
	}
	return sb.String()
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		// Drop the language tag line ("json", "xml", ...).
		if first := strings.TrimSpace(trimmed[:idx]); len(first) <= 10 && !strings.ContainsAny(first, "{<") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
