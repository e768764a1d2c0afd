package agent

import (
	"strings"
	"testing"
)

func TestSanitizerNormalize(t *testing.T) {
	s := NewSanitizer("Quill")

	tests := []struct {
		name    string
		in      string
		want    string
		notWant string
	}{
		{"chatgpt replaced", "ChatGPT can help with that.", "Quill can help with that.", ""},
		{"claude replaced", "I asked Claude about it.", "I asked Quill about it.", ""},
		{"gemini replaced", "Gemini says hello.", "Quill says hello.", ""},
		{"as an ai phrase", "as an AI language model, I cannot do that.", "", "as an AI"},
		{"clean text untouched", "The capital of France is Paris.", "The capital of France is Paris.", ""},
		{"case insensitive", "CHATGPT is great.", "Quill is great.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Normalize(tt.in)
			if tt.want != "" && got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Errorf("Normalize(%q) = %q still contains %q", tt.in, got, tt.notWant)
			}
		})
	}

	t.Run("idempotent", func(t *testing.T) {
		in := "I'm Claude, an AI model built to help."
		once := s.Normalize(in)
		twice := s.Normalize(once)
		if once != twice {
			t.Errorf("not idempotent: %q vs %q", once, twice)
		}
	})
}

func TestSanitizerValidateJSON(t *testing.T) {
	s := NewSanitizer("Quill")

	tests := []struct {
		name   string
		in     string
		wantOK bool
	}{
		{"valid json", `{"a": 1}`, true},
		{"single quotes", `{'key': 'value'}`, true},
		{"bare keys", `{key: "value"}`, true},
		{"trailing comma", `{"a": 1,}`, true},
		{"fenced json", "```json\n{\"a\": 1}\n```", true},
		{"hopeless", `{{{not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := s.Validate(tt.in, FormatJSON)
			if ok != tt.wantOK {
				t.Fatalf("Validate(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if tt.wantOK && out == "" {
				t.Error("expected repaired content")
			}
		})
	}
}

func TestSanitizerValidateXML(t *testing.T) {
	s := NewSanitizer("Quill")

	tests := []struct {
		name   string
		in     string
		wantOK bool
	}{
		{"valid xml", `<root><child>v</child></root>`, true},
		{"unclosed tags", `<root><child>v`, true},
		{"self closing", `<root><leaf/></root>`, true},
		{"not xml at all", `<<<>>>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := s.Validate(tt.in, FormatXML)
			if ok != tt.wantOK {
				t.Fatalf("Validate(%q) ok = %v, want %v (out %q)", tt.in, ok, tt.wantOK, out)
			}
		})
	}
}

func TestSanitizerValidateText(t *testing.T) {
	s := NewSanitizer("Quill")
	out, ok := s.Validate("anything at all", FormatText)
	if !ok || out != "anything at all" {
		t.Errorf("text format should pass through, got (%q, %v)", out, ok)
	}
}
