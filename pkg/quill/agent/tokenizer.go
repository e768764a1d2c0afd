// tokenizer.go counts tokens for budget enforcement in memory and context
// composition. Counting prefers the model's own tiktoken encoding, then the
// generic cl100k_base encoder, then a 4-chars-per-token estimate.
package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// Tokenizer counts tokens under a named model. Safe for concurrent use.
type Tokenizer struct {
	mu sync.Mutex

	// encoders caches per-model encoders so repeated counts don't pay the
	// lookup cost.
	encoders map[string]*tiktoken.Tiktoken

	// unsupported memoises models with no tiktoken mapping so failed
	// lookups are not repeated on every call.
	unsupported map[string]bool

	generic *tiktoken.Tiktoken
}

// NewTokenizer creates a tokenizer. The generic fallback encoder is loaded
// lazily on first use.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		encoders:    make(map[string]*tiktoken.Tiktoken),
		unsupported: make(map[string]bool),
	}
}

// Count returns the token count of text under the given model.
func (t *Tokenizer) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := t.encoderFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Rough estimate: ~4 characters per token.
	return (len(text) + 3) / 4
}

// CountMessages returns the token count of a message list, including the
// per-message and per-reply framing overhead of the chat format.
func (t *Tokenizer) CountMessages(msgs []Message, model string) int {
	// Every reply is primed with a base overhead; each message adds framing.
	total := 3
	for _, m := range msgs {
		total += 4
		total += t.Count(string(m.Role), model)
		total += t.Count(m.Content, model)
		if m.Name != "" {
			total += t.Count(m.Name, model)
		}
		if m.ToolCallID != "" {
			total += t.Count(m.ToolCallID, model)
		}
	}
	return total
}

// encoderFor returns the encoder for model, the generic encoder, or nil when
// neither is available.
func (t *Tokenizer) encoderFor(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.unsupported[model] {
		if enc, ok := t.encoders[model]; ok {
			return enc
		}
		enc, err := tiktoken.EncodingForModel(model)
		if err == nil {
			t.encoders[model] = enc
			return enc
		}
		t.unsupported[model] = true
	}

	if t.generic == nil {
		enc, err := tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil
		}
		t.generic = enc
	}
	return t.generic
}
