// memory.go implements the bounded conversation window: a rolling buffer of
// messages with priority- and token-budget-aware eviction. The system prompt
// and the first user message are preserved and never evicted.
package agent

import (
	"log/slog"
	"sync"
	"time"
)

// Message priorities. Higher values survive eviction longer.
type Priority int

const (
	PriorityLow      Priority = 20
	PriorityMedium   Priority = 50
	PriorityHigh     Priority = 80
	PriorityCritical Priority = 100
)

// DefaultMemoryMaxTokens is the token budget when the config declares none.
const DefaultMemoryMaxTokens = 8000

// memoryEntry wraps a message with eviction metadata. Token counts are
// cached at insertion; totals are maintained incrementally and never
// recomputed from scratch.
type memoryEntry struct {
	msg        Message
	priority   Priority
	insertedAt time.Time
	tokens     int
	index      int
	id         uint64
	preserved  bool
}

// Memory is the token-budgeted rolling conversation window. Owned by a
// single agent; safe for concurrent reads from diagnostics.
type Memory struct {
	mu sync.Mutex

	system    *memoryEntry // system slot, outside the rolling buffer
	buffer    []*memoryEntry
	hasFirst  bool // first-user slot filled
	tokens    int  // running total across system + buffer
	maxTokens int
	nextID    uint64

	preserveSystem    bool
	preserveFirstUser bool

	tok    *Tokenizer
	model  string
	logger *slog.Logger
}

// MemoryOptions configures a Memory.
type MemoryOptions struct {
	MaxTokens         int
	PreserveSystem    bool
	PreserveFirstUser bool
	Model             string
}

// NewMemory creates a memory window. A nil tokenizer gets a fresh one.
func NewMemory(opts MemoryOptions, tok *Tokenizer, logger *slog.Logger) *Memory {
	if tok == nil {
		tok = NewTokenizer()
	}
	max := opts.MaxTokens
	if max < 0 {
		max = DefaultMemoryMaxTokens
	}
	return &Memory{
		maxTokens:         max,
		preserveSystem:    opts.PreserveSystem,
		preserveFirstUser: opts.PreserveFirstUser,
		tok:               tok,
		model:             opts.Model,
		logger:            logger.With("component", "memory"),
	}
}

// defaultPriority derives a message's priority from its role.
func defaultPriority(msg Message, firstUser bool) Priority {
	switch {
	case msg.Role == RoleSystem:
		return PriorityCritical
	case firstUser:
		return PriorityHigh
	case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
		return PriorityHigh
	case msg.Role == RoleTool:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// Add appends a message with its default priority.
func (m *Memory) Add(msg Message) {
	m.AddWithPriority(msg, 0)
}

// AddWithPriority appends a message. A zero priority selects the default for
// the message's role. The token budget is enforced before returning.
func (m *Memory) AddWithPriority(msg Message, priority Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := m.tok.CountMessages([]Message{msg}, m.model)

	// System messages occupy the dedicated slot, not the rolling buffer.
	if msg.Role == RoleSystem && m.preserveSystem {
		if m.system != nil {
			m.tokens -= m.system.tokens
		}
		m.system = &memoryEntry{
			msg:        msg,
			priority:   PriorityCritical,
			insertedAt: time.Now(),
			tokens:     tokens,
			preserved:  true,
		}
		m.tokens += tokens
		return
	}

	isFirstUser := msg.Role == RoleUser && !m.hasFirst && m.preserveFirstUser
	if isFirstUser {
		m.hasFirst = true
		priority = PriorityHigh
	}
	if priority == 0 {
		priority = defaultPriority(msg, isFirstUser)
	}

	m.nextID++
	entry := &memoryEntry{
		msg:        msg,
		priority:   priority,
		insertedAt: time.Now(),
		tokens:     tokens,
		index:      len(m.buffer),
		id:         m.nextID,
		preserved:  isFirstUser,
	}
	m.buffer = append(m.buffer, entry)
	m.tokens += tokens

	m.evictLocked()
}

// evictLocked removes the lowest-priority, then oldest, non-preserved entries
// until the token total fits the budget or only preserved entries remain.
// Caller holds m.mu.
func (m *Memory) evictLocked() {
	for m.tokens > m.maxTokens {
		victim := -1
		for i, e := range m.buffer {
			if e.preserved {
				continue
			}
			if victim == -1 ||
				e.priority < m.buffer[victim].priority ||
				(e.priority == m.buffer[victim].priority && e.id < m.buffer[victim].id) {
				victim = i
			}
		}
		if victim == -1 {
			return
		}
		evicted := m.buffer[victim]
		m.tokens -= evicted.tokens
		m.buffer = append(m.buffer[:victim], m.buffer[victim+1:]...)
		m.logger.Debug("evicted message",
			"role", evicted.msg.Role,
			"priority", int(evicted.priority),
			"tokens", evicted.tokens,
			"total_tokens", m.tokens,
		)
	}
	m.reindexLocked()
}

// reindexLocked restores contiguous 0..n-1 indices. Caller holds m.mu.
func (m *Memory) reindexLocked() {
	for i, e := range m.buffer {
		e.index = i
	}
}

// Get returns the conversation in chronological order, system message first
// when present.
func (m *Memory) Get() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, len(m.buffer)+1)
	if m.system != nil {
		out = append(out, m.system.msg)
	}
	for _, e := range m.buffer {
		out = append(out, e.msg)
	}
	return out
}

// GetPrioritized returns the system message (when present) plus buffer
// entries with priority >= min, in chronological order.
func (m *Memory) GetPrioritized(min Priority) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, 0, len(m.buffer)+1)
	if m.system != nil {
		out = append(out, m.system.msg)
	}
	for _, e := range m.buffer {
		if e.priority >= min {
			out = append(out, e.msg)
		}
	}
	return out
}

// Clear drops the rolling buffer and the first-user slot, retaining only the
// system slot. The id counter resets.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = nil
	m.hasFirst = false
	m.nextID = 0
	m.tokens = 0
	if m.system != nil {
		m.tokens = m.system.tokens
	}
}

// TokenCount returns the running token total.
func (m *Memory) TokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

// Len returns the number of messages including the system slot.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.buffer)
	if m.system != nil {
		n++
	}
	return n
}

// Snapshot returns the messages for persistence (same order as Get).
func (m *Memory) Snapshot() []Message {
	return m.Get()
}

// Restore replaces the window content from a persisted snapshot. Messages
// re-enter through the normal add path so slots, priorities, and the token
// budget are re-established.
func (m *Memory) Restore(msgs []Message) {
	m.mu.Lock()
	m.system = nil
	m.buffer = nil
	m.hasFirst = false
	m.nextID = 0
	m.tokens = 0
	m.mu.Unlock()

	for _, msg := range msgs {
		m.Add(msg)
	}
}
