package agent

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

func newTestMemory(maxTokens int) *Memory {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewMemory(MemoryOptions{
		MaxTokens:         maxTokens,
		PreserveSystem:    true,
		PreserveFirstUser: true,
	}, NewTokenizer(), logger)
}

func TestMemoryOrder(t *testing.T) {
	m := newTestMemory(100000)
	m.Add(NewMessage(RoleUser, "first"))
	m.Add(NewMessage(RoleSystem, "you are helpful"))
	m.Add(NewMessage(RoleAssistant, "second"))

	got := m.Get()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	// System message always leads regardless of insertion order.
	if got[0].Role != RoleSystem {
		t.Errorf("expected system first, got %s", got[0].Role)
	}
	if got[1].Content != "first" || got[2].Content != "second" {
		t.Errorf("buffer order broken: %q, %q", got[1].Content, got[2].Content)
	}
}

func TestMemorySystemSlotReplaced(t *testing.T) {
	m := newTestMemory(100000)
	m.Add(NewMessage(RoleSystem, "old prompt"))
	m.Add(NewMessage(RoleSystem, "new prompt"))

	got := m.Get()
	if len(got) != 1 {
		t.Fatalf("expected a single system message, got %d", len(got))
	}
	if got[0].Content != "new prompt" {
		t.Errorf("expected replacement, got %q", got[0].Content)
	}
}

func TestMemoryEviction(t *testing.T) {
	t.Run("preserved entries survive a zero budget", func(t *testing.T) {
		m := newTestMemory(0)
		m.Add(NewMessage(RoleSystem, "system prompt"))
		m.Add(NewMessage(RoleUser, "first user message"))
		m.Add(NewMessage(RoleAssistant, "reply one"))
		m.Add(NewMessage(RoleUser, "followup"))
		m.Add(NewMessage(RoleAssistant, "reply two"))

		got := m.Get()
		if len(got) != 2 {
			t.Fatalf("expected only preserved messages, got %d", len(got))
		}
		if got[0].Role != RoleSystem || got[1].Content != "first user message" {
			t.Errorf("wrong survivors: %+v", got)
		}
	})

	t.Run("low priority evicts before high", func(t *testing.T) {
		m := newTestMemory(100000)
		m.Add(NewMessage(RoleUser, "first user message"))

		filler := strings.Repeat("filler content ", 50)
		m.AddWithPriority(NewMessage(RoleAssistant, "low "+filler), PriorityLow)
		m.AddWithPriority(NewMessage(RoleAssistant, "high "+filler), PriorityHigh)

		// Shrink the budget by forcing eviction with a large medium add.
		m.maxTokens = m.TokenCount() - 10
		m.AddWithPriority(NewMessage(RoleUser, "trigger"), PriorityMedium)

		for _, msg := range m.Get() {
			if strings.HasPrefix(msg.Content, "low ") {
				t.Error("low-priority entry should have been evicted first")
			}
		}
	})

	t.Run("token total stays within budget when removables exist", func(t *testing.T) {
		m := newTestMemory(200)
		for i := 0; i < 20; i++ {
			m.AddWithPriority(NewMessage(RoleAssistant, strings.Repeat("text ", 30)), PriorityLow)
		}
		if m.TokenCount() > 200 {
			t.Errorf("token total %d exceeds budget with removable entries present", m.TokenCount())
		}
	})
}

func TestMemoryGetPrioritized(t *testing.T) {
	m := newTestMemory(100000)
	m.Add(NewMessage(RoleSystem, "sys"))
	m.AddWithPriority(NewMessage(RoleAssistant, "low"), PriorityLow)
	m.AddWithPriority(NewMessage(RoleAssistant, "high"), PriorityHigh)

	got := m.GetPrioritized(PriorityHigh)
	if len(got) != 2 {
		t.Fatalf("expected system + high, got %d messages", len(got))
	}
	if got[0].Content != "sys" || got[1].Content != "high" {
		t.Errorf("unexpected selection: %+v", got)
	}
}

func TestMemoryClear(t *testing.T) {
	m := newTestMemory(100000)
	m.Add(NewMessage(RoleSystem, "sys"))
	m.Add(NewMessage(RoleUser, "hello"))
	m.Add(NewMessage(RoleAssistant, "hi"))

	m.Clear()
	got := m.Get()
	if len(got) != 1 || got[0].Role != RoleSystem {
		t.Fatalf("expected only the system slot to survive, got %+v", got)
	}

	// The first-user slot opens again after Clear.
	m.Add(NewMessage(RoleUser, "fresh start"))
	m.maxTokens = 0
	m.AddWithPriority(NewMessage(RoleAssistant, "evictable"), PriorityLow)
	survivors := m.Get()
	if len(survivors) != 2 {
		t.Errorf("expected system + new first user, got %d", len(survivors))
	}
}

func TestMemoryRestore(t *testing.T) {
	m := newTestMemory(100000)
	m.Add(NewMessage(RoleSystem, "sys"))
	m.Add(NewMessage(RoleUser, "question"))
	m.Add(NewMessage(RoleAssistant, "answer"))
	snapshot := m.Snapshot()

	restored := newTestMemory(100000)
	restored.Restore(snapshot)

	got := restored.Get()
	if len(got) != 3 {
		t.Fatalf("expected 3 restored messages, got %d", len(got))
	}
	if got[0].Role != RoleSystem || got[1].Content != "question" || got[2].Content != "answer" {
		t.Errorf("restore broke ordering: %+v", got)
	}
	if restored.TokenCount() <= 0 {
		t.Error("expected token accounting after restore")
	}
}
