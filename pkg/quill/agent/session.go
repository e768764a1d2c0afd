// session.go implements the session manager: a thread-safe map of session id
// to Session with TTL expiry, bounded per-session history, and JSON
// export/import. Expiry is checked lazily on access and eagerly by
// CleanupExpired.
package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionExpired is returned by Get when the session's TTL has elapsed.
var ErrSessionExpired = fmt.Errorf("session expired")

// ErrSessionNotFound is returned when no session exists for an id.
var ErrSessionNotFound = fmt.Errorf("session not found")

// DefaultMaxHistorySize caps per-session history entries.
const DefaultMaxHistorySize = 100

// HistoryEntry records one completed turn in a session.
type HistoryEntry struct {
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds one conversation's agent plus bookkeeping.
type Session struct {
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	LastAccess time.Time         `json:"last_access"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	History    []HistoryEntry    `json:"history,omitempty"`

	Agent *Agent `json:"-"`
}

// sessionExport is the JSON shape produced by Export.
type sessionExport struct {
	Session
	Messages     []Message `json:"messages"`
	Mode         Mode      `json:"mode"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// SessionManager owns all live sessions.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg        *Config
	deps       AgentDeps
	ttl        time.Duration
	maxHistory int
	logger     *slog.Logger
}

// NewSessionManager creates a manager. Agents built for new sessions share
// deps (registry, cache, client).
func NewSessionManager(cfg *Config, deps AgentDeps, logger *slog.Logger) *SessionManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	maxHistory := cfg.Sessions.MaxHistorySize
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistorySize
	}
	return &SessionManager{
		sessions:   make(map[string]*Session),
		cfg:        cfg,
		deps:       deps,
		ttl:        cfg.SessionTTL(),
		maxHistory: maxHistory,
		logger:     logger.With("component", "sessions"),
	}
}

// Create builds a new session. An empty id gets a generated uuid; creating an
// id that already exists returns the existing session.
func (sm *SessionManager) Create(id string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := sm.sessions[id]; ok && !sm.expiredLocked(existing) {
		existing.LastAccess = time.Now()
		return existing
	}

	now := time.Now()
	session := &Session{
		ID:         id,
		CreatedAt:  now,
		LastAccess: now,
		Metadata:   make(map[string]string),
		Agent:      NewAgent(sm.cfg, sm.deps, sm.logger),
	}
	sm.sessions[id] = session
	sm.logger.Info("session created", "session_id", id)
	return session
}

// Get returns a live session, refreshing its last-access time. An expired
// session is removed and reported as ErrSessionExpired.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if sm.expiredLocked(session) {
		delete(sm.sessions, id)
		sm.logger.Info("session expired on access", "session_id", id)
		return nil, fmt.Errorf("%w: %s", ErrSessionExpired, id)
	}
	session.LastAccess = time.Now()
	return session, nil
}

// GetOrCreate returns the session for id, creating one when missing or
// expired.
func (sm *SessionManager) GetOrCreate(id string) *Session {
	if session, err := sm.Get(id); err == nil {
		return session
	}
	return sm.Create(id)
}

// Update merges metadata into a session.
func (sm *SessionManager) Update(id string, metadata map[string]string) error {
	session, err := sm.Get(id)
	if err != nil {
		return err
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for k, v := range metadata {
		session.Metadata[k] = v
	}
	return nil
}

// AddToHistory appends a turn record, trimming the oldest entries beyond the
// cap.
func (sm *SessionManager) AddToHistory(id string, entry HistoryEntry) error {
	session, err := sm.Get(id)
	if err != nil {
		return err
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	session.History = append(session.History, entry)
	if over := len(session.History) - sm.maxHistory; over > 0 {
		session.History = session.History[over:]
	}
	return nil
}

// Clear removes one session, releasing its agent state.
func (sm *SessionManager) Clear(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if session, ok := sm.sessions[id]; ok {
		session.Agent.Cleanup()
		delete(sm.sessions, id)
		sm.logger.Info("session cleared", "session_id", id)
	}
}

// CleanupExpired removes every expired session and returns how many went.
func (sm *SessionManager) CleanupExpired() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, session := range sm.sessions {
		if sm.expiredLocked(session) {
			session.Agent.Cleanup()
			delete(sm.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		sm.logger.Info("expired sessions removed", "count", removed)
	}
	return removed
}

// Len returns the number of live sessions (expired ones included until
// cleanup).
func (sm *SessionManager) Len() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// IDs returns the ids of all tracked sessions.
func (sm *SessionManager) IDs() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Export serialises a session (bookkeeping plus conversation) to JSON.
func (sm *SessionManager) Export(id string) (string, error) {
	session, err := sm.Get(id)
	if err != nil {
		return "", err
	}
	sm.mu.Lock()
	export := sessionExport{
		Session:      *session,
		Messages:     session.Agent.Memory().Snapshot(),
		Mode:         session.Agent.Mode(),
		SystemPrompt: session.Agent.SystemPrompt(),
	}
	sm.mu.Unlock()

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export session %s: %w", id, err)
	}
	return string(data), nil
}

// Import recreates a session from an Export payload, replacing any session
// with the same id.
func (sm *SessionManager) Import(data string) (*Session, error) {
	var export sessionExport
	if err := json.Unmarshal([]byte(data), &export); err != nil {
		return nil, fmt.Errorf("import session: %w", err)
	}
	if export.ID == "" {
		export.ID = uuid.NewString()
	}

	agent := NewAgent(sm.cfg, sm.deps, sm.logger)
	agent.SetMode(export.Mode)
	if export.SystemPrompt != "" {
		agent.SetSystemPrompt(export.SystemPrompt)
	}
	agent.Memory().Restore(export.Messages)

	session := &export.Session
	session.Agent = agent
	session.LastAccess = time.Now()
	if session.Metadata == nil {
		session.Metadata = make(map[string]string)
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()
	sm.logger.Info("session imported", "session_id", session.ID,
		"messages", len(export.Messages))
	return session, nil
}

// expiredLocked reports whether a session's TTL has elapsed. Caller holds
// sm.mu or owns the session.
func (sm *SessionManager) expiredLocked(s *Session) bool {
	if sm.ttl <= 0 {
		return false
	}
	return time.Since(s.LastAccess) > sm.ttl
}
