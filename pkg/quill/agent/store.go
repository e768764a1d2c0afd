// store.go persists one session to a single JSON file: the memory snapshot,
// the run mode, and the system prompt. Loading is best-effort: a missing file
// yields a fresh state and a corrupt file is deleted after a warning.
package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// SessionState is the persisted shape of one session.
type SessionState struct {
	Messages     []Message `json:"messages"`
	Mode         Mode      `json:"mode"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// Store reads and writes session state files under a base directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		dir = DefaultSessionStorePath()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir, logger: logger.With("component", "store")}, nil
}

// Path returns the file path for a session id.
func (s *Store) Path(sessionID string) string {
	return filepath.Join(s.dir, SanitizeToolName(sessionID)+".json")
}

// Load reads a session state. A missing file returns (nil, nil); a corrupt
// file is deleted after a warning and also returns (nil, nil).
func (s *Store) Load(sessionID string) (*SessionState, error) {
	path := s.Path(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("corrupt session file, starting fresh",
			"session_id", sessionID, "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Warn("could not delete corrupt session file",
				"path", path, "error", rmErr)
		}
		return nil, nil
	}
	return &state, nil
}

// Save writes a session state atomically (temp file + rename).
func (s *Store) Save(sessionID string, state *SessionState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sessionID, err)
	}

	path := s.Path(sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", sessionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes a session file. Missing files are not an error.
func (s *Store) Delete(sessionID string) error {
	err := os.Remove(s.Path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// List returns the session ids present on disk, in directory order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}

// SaveAgent snapshots an agent's conversation into the store.
func (s *Store) SaveAgent(sessionID string, a *Agent) error {
	return s.Save(sessionID, &SessionState{
		Messages:     a.Memory().Snapshot(),
		Mode:         a.Mode(),
		SystemPrompt: a.SystemPrompt(),
	})
}

// RestoreAgent loads a persisted state into an agent. Returns false when no
// usable state exists.
func (s *Store) RestoreAgent(sessionID string, a *Agent) (bool, error) {
	state, err := s.Load(sessionID)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	a.SetMode(state.Mode)
	if state.SystemPrompt != "" {
		a.SetSystemPrompt(state.SystemPrompt)
	}
	a.Memory().Restore(state.Messages)
	return true, nil
}
