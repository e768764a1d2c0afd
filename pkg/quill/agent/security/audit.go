// audit.go appends tool executions to a JSONL audit log, one record per
// line. The log answers "what did the agent actually do" after the fact.
package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditRecord is one logged tool execution.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Tool      string    `json:"tool"`
	Arguments string    `json:"arguments,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
}

// AuditLog appends records to a JSONL file. Safe for concurrent use.
type AuditLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewAuditLog opens (or creates) the log at path. An empty path returns a
// disabled log whose Append is a no-op.
func NewAuditLog(path string) (*AuditLog, error) {
	if path == "" {
		return &AuditLog{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &AuditLog{path: path, file: f}, nil
}

// Enabled reports whether records are being written.
func (l *AuditLog) Enabled() bool { return l.file != nil }

// Append writes one record. A zero timestamp is filled in.
func (l *AuditLog) Append(rec AuditRecord) error {
	if l.file == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
