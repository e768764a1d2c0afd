// audit.go hooks the security audit log into the builtin tools: every tool
// execution is appended as one JSONL record.
package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hvilela/quill/pkg/quill/agent"
	"github.com/hvilela/quill/pkg/quill/agent/security"
)

// auditTools wraps each tool's Run so executions land in the audit log.
// A disabled log leaves the tools untouched.
func auditTools(log *security.AuditLog, sessionID string, toolSet []*agent.Tool) []*agent.Tool {
	if !log.Enabled() {
		return toolSet
	}
	for _, t := range toolSet {
		name, run := t.Name, t.Run
		t.Run = func(ctx context.Context, args map[string]any) (any, error) {
			start := time.Now()
			value, err := run(ctx, args)

			rec := security.AuditRecord{
				SessionID: sessionID,
				Tool:      name,
				Success:   err == nil,
				Duration:  time.Since(start).Milliseconds(),
			}
			if err != nil {
				rec.Error = err.Error()
			}
			if len(args) > 0 {
				if encoded, marshalErr := json.Marshal(args); marshalErr == nil {
					rec.Arguments = string(encoded)
				}
			}
			// Log failures never fail the tool itself.
			_ = log.Append(rec)
			return value, err
		}
	}
	return toolSet
}
