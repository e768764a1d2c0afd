// maintenance.go runs the periodic housekeeping for long-lived processes:
// stale cache entries and expired sessions are swept on a schedule.
package agent

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Default sweep schedules (standard five-field cron).
const (
	defaultCacheSweep   = "*/5 * * * *"
	defaultSessionSweep = "*/10 * * * *"
)

// Maintenance owns the background sweep scheduler. Only long-lived modes
// (chat) start it; one-shot runs clean up inline.
type Maintenance struct {
	cron     *cron.Cron
	cache    *Cache
	sessions *SessionManager
	logger   *slog.Logger
}

// NewMaintenance creates the sweeper over a cache and a session manager.
// Either may be nil; its sweep is skipped.
func NewMaintenance(cache *Cache, sessions *SessionManager, logger *slog.Logger) *Maintenance {
	return &Maintenance{
		cron:     cron.New(),
		cache:    cache,
		sessions: sessions,
		logger:   logger.With("component", "maintenance"),
	}
}

// Start registers the sweep jobs and starts the scheduler.
func (m *Maintenance) Start() error {
	if m.cache != nil {
		if _, err := m.cron.AddFunc(defaultCacheSweep, func() {
			if removed := m.cache.Cleanup(); removed > 0 {
				m.logger.Debug("cache sweep", "removed", removed)
			}
		}); err != nil {
			return fmt.Errorf("schedule cache sweep: %w", err)
		}
	}
	if m.sessions != nil {
		if _, err := m.cron.AddFunc(defaultSessionSweep, func() {
			if removed := m.sessions.CleanupExpired(); removed > 0 {
				m.logger.Debug("session sweep", "removed", removed)
			}
		}); err != nil {
			return fmt.Errorf("schedule session sweep: %w", err)
		}
	}
	m.cron.Start()
	m.logger.Info("maintenance started", "entries", len(m.cron.Entries()))
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("maintenance stopped")
}
