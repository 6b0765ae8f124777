// Package lifecycle applies retention policy on a timer. Cleanup archives,
// never deletes; Purge is the explicit irreversible counterpart.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/Ukiyograin/clipboard-master/internal/store"
)

type Manager struct {
	store *store.Store
	log   *slog.Logger

	retentionDays int
	interval      time.Duration
}

func NewManager(st *store.Store, log *slog.Logger, retentionDays int, interval time.Duration) *Manager {
	return &Manager{
		store:         st,
		log:           log,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Run executes Cleanup on the configured interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Cleanup(ctx, m.retentionDays); err != nil {
				m.log.Error("cleanup failed", "error", err)
			}
		}
	}
}

// Cleanup archives non-pinned, non-favorite items last used more than
// retentionDays ago. Re-running immediately archives zero additional
// items.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	archived, err := m.store.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if archived > 0 {
		m.log.Info("archived stale items", "count", archived, "retention_days", retentionDays)
	}
	return archived, nil
}

// Purge irreversibly deletes archived items older than olderThan and
// releases their blob storage. Returns the purged item ids.
func (m *Manager) Purge(ctx context.Context, olderThan time.Duration) ([]int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	purged, err := m.store.PurgeArchived(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(purged) > 0 {
		m.log.Info("purged archived items", "count", len(purged))
	}
	return purged, nil
}
