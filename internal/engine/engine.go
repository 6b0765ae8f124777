// Package engine wires the capture monitor, persistent store, lifecycle
// manager, and event bus into a single handle. External collaborators (UI,
// tray, hotkeys) receive the handle at construction and consume its event
// bus and command surface; the engine holds no reference back to them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/Ukiyograin/clipboard-master/internal/clipboard"
	"github.com/Ukiyograin/clipboard-master/internal/config"
	"github.com/Ukiyograin/clipboard-master/internal/event"
	"github.com/Ukiyograin/clipboard-master/internal/fingerprint"
	"github.com/Ukiyograin/clipboard-master/internal/lifecycle"
	"github.com/Ukiyograin/clipboard-master/internal/porter"
	"github.com/Ukiyograin/clipboard-master/internal/store"
)

type Engine struct {
	cfg *config.Config
	log *slog.Logger

	store     *store.Store
	bus       *event.Bus
	monitor   *clipboard.Monitor
	lifecycle *lifecycle.Manager
	porter    *porter.Porter

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds an engine over dataDir. backend may be nil for headless
// one-shot use; Start then skips the capture monitor.
func New(cfg *config.Config, backend clipboard.Backend, log *slog.Logger) (*Engine, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = config.DefaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
	}

	st, err := store.Open(dataDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bus := event.NewBus(cfg.EventQueueSize, log)

	e := &Engine{
		cfg:       cfg,
		log:       log,
		store:     st,
		bus:       bus,
		lifecycle: lifecycle.NewManager(st, log, cfg.RetentionDays, time.Duration(cfg.CleanupInterval)*time.Minute),
		porter:    porter.New(st, bus, log, cfg.InlineLimit),
	}

	if backend != nil {
		e.monitor = clipboard.NewMonitor(backend, st, bus, cfg, log)
	}

	return e, nil
}

// Start launches the capture monitor and the cleanup timer. It returns
// once both are running; cancel ctx or call Close to stop.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if e.monitor != nil {
		if err := e.monitor.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.lifecycle.Run(runCtx)
	}()

	return nil
}

// Close stops background work, waits for any in-flight capture
// transaction, and releases the store handle.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		if e.monitor != nil {
			e.monitor.Wait()
		}
		e.wg.Wait()
		e.bus.Close()
		err = e.store.Close()
	})
	return err
}

// Bus exposes the notification stream for external collaborators.
func (e *Engine) Bus() *event.Bus { return e.bus }

// Store exposes read access for presentation layers that render items
// directly.
func (e *Engine) Store() *store.Store { return e.store }

// Search runs a filtered, sorted, paginated query.
func (e *Engine) Search(ctx context.Context, filter store.Filter, sort store.Sort, page store.Page) ([]*store.Item, error) {
	return e.store.List(ctx, filter, sort, page)
}

// Suggest returns completion candidates for a search prefix.
func (e *Engine) Suggest(ctx context.Context, prefix string) ([]string, error) {
	return e.store.Suggest(ctx, prefix)
}

// Stats computes statistics on demand.
func (e *Engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.store.ComputeStats(ctx)
}

// TogglePin flips an item's pinned flag.
func (e *Engine) TogglePin(ctx context.Context, id int64) (*store.Item, error) {
	item, err := e.store.TogglePin(ctx, id)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(event.ItemUpdated{Item: item})
	return item, nil
}

// ToggleFavorite flips an item's favorite flag.
func (e *Engine) ToggleFavorite(ctx context.Context, id int64) (*store.Item, error) {
	item, err := e.store.ToggleFavorite(ctx, id)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(event.ItemUpdated{Item: item})
	return item, nil
}

// SetTags replaces an item's tag set.
func (e *Engine) SetTags(ctx context.Context, id int64, tags []string) (*store.Item, error) {
	item, err := e.store.SetItemTags(ctx, id, tags)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(event.ItemUpdated{Item: item})
	return item, nil
}

// CreateTag registers a tag for later assignment.
func (e *Engine) CreateTag(ctx context.Context, name, color string) (*store.Tag, error) {
	return e.store.CreateTag(ctx, name, color)
}

// DeleteTag removes a tag and its links; items are untouched.
func (e *Engine) DeleteTag(ctx context.Context, id int64) error {
	return e.store.DeleteTag(ctx, id)
}

// ListTags returns all tags.
func (e *Engine) ListTags(ctx context.Context) ([]*store.Tag, error) {
	return e.store.ListTags(ctx)
}

// DeleteItem permanently removes one item.
func (e *Engine) DeleteItem(ctx context.Context, id int64) error {
	if err := e.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	e.bus.Publish(event.ItemRemoved{ItemID: id})
	return nil
}

// CopyToClipboard writes an item's payload back to the OS clipboard,
// marked self-originated so the monitor does not re-capture it, and
// advances the item's last_used_at.
func (e *Engine) CopyToClipboard(ctx context.Context, id int64) error {
	if e.monitor == nil {
		return fmt.Errorf("engine started without a clipboard backend")
	}

	item, err := e.store.ItemByID(ctx, id)
	if err != nil {
		return err
	}
	payload, err := e.store.Payload(item)
	if err != nil {
		return err
	}

	if err := e.monitor.WriteItem(fingerprint.Kind(item.Kind), payload, item.Fingerprint); err != nil {
		return err
	}
	if err := e.store.Touch(ctx, id); err != nil {
		return err
	}

	e.log.Debug("copied item to clipboard", "id", id, "kind", item.Kind)
	return nil
}

// Cleanup archives stale items immediately, outside the timer.
func (e *Engine) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	return e.lifecycle.Cleanup(ctx, retentionDays)
}

// PurgeArchived irreversibly deletes archived items older than olderThan.
func (e *Engine) PurgeArchived(ctx context.Context, olderThan time.Duration) (int, error) {
	purged, err := e.lifecycle.Purge(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	for _, id := range purged {
		e.bus.Publish(event.ItemRemoved{ItemID: id})
	}
	return len(purged), nil
}

// Export writes matching items to path; format inferred from the
// extension unless given.
func (e *Engine) Export(ctx context.Context, path string, format porter.Format, filter store.Filter) error {
	if format == "" {
		var err error
		format, err = porter.DetectFormat(path)
		if err != nil {
			return err
		}
	}
	return e.porter.Export(ctx, path, format, filter, e.cfg.ExportPayloads)
}

// Import replays the file at path through the dedup path and returns the
// count of newly inserted items plus any per-record errors.
func (e *Engine) Import(ctx context.Context, path string) (int, []porter.RecordError, error) {
	return e.porter.Import(ctx, path)
}

// ConfigPath returns the canonical config file location for a data dir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}
