// Package clipboard owns the connection to the OS clipboard: change
// detection, debouncing, classification, derivative generation, and the
// single-transaction commit of each capture.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ukiyograin/clipboard-master/internal/config"
	"github.com/Ukiyograin/clipboard-master/internal/event"
	"github.com/Ukiyograin/clipboard-master/internal/fingerprint"
	"github.com/Ukiyograin/clipboard-master/internal/imaging"
	"github.com/Ukiyograin/clipboard-master/internal/store"
)

// Monitor runs the capture state machine: Idle, ChangeDetected,
// Classifying, DedupChecking, Persisting, back to Idle, with Skipped
// reachable from any state. All work on the capture path is bounded; the
// monitor never blocks on event delivery.
type Monitor struct {
	backend Backend
	store   *store.Store
	bus     *event.Bus
	cfg     *config.Config
	log     *slog.Logger

	lastSeq uint64        // monitor goroutine only
	selfGen atomic.Uint64 // generation of the last programmatic write

	selfMu      sync.Mutex
	selfFP      string
	selfPending bool

	running bool
	runMu   sync.Mutex
	wg      sync.WaitGroup
}

func NewMonitor(backend Backend, st *store.Store, bus *event.Bus, cfg *config.Config, log *slog.Logger) *Monitor {
	return &Monitor{
		backend: backend,
		store:   st,
		bus:     bus,
		cfg:     cfg,
		log:     log,
	}
}

// Start initializes the backend and launches the monitor goroutine. The
// goroutine exits when ctx is done, after finishing any in-flight capture.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return fmt.Errorf("monitor is already running")
	}

	if err := m.backend.Start(); err != nil {
		return err
	}

	m.running = true
	m.wg.Add(1)
	go m.run(ctx)

	m.log.Info("clipboard monitor started")
	return nil
}

// Wait blocks until the monitor goroutine has finished its in-flight work
// and returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	changes := m.backend.Changes(ctx)
	window := time.Duration(m.cfg.DebounceWindow) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case seq, ok := <-changes:
			if !ok {
				return
			}
			if seq <= m.lastSeq {
				continue // stale or repeated notification
			}
			if seq <= m.selfGen.Load() {
				// Content that was on the clipboard before our own write
				// has already been superseded by it.
				m.lastSeq = seq
				continue
			}
			seq = m.coalesce(ctx, changes, seq, window)
			m.lastSeq = seq
			m.capture(ctx)
		}
	}
}

// coalesce collapses a burst of notifications into one capture of the last
// snapshot: some applications write the clipboard several times per copy.
func (m *Monitor) coalesce(ctx context.Context, changes <-chan uint64, seq uint64, window time.Duration) uint64 {
	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return seq
		case <-timer.C:
			return seq
		case next, ok := <-changes:
			if !ok {
				return seq
			}
			if next > seq {
				seq = next
			}
		}
	}
}

func (m *Monitor) capture(ctx context.Context) {
	snap, err := m.readWithRetry(ctx)
	if err != nil {
		m.skip(event.SkipTransient, err.Error())
		return
	}
	if snap.Empty() {
		m.skip(event.SkipEmpty, "")
		return
	}

	res, err := fingerprint.Classify(&fingerprint.Snapshot{
		Files: snap.Files,
		Image: snap.Image,
		HTML:  snap.HTML,
		Text:  snap.Text,
	}, fingerprint.Limits{
		Soft: m.cfg.SoftSizeLimit,
		Hard: m.cfg.HardSizeCap,
	}, m.cfg.PreviewMaxLen)

	if err != nil {
		switch reason := classifySkipReason(err); reason {
		case event.SkipEmpty:
			m.skip(reason, "")
		case event.SkipTooLarge:
			m.log.Warn("capture rejected", "reason", "too_large", "error", err)
			m.skip(reason, err.Error())
		default:
			m.log.Error("classification failed", "error", err)
			m.skip(reason, err.Error())
		}
		return
	}

	if m.consumeSelfWrite(res.Fingerprint) {
		m.skip(event.SkipSelfWrite, "")
		return
	}

	rec := &store.Capture{
		Kind:        string(res.Kind),
		Fingerprint: res.Fingerprint,
		Payload:     res.Payload,
		Inline:      res.Kind != fingerprint.KindImage && len(res.Payload) <= m.cfg.InlineLimit,
		Preview:     res.Preview,
		SourceApp:   snap.SourceApp,
	}

	if res.Kind == fingerprint.KindImage {
		thumb, err := imaging.Derive(res.Payload, m.cfg.ThumbnailMaxDim)
		if err != nil {
			// Recoverable: the item is persisted without a thumbnail.
			m.log.Warn("thumbnail derivation failed", "error", err)
		} else {
			rec.Thumb = thumb.PNG
			rec.Preview = fingerprint.ImagePreview(thumb.Width, thumb.Height)
		}
	}

	item, created, err := m.store.SaveCapture(ctx, rec)
	if err != nil {
		m.log.Error("failed to persist capture", "fingerprint", res.Fingerprint, "error", err)
		m.skip(event.SkipStoreFailure, err.Error())
		return
	}

	if created {
		m.bus.Publish(event.ItemAdded{Item: item})
	} else {
		m.bus.Publish(event.ItemUpdated{Item: item})
	}

	m.log.Debug("captured clipboard item",
		"kind", rec.Kind, "bytes", len(res.Payload), "new", created)
}

// readWithRetry retries transient clipboard access failures a bounded
// number of times with linear backoff before giving the cycle up.
func (m *Monitor) readWithRetry(ctx context.Context) (*Snapshot, error) {
	backoff := time.Duration(m.cfg.ReadBackoff) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= m.cfg.ReadRetries; attempt++ {
		snap, err := m.backend.Read()
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrTransientAccess) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
	return nil, fmt.Errorf("clipboard read abandoned after %d retries: %w", m.cfg.ReadRetries, lastErr)
}

func (m *Monitor) skip(reason event.SkipReason, detail string) {
	m.bus.Publish(event.CaptureSkipped{Reason: reason, Detail: detail})
}

// classifySkipReason maps a classification error to the advisory skip
// reason published on the bus.
func classifySkipReason(err error) event.SkipReason {
	switch {
	case errors.Is(err, fingerprint.ErrEmptySnapshot):
		return event.SkipEmpty
	case errors.Is(err, fingerprint.ErrPayloadTooLarge):
		return event.SkipTooLarge
	default:
		return event.SkipClassifyFailure
	}
}

// WriteItem places an item's payload back on the OS clipboard and marks
// the write self-originated so its own change notification is not
// re-captured. Notifications already in flight at write time carry
// sequences at or below the returned generation and are skipped wholesale.
func (m *Monitor) WriteItem(kind fingerprint.Kind, payload []byte, fp string) error {
	m.selfMu.Lock()
	m.selfFP = fp
	m.selfPending = true
	m.selfMu.Unlock()

	gen, err := m.backend.Write(kind, payload)
	if err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	m.selfGen.Store(gen)
	return nil
}

// consumeSelfWrite reports whether fp matches a pending programmatic write.
// The marker covers only the first capture after the write, match or not:
// if the write's own notification never arrives, the next capture clears it
// rather than swallowing a later genuine copy of the same content.
func (m *Monitor) consumeSelfWrite(fp string) bool {
	m.selfMu.Lock()
	defer m.selfMu.Unlock()
	if !m.selfPending {
		return false
	}
	m.selfPending = false
	return m.selfFP == fp
}
