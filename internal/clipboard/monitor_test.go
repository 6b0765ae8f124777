package clipboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ukiyograin/clipboard-master/internal/config"
	"github.com/Ukiyograin/clipboard-master/internal/event"
	"github.com/Ukiyograin/clipboard-master/internal/fingerprint"
	"github.com/Ukiyograin/clipboard-master/internal/store"
)

// fakeBackend is a scriptable Backend for monitor tests.
type fakeBackend struct {
	mu        sync.Mutex
	snap      Snapshot
	failReads int // remaining transient Read failures

	changes chan uint64
	seq     uint64 // shared between change notifications and writes

	writes []fingerprint.Kind
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{changes: make(chan uint64, 16)}
}

func (f *fakeBackend) Start() error { return nil }

func (f *fakeBackend) Changes(ctx context.Context) <-chan uint64 { return f.changes }

func (f *fakeBackend) Read() (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads > 0 {
		f.failReads--
		return nil, ErrTransientAccess
	}
	snap := f.snap
	return &snap, nil
}

func (f *fakeBackend) Write(kind fingerprint.Kind, data []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, kind)
	f.seq++
	return f.seq, nil
}

// place puts a snapshot on the fake clipboard and signals a change.
func (f *fakeBackend) place(snap Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.seq++
	seq := f.seq
	f.mu.Unlock()
	f.changes <- seq
}

type monitorHarness struct {
	backend *fakeBackend
	store   *store.Store
	monitor *Monitor
	events  chan event.Event
}

func newMonitorHarness(t *testing.T) *monitorHarness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := event.NewBus(64, log)
	t.Cleanup(bus.Close)

	events := make(chan event.Event, 64)
	bus.SubscribeAll(func(ev event.Event) { events <- ev })

	cfg := config.Default()
	cfg.DebounceWindow = 10
	cfg.ReadBackoff = 1
	cfg.HardSizeCap = 4096
	cfg.SoftSizeLimit = 2048

	backend := newFakeBackend()
	monitor := NewMonitor(backend, st, bus, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, monitor.Start(ctx))
	t.Cleanup(func() {
		cancel()
		monitor.Wait()
	})

	return &monitorHarness{backend: backend, store: st, monitor: monitor, events: events}
}

func (h *monitorHarness) nextEvent(t *testing.T) event.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (h *monitorHarness) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %s", ev.EventType())
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMonitorCapturesAndDedups(t *testing.T) {
	h := newMonitorHarness(t)

	h.backend.place(Snapshot{Text: "hello"})
	added, ok := h.nextEvent(t).(event.ItemAdded)
	require.True(t, ok)
	assert.Equal(t, "text", added.Item.Kind)
	assert.Equal(t, "hello", added.Item.Preview)

	// Copying the same content again updates the existing item.
	h.backend.place(Snapshot{Text: "hello"})
	updated, ok := h.nextEvent(t).(event.ItemUpdated)
	require.True(t, ok)
	assert.Equal(t, added.Item.ID, updated.Item.ID)

	n, err := h.store.Count(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMonitorPrefersRicherFlavor(t *testing.T) {
	h := newMonitorHarness(t)

	h.backend.place(Snapshot{Text: "bold", HTML: "<b>bold</b>"})
	added, ok := h.nextEvent(t).(event.ItemAdded)
	require.True(t, ok)
	assert.Equal(t, "html", added.Item.Kind)
}

func TestMonitorSkipsEmptySnapshot(t *testing.T) {
	h := newMonitorHarness(t)

	h.backend.place(Snapshot{})
	skipped, ok := h.nextEvent(t).(event.CaptureSkipped)
	require.True(t, ok)
	assert.Equal(t, event.SkipEmpty, skipped.Reason)
}

func TestMonitorRejectsOversizedPayloadOnce(t *testing.T) {
	h := newMonitorHarness(t)

	h.backend.place(Snapshot{Text: strings.Repeat("x", 5000)})
	skipped, ok := h.nextEvent(t).(event.CaptureSkipped)
	require.True(t, ok)
	assert.Equal(t, event.SkipTooLarge, skipped.Reason)

	// Exactly one advisory event, and nothing persisted.
	h.expectNoEvent(t)
	n, err := h.store.Count(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMonitorRetriesTransientReads(t *testing.T) {
	h := newMonitorHarness(t)

	h.backend.mu.Lock()
	h.backend.failReads = 2
	h.backend.mu.Unlock()

	h.backend.place(Snapshot{Text: "eventually readable"})
	added, ok := h.nextEvent(t).(event.ItemAdded)
	require.True(t, ok)
	assert.Equal(t, "eventually readable", added.Item.Preview)
}

func TestMonitorSuppressesSelfWriteOnce(t *testing.T) {
	h := newMonitorHarness(t)

	payload := []byte("pasted back")
	fp := fingerprint.Hash(payload)
	require.NoError(t, h.monitor.WriteItem(fingerprint.KindText, payload, fp))
	require.Len(t, h.backend.writes, 1)

	// The change caused by our own write is not re-captured.
	h.backend.place(Snapshot{Text: "pasted back"})
	skipped, ok := h.nextEvent(t).(event.CaptureSkipped)
	require.True(t, ok)
	assert.Equal(t, event.SkipSelfWrite, skipped.Reason)

	// A later genuine copy of the same content registers normally.
	h.backend.place(Snapshot{Text: "pasted back"})
	_, ok = h.nextEvent(t).(event.ItemAdded)
	require.True(t, ok)
}

func TestMonitorSkipsNotificationsPredatingSelfWrite(t *testing.T) {
	h := newMonitorHarness(t)

	// A change happens, but its notification is still in flight when we
	// write the clipboard ourselves.
	h.backend.mu.Lock()
	h.backend.snap = Snapshot{Text: "superseded content"}
	h.backend.seq++
	staleSeq := h.backend.seq
	h.backend.mu.Unlock()

	payload := []byte("programmatic write")
	require.NoError(t, h.monitor.WriteItem(fingerprint.KindText, payload, fingerprint.Hash(payload)))

	// The stale notification is at or below the write generation and must
	// not trigger a capture of the pre-write content.
	h.backend.changes <- staleSeq
	h.expectNoEvent(t)

	n, err := h.store.Count(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMonitorSelfWriteMarkerClearsOnNextCapture(t *testing.T) {
	h := newMonitorHarness(t)

	payload := []byte("written but never echoed")
	require.NoError(t, h.monitor.WriteItem(fingerprint.KindText, payload, fingerprint.Hash(payload)))

	// The write's own notification is lost; a different copy happens first.
	h.backend.place(Snapshot{Text: "unrelated copy"})
	_, ok := h.nextEvent(t).(event.ItemAdded)
	require.True(t, ok)

	// A genuine later copy of the written content must be captured, not
	// swallowed by a stale suppression marker.
	h.backend.place(Snapshot{Text: "written but never echoed"})
	added, ok := h.nextEvent(t).(event.ItemAdded)
	require.True(t, ok)
	assert.Equal(t, "written but never echoed", added.Item.Preview)
}

func TestClassifySkipReason(t *testing.T) {
	assert.Equal(t, event.SkipEmpty, classifySkipReason(fingerprint.ErrEmptySnapshot))
	assert.Equal(t, event.SkipTooLarge, classifySkipReason(fingerprint.ErrPayloadTooLarge))
	assert.Equal(t, event.SkipClassifyFailure, classifySkipReason(errors.New("unrecognized flavor")))
}

func TestMonitorCoalescesBursts(t *testing.T) {
	h := newMonitorHarness(t)

	// Several rapid-fire notifications for one logical copy produce one
	// capture of the final snapshot.
	h.backend.mu.Lock()
	h.backend.snap = Snapshot{Text: "draft one"}
	h.backend.seq++
	seq1 := h.backend.seq
	h.backend.snap = Snapshot{Text: "final text"}
	h.backend.seq++
	seq2 := h.backend.seq
	h.backend.mu.Unlock()
	h.backend.changes <- seq1
	h.backend.changes <- seq2

	added, ok := h.nextEvent(t).(event.ItemAdded)
	require.True(t, ok)
	assert.Equal(t, "final text", added.Item.Preview)

	h.expectNoEvent(t)
	n, err := h.store.Count(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMonitorRejectsDoubleStart(t *testing.T) {
	h := newMonitorHarness(t)
	assert.Error(t, h.monitor.Start(context.Background()))
}
