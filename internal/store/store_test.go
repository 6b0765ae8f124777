package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ukiyograin/clipboard-master/internal/fingerprint"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func textCapture(text string) *Capture {
	payload := []byte(text)
	return &Capture{
		Kind:        string(fingerprint.KindText),
		Fingerprint: fingerprint.Hash(payload),
		Payload:     payload,
		Inline:      true,
		Preview:     text,
	}
}

func blobCapture(kind, content string) *Capture {
	payload := []byte(content)
	return &Capture{
		Kind:        kind,
		Fingerprint: fingerprint.Hash(payload),
		Payload:     payload,
		Inline:      false,
		Preview:     "[" + kind + "]",
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(dir, log)
	require.NoError(t, err)
	_, _, err = s.SaveCapture(context.Background(), textCapture("survives reopen"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, log)
	require.NoError(t, err)
	defer s.Close()

	items, err := s.List(context.Background(), Filter{}, SortTime, Page{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "survives reopen", items[0].Preview)
}

func TestSchemaVersionGuard(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(dir, log)
	require.NoError(t, err)
	_, err = s.db.NewInsert().
		Model(&schemaMigration{Version: schemaVersion + 1, AppliedAt: time.Now().UTC()}).
		Exec(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(dir, log)
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestSaveCaptureInsertsAndDedups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, created, err := s.SaveCapture(ctx, textCapture("hello"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	// Same content again: no new row, last_used_at advances.
	time.Sleep(5 * time.Millisecond)
	again, created, err := s.SaveCapture(ctx, textCapture("hello"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.LastUsedAt.After(first.LastUsedAt) || again.LastUsedAt.Equal(first.LastUsedAt))

	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveCaptureNeverRegressesLastUsed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recent := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	c := textCapture("long-lived snippet")
	c.CreatedAt = recent
	c.LastUsedAt = recent
	_, _, err := s.SaveCapture(ctx, c)
	require.NoError(t, err)

	// Replaying an old export of the same content must not move the live
	// item backwards in time.
	stale := textCapture("long-lived snippet")
	stale.LastUsedAt = recent.AddDate(0, 0, -30)
	item, created, err := s.SaveCapture(ctx, stale)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, item.LastUsedAt.After(stale.LastUsedAt), "last_used_at regressed to the stale timestamp")

	// A genuinely newer capture still advances it.
	newer := textCapture("long-lived snippet")
	newer.LastUsedAt = recent.Add(time.Hour)
	item, _, err = s.SaveCapture(ctx, newer)
	require.NoError(t, err)
	assert.True(t, item.LastUsedAt.After(recent))
}

func TestSaveCaptureBackfillsSourceApp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := textCapture("from nowhere")
	_, _, err := s.SaveCapture(ctx, c)
	require.NoError(t, err)

	c2 := textCapture("from nowhere")
	c2.SourceApp = "editor"
	item, created, err := s.SaveCapture(ctx, c2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "editor", item.SourceApp)
}

func TestSaveCaptureBlobPayload(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := blobCapture("image", "fake image bytes")
	c.Thumb = []byte("fake thumbnail png")

	item, created, err := s.SaveCapture(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, item.Inline())
	assert.True(t, item.HasThumb)

	payload, err := s.Payload(item)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake image bytes"), payload)

	thumb, err := s.Thumbnail(item)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake thumbnail png"), thumb)
}

func TestDeleteItemReleasesBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := blobCapture("image", "shared pixels")
	item, _, err := s.SaveCapture(ctx, c)
	require.NoError(t, err)

	blobFile := s.payloadPath(c.Fingerprint)
	_, err = os.Stat(blobFile)
	require.NoError(t, err)

	require.NoError(t, s.DeleteItem(ctx, item.ID))

	_, err = os.Stat(blobFile)
	assert.True(t, os.IsNotExist(err), "blob file removed with last reference")

	err = s.DeleteItem(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchivedFingerprintSharesBlob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := blobCapture("image", "pixels both rows share")
	first, _, err := s.SaveCapture(ctx, c)
	require.NoError(t, err)

	// Archive the row, then re-capture the same content: a fresh item is
	// inserted and the blob refcount covers both.
	_, err = s.db.NewUpdate().Model((*Item)(nil)).
		Set("archived = ?", true).Where("id = ?", first.ID).
		Exec(ctx)
	require.NoError(t, err)

	second, created, err := s.SaveCapture(ctx, blobCapture("image", "pixels both rows share"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)

	blob := new(Blob)
	require.NoError(t, s.db.NewSelect().Model(blob).
		Where("fingerprint = ?", c.Fingerprint).Scan(ctx))
	assert.Equal(t, int64(2), blob.RefCount)

	// Deleting one row keeps the file; deleting both removes it.
	require.NoError(t, s.DeleteItem(ctx, second.ID))
	_, err = os.Stat(s.payloadPath(c.Fingerprint))
	require.NoError(t, err)

	require.NoError(t, s.DeleteItem(ctx, first.ID))
	_, err = os.Stat(s.payloadPath(c.Fingerprint))
	assert.True(t, os.IsNotExist(err))
}

func TestTouchAndToggles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item, _, err := s.SaveCapture(ctx, textCapture("flip me"))
	require.NoError(t, err)

	pinned, err := s.TogglePin(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, pinned.Pinned)

	unpinned, err := s.TogglePin(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, unpinned.Pinned)

	fav, err := s.ToggleFavorite(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, fav.Favorite)

	require.NoError(t, s.Touch(ctx, item.ID))
	assert.ErrorIs(t, s.Touch(ctx, 99999), ErrNotFound)

	_, err = s.TogglePin(ctx, 99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := textCapture("old and forgettable")
	old.LastUsedAt = time.Now().UTC().AddDate(0, 0, -120)
	old.CreatedAt = old.LastUsedAt
	_, _, err := s.SaveCapture(ctx, old)
	require.NoError(t, err)

	pinnedOld := textCapture("old but pinned")
	pinnedOld.LastUsedAt = time.Now().UTC().AddDate(0, 0, -120)
	pinnedOld.Pinned = true
	_, _, err = s.SaveCapture(ctx, pinnedOld)
	require.NoError(t, err)

	favOld := textCapture("old but favorite")
	favOld.LastUsedAt = time.Now().UTC().AddDate(0, 0, -120)
	favOld.Favorite = true
	_, _, err = s.SaveCapture(ctx, favOld)
	require.NoError(t, err)

	fresh := textCapture("fresh")
	_, _, err = s.SaveCapture(ctx, fresh)
	require.NoError(t, err)

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	archived, err := s.ArchiveOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived, "pinned and favorite items are exempt")

	// Idempotent: nothing further to archive.
	archived, err = s.ArchiveOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, archived)

	// Archived rows vanish from default queries but remain reachable.
	n, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = s.Count(ctx, Filter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestPurgeArchived(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stale := blobCapture("image", "stale archived pixels")
	stale.LastUsedAt = time.Now().UTC().AddDate(0, 0, -200)
	item, _, err := s.SaveCapture(ctx, stale)
	require.NoError(t, err)

	_, err = s.ArchiveOlderThan(ctx, time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)

	purged, err := s.PurgeArchived(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, item.ID, purged[0])

	_, err = s.ItemByID(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = os.Stat(s.payloadPath(stale.Fingerprint))
	assert.True(t, os.IsNotExist(err), "purge releases blob storage")

	// Nothing archived remains.
	purged, err = s.PurgeArchived(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, purged)
}

func TestBlobFilesAreContentAddressed(t *testing.T) {
	s := openTestStore(t)

	payload := []byte("addressed by hash")
	fp := fingerprint.Hash(payload)
	require.NoError(t, s.writeBlobFiles(fp, payload, nil))
	require.NoError(t, s.writeBlobFiles(fp, payload, nil), "rewrite is harmless")

	data, err := os.ReadFile(filepath.Join(s.blobDir, fp))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}
