package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/uptrace/bun"
)

func (s *Store) payloadPath(fingerprint string) string {
	return filepath.Join(s.blobDir, fingerprint)
}

func (s *Store) thumbPath(fingerprint string) string {
	return filepath.Join(s.blobDir, fingerprint+".thumb")
}

// writeBlobFiles lays the payload (and thumbnail, if any) down on disk.
// Files are content-addressed, so rewriting an existing fingerprint is a
// no-op with identical bytes; partially written files are replaced by the
// rename.
func (s *Store) writeBlobFiles(fingerprint string, payload, thumb []byte) error {
	if err := writeAtomic(s.payloadPath(fingerprint), payload); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if len(thumb) > 0 {
		if err := writeAtomic(s.thumbPath(fingerprint), thumb); err != nil {
			return fmt.Errorf("failed to write thumbnail: %w", err)
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// retainBlob bumps the refcount for fingerprint, creating the row on first
// reference.
func retainBlob(ctx context.Context, tx bun.Tx, fingerprint string, size int64, hasThumb bool) error {
	_, err := tx.NewInsert().
		Model(&Blob{Fingerprint: fingerprint, RefCount: 1, SizeBytes: size, HasThumb: hasThumb}).
		On("CONFLICT (fingerprint) DO UPDATE").
		Set("ref_count = ref_count + 1").
		Exec(ctx)
	return err
}

// releaseBlob drops one reference and reports whether the count reached
// zero (meaning the caller must remove the files after commit).
func releaseBlob(ctx context.Context, tx bun.Tx, fingerprint string) (gone bool, err error) {
	res, err := tx.NewUpdate().
		Model((*Blob)(nil)).
		Set("ref_count = ref_count - 1").
		Where("fingerprint = ?", fingerprint).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil // inline item, no blob row
	}

	deleted, err := tx.NewDelete().
		Model((*Blob)(nil)).
		Where("fingerprint = ? AND ref_count <= 0", fingerprint).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := deleted.RowsAffected()
	return n > 0, nil
}

// removeBlobFiles deletes the on-disk payload and thumbnail for a
// fingerprint whose refcount hit zero. Best effort: a file already gone is
// not an error.
func (s *Store) removeBlobFiles(fingerprint string) {
	for _, path := range []string{s.payloadPath(fingerprint), s.thumbPath(fingerprint)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && s.log != nil {
			s.log.Warn("failed to remove blob file", "path", path, "error", err)
		}
	}
}

// Payload returns the raw content of an item, whether inline or blob-backed.
func (s *Store) Payload(item *Item) ([]byte, error) {
	if item.Inline() {
		return item.Content, nil
	}
	data, err := os.ReadFile(s.payloadPath(item.Fingerprint))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", item.Fingerprint, err)
	}
	return data, nil
}

// Thumbnail returns the thumbnail PNG for an image item, or ErrNotFound if
// the item has none.
func (s *Store) Thumbnail(item *Item) ([]byte, error) {
	if !item.HasThumb {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.thumbPath(item.Fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read thumbnail %s: %w", item.Fingerprint, err)
	}
	return data, nil
}
