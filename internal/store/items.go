package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Capture is everything the write path needs to commit one clipboard
// observation. The monitor fills the content fields; the importer
// additionally carries tags, flags, and original timestamps.
type Capture struct {
	Kind        string
	Fingerprint string
	Payload     []byte
	Inline      bool // payload stored in the items table, not the blob dir
	Preview     string
	SourceApp   string
	Thumb       []byte // thumbnail PNG, image kind only

	Pinned   bool
	Favorite bool
	Tags     []string

	CreatedAt  time.Time // zero means now
	LastUsedAt time.Time // zero means now
}

// SaveCapture commits one capture in a single transaction. If a
// non-archived item with the same fingerprint exists, it is updated
// (last_used_at advanced, source app backfilled, tags merged) and created
// is false; otherwise a new item is inserted alongside its blob and
// refcount. A capture matching only archived rows inserts a fresh item
// sharing the blob.
func (s *Store) SaveCapture(ctx context.Context, c *Capture) (item *Item, created bool, err error) {
	now := time.Now().UTC()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastUsed := c.LastUsedAt
	if lastUsed.IsZero() {
		lastUsed = now
	}

	// Blob files go down first: they are content-addressed, so a crash
	// before commit leaves at worst an orphan file that the next capture
	// of the same content reuses.
	if !c.Inline {
		if err := s.writeBlobFiles(c.Fingerprint, c.Payload, c.Thumb); err != nil {
			return nil, false, err
		}
	}

	err = s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		existing := new(Item)
		scanErr := tx.NewSelect().
			Model(existing).
			Where("i.fingerprint = ? AND i.archived = ?", c.Fingerprint, false).
			Limit(1).
			Scan(ctx)

		switch {
		case scanErr == nil:
			// last_used_at only advances: replaying an old export must not
			// regress a live item into the next cleanup's archive window.
			if lastUsed.After(existing.LastUsedAt) {
				existing.LastUsedAt = lastUsed
			}
			if existing.SourceApp == "" {
				existing.SourceApp = c.SourceApp
			}
			if _, err := tx.NewUpdate().
				Model(existing).
				Column("last_used_at", "source_app").
				WherePK().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to update existing item: %w", err)
			}
			if err := linkTags(ctx, tx, existing.ID, c.Tags); err != nil {
				return err
			}
			item = existing
			created = false
			return reloadTags(ctx, tx, item)

		case errors.Is(scanErr, sql.ErrNoRows):
			fresh := &Item{
				Kind:        c.Kind,
				Fingerprint: c.Fingerprint,
				Preview:     c.Preview,
				HasThumb:    len(c.Thumb) > 0,
				SourceApp:   c.SourceApp,
				CreatedAt:   createdAt,
				LastUsedAt:  lastUsed,
				SizeBytes:   int64(len(c.Payload)),
				Pinned:      c.Pinned,
				Favorite:    c.Favorite,
			}
			if c.Inline {
				fresh.Content = c.Payload
			}
			if _, err := tx.NewInsert().Model(fresh).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert item: %w", err)
			}
			if !c.Inline {
				if err := retainBlob(ctx, tx, c.Fingerprint, int64(len(c.Payload)), len(c.Thumb) > 0); err != nil {
					return fmt.Errorf("failed to retain blob: %w", err)
				}
			}
			if err := linkTags(ctx, tx, fresh.ID, c.Tags); err != nil {
				return err
			}
			item = fresh
			created = true
			return reloadTags(ctx, tx, item)

		default:
			return fmt.Errorf("failed to look up fingerprint: %w", scanErr)
		}
	})
	if err != nil {
		s.cleanupOrphanBlob(ctx, c)
		return nil, false, err
	}

	return item, created, nil
}

// cleanupOrphanBlob removes blob files written ahead of a transaction that
// then failed, but only when no committed row references the fingerprint.
func (s *Store) cleanupOrphanBlob(ctx context.Context, c *Capture) {
	if c.Inline {
		return
	}
	exists, err := s.db.NewSelect().
		Model((*Blob)(nil)).
		Where("fingerprint = ?", c.Fingerprint).
		Exists(ctx)
	if err == nil && !exists {
		s.removeBlobFiles(c.Fingerprint)
	}
}

func reloadTags(ctx context.Context, tx bun.Tx, item *Item) error {
	return tx.NewSelect().
		Model(item).
		Relation("Tags").
		Where("i.id = ?", item.ID).
		Scan(ctx)
}

// ItemByID returns an item with its tags loaded, archived or not.
func (s *Store) ItemByID(ctx context.Context, id int64) (*Item, error) {
	item := new(Item)
	err := s.db.NewSelect().
		Model(item).
		Relation("Tags").
		Where("i.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by id: %w", err)
	}
	return item, nil
}

// ItemByFingerprint returns the single non-archived item for a fingerprint.
func (s *Store) ItemByFingerprint(ctx context.Context, fingerprint string) (*Item, error) {
	item := new(Item)
	err := s.db.NewSelect().
		Model(item).
		Relation("Tags").
		Where("i.fingerprint = ? AND i.archived = ?", fingerprint, false).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by fingerprint: %w", err)
	}
	return item, nil
}

// Touch advances last_used_at, used when an item is copied back to the
// clipboard.
func (s *Store) Touch(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Item)(nil)).
			Set("last_used_at = ?", time.Now().UTC()).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to touch item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// TogglePin flips the pinned flag and returns the updated item.
func (s *Store) TogglePin(ctx context.Context, id int64) (*Item, error) {
	return s.toggleFlag(ctx, id, "pinned")
}

// ToggleFavorite flips the favorite flag and returns the updated item.
func (s *Store) ToggleFavorite(ctx context.Context, id int64) (*Item, error) {
	return s.toggleFlag(ctx, id, "favorite")
}

func (s *Store) toggleFlag(ctx context.Context, id int64, column string) (*Item, error) {
	var item *Item
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Item)(nil)).
			Set(column+" = NOT "+column).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to toggle %s: %w", column, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		item = new(Item)
		return tx.NewSelect().Model(item).Relation("Tags").Where("i.id = ?", id).Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem permanently removes an item, its tag links, and its blob
// reference. Blob files are removed from disk once no other item shares
// the fingerprint.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	var removeFP string
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		item := new(Item)
		err := tx.NewSelect().Model(item).Where("i.id = ?", id).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load item: %w", err)
		}

		if _, err := tx.NewDelete().Model((*ItemTag)(nil)).Where("item_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete tag links: %w", err)
		}
		if _, err := tx.NewDelete().Model((*Item)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}

		if !item.Inline() {
			gone, err := releaseBlob(ctx, tx, item.Fingerprint)
			if err != nil {
				return fmt.Errorf("failed to release blob: %w", err)
			}
			if gone {
				removeFP = item.Fingerprint
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if removeFP != "" {
		s.removeBlobFiles(removeFP)
	}
	return nil
}

// ArchiveOlderThan soft-deletes non-pinned, non-favorite items whose
// last_used_at predates cutoff. Idempotent: already-archived rows are
// untouched.
func (s *Store) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var archived int64
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Item)(nil)).
			Set("archived = ?", true).
			Where("archived = ? AND pinned = ? AND favorite = ? AND last_used_at < ?",
				false, false, false, cutoff).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to archive items: %w", err)
		}
		archived, _ = res.RowsAffected()
		return nil
	})
	return archived, err
}

// PurgeArchived irreversibly deletes archived items older than cutoff and
// releases their blob storage. Returns the ids of purged items.
func (s *Store) PurgeArchived(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var purged []int64
	var removeFPs []string

	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		var victims []*Item
		if err := tx.NewSelect().
			Model(&victims).
			Where("i.archived = ? AND i.last_used_at < ?", true, cutoff).
			Scan(ctx); err != nil {
			return fmt.Errorf("failed to list archived items: %w", err)
		}

		for _, item := range victims {
			if _, err := tx.NewDelete().Model((*ItemTag)(nil)).Where("item_id = ?", item.ID).Exec(ctx); err != nil {
				return fmt.Errorf("failed to delete tag links: %w", err)
			}
			if _, err := tx.NewDelete().Model((*Item)(nil)).Where("id = ?", item.ID).Exec(ctx); err != nil {
				return fmt.Errorf("failed to purge item: %w", err)
			}
			if !item.Inline() {
				gone, err := releaseBlob(ctx, tx, item.Fingerprint)
				if err != nil {
					return fmt.Errorf("failed to release blob: %w", err)
				}
				if gone {
					removeFPs = append(removeFPs, item.Fingerprint)
				}
			}
			purged = append(purged, item.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, fp := range removeFPs {
		s.removeBlobFiles(fp)
	}
	return purged, nil
}
