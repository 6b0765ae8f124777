package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/uptrace/bun"
)

// ErrInvalidTagName is returned for empty names or names containing the
// CSV join delimiter, commas, or control characters.
var ErrInvalidTagName = errors.New("store: invalid tag name")

func validateTagName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTagName)
	}
	for _, r := range name {
		if r == '|' || r == ',' || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidTagName, name)
		}
	}
	return name, nil
}

// CreateTag inserts a tag, or returns the existing one when the name is
// already taken (case-insensitively).
func (s *Store) CreateTag(ctx context.Context, name, color string) (*Tag, error) {
	name, err := validateTagName(name)
	if err != nil {
		return nil, err
	}

	var tag *Tag
	err = s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		tag, err = ensureTag(ctx, tx, name, color)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func ensureTag(ctx context.Context, tx bun.Tx, name, color string) (*Tag, error) {
	existing := new(Tag)
	err := tx.NewSelect().
		Model(existing).
		Where("name = ? COLLATE NOCASE", name).
		Scan(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up tag: %w", err)
	}

	tag := &Tag{Name: name, Color: color}
	if _, err := tx.NewInsert().Model(tag).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to insert tag: %w", err)
	}
	return tag, nil
}

// linkTags ensures the named tags exist and links them to the item,
// leaving existing links in place. Invalid names abort the transaction.
func linkTags(ctx context.Context, tx bun.Tx, itemID int64, names []string) error {
	for _, raw := range names {
		name, err := validateTagName(raw)
		if err != nil {
			return err
		}
		tag, err := ensureTag(ctx, tx, name, "")
		if err != nil {
			return err
		}
		if _, err := tx.NewInsert().
			Model(&ItemTag{ItemID: itemID, TagID: tag.ID}).
			On("CONFLICT DO NOTHING").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to link tag %q: %w", name, err)
		}
	}
	return nil
}

// SetItemTags replaces an item's tag set with the named tags.
func (s *Store) SetItemTags(ctx context.Context, itemID int64, names []string) (*Item, error) {
	var item *Item
	err := s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*Item)(nil)).Where("id = ?", itemID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check item: %w", err)
		}
		if !exists {
			return ErrNotFound
		}

		if _, err := tx.NewDelete().Model((*ItemTag)(nil)).Where("item_id = ?", itemID).Exec(ctx); err != nil {
			return fmt.Errorf("failed to clear tag links: %w", err)
		}
		if err := linkTags(ctx, tx, itemID, names); err != nil {
			return err
		}

		item = new(Item)
		return tx.NewSelect().Model(item).Relation("Tags").Where("i.id = ?", itemID).Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteTag removes a tag and all its item links. Items themselves are
// never deleted by tag removal.
func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*ItemTag)(nil)).Where("tag_id = ?", id).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete tag links: %w", err)
		}
		res, err := tx.NewDelete().Model((*Tag)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete tag: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]*Tag, error) {
	var tags []*Tag
	err := s.db.NewSelect().
		Model(&tags).
		OrderExpr("name COLLATE NOCASE ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return tags, nil
}
