// Package store is the persistent side of the engine: a WAL-journaled
// SQLite database holding items, tags, and links, plus a content-addressed
// blob directory keyed by fingerprint for payloads too large to inline.
//
// All mutations funnel through a single mutex and run inside one
// transaction each, so a crash mid-capture never leaves a half-written
// item. Readers proceed concurrently under WAL snapshot reads.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// schemaVersion is the newest schema this binary understands. Databases
// reporting a higher version fail open-time rather than risk silent
// corruption under an older binary.
const schemaVersion = 1

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")

	// ErrSchemaVersion is returned when the database was written by a
	// newer binary.
	ErrSchemaVersion = errors.New("store: database schema is newer than this binary supports")
)

type Store struct {
	db  *bun.DB
	log *slog.Logger

	dbPath  string
	blobDir string

	// writeMu serializes all mutating transactions (single-writer
	// discipline); readers go straight to the WAL snapshot.
	writeMu sync.Mutex
}

// Open opens (or creates) the store under dataDir: the database file
// clipboard.db and the blobs/ directory beside it.
func Open(dataDir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	blobDir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "clipboard.db")
	sqldb, err := sql.Open(sqliteshim.ShimName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.RegisterModel((*ItemTag)(nil))

	s := &Store{
		db:      db,
		log:     log,
		dbPath:  dbPath,
		blobDir: blobDir,
	}

	if err := s.configure(); err != nil {
		sqldb.Close()
		return nil, err
	}

	if err := s.migrate(context.Background()); err != nil {
		sqldb.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// migrate is idempotent and forward-only: it applies every migration newer
// than the stored version and fails fast when the stored version is newer
// than the binary.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*schemaMigration)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int64
	err := s.db.NewSelect().
		Model((*schemaMigration)(nil)).
		ColumnExpr("COALESCE(MAX(version), 0)").
		Scan(ctx, &current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if current > schemaVersion {
		return fmt.Errorf("%w: database at v%d, binary supports v%d", ErrSchemaVersion, current, schemaVersion)
	}

	for v := current + 1; v <= schemaVersion; v++ {
		if err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := migrations[v-1](ctx, tx); err != nil {
				return err
			}
			_, err := tx.NewInsert().
				Model(&schemaMigration{Version: v, AppliedAt: time.Now().UTC()}).
				Exec(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("failed to apply migration v%d: %w", v, err)
		}
		if s.log != nil {
			s.log.Info("applied schema migration", "version", v)
		}
	}

	return nil
}

var migrations = []func(ctx context.Context, tx bun.Tx) error{
	migrateV1,
}

func migrateV1(ctx context.Context, tx bun.Tx) error {
	models := []interface{}{
		(*Item)(nil),
		(*Tag)(nil),
		(*ItemTag)(nil),
		(*Blob)(nil),
	}
	for _, model := range models {
		if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_items_fingerprint ON items(fingerprint)",
		"CREATE INDEX IF NOT EXISTS idx_items_last_used ON items(last_used_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_items_kind ON items(kind)",
		"CREATE INDEX IF NOT EXISTS idx_items_archived ON items(archived)",
		"CREATE INDEX IF NOT EXISTS idx_items_pinned ON items(pinned) WHERE pinned = 1",
		"CREATE INDEX IF NOT EXISTS idx_items_favorite ON items(favorite) WHERE favorite = 1",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_name ON tags(name COLLATE NOCASE)",
		"CREATE INDEX IF NOT EXISTS idx_item_tags_tag ON item_tags(tag_id)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// inTx runs fn inside a single serialized write transaction.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.RunInTx(ctx, nil, fn)
}

func (s *Store) Close() error {
	return s.db.Close()
}
