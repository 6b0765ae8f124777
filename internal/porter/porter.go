// Package porter moves history in and out of the store in bulk. Exports
// stream to a temporary file renamed into place only on full success, so a
// partial file is never mistaken for valid output. Imports replay every
// record through the same dedup path as live capture.
package porter

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ukiyograin/clipboard-master/internal/event"
	"github.com/Ukiyograin/clipboard-master/internal/store"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrUnknownFormat is returned for paths and format strings that map to no
// supported encoding.
var ErrUnknownFormat = errors.New("porter: unknown format")

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Ext(path))
}

// Record is the interchange shape for one item.
type Record struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Preview     string    `json:"preview"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	Tags        []string  `json:"tags"`
	IsPinned    bool      `json:"is_pinned"`
	IsFavorite  bool      `json:"is_favorite"`
	PayloadB64  string    `json:"payload_b64,omitempty"`
}

// tagJoin separates tags in the CSV encoding; tag names cannot contain it.
const tagJoin = "|"

// RecordError reports one malformed record inside an otherwise usable
// import file.
type RecordError struct {
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Porter performs bulk serialization against a store.
type Porter struct {
	store *store.Store
	bus   *event.Bus
	log   *slog.Logger

	// inlineLimit mirrors the capture path's inline-vs-blob decision.
	inlineLimit int
}

func New(st *store.Store, bus *event.Bus, log *slog.Logger, inlineLimit int) *Porter {
	return &Porter{
		store:       st,
		bus:         bus,
		log:         log,
		inlineLimit: inlineLimit,
	}
}

func recordOf(item *store.Item) *Record {
	tags := make([]string, 0, len(item.Tags))
	for _, tag := range item.Tags {
		tags = append(tags, tag.Name)
	}
	return &Record{
		ID:          item.ID,
		Kind:        item.Kind,
		Fingerprint: item.Fingerprint,
		Preview:     item.Preview,
		CreatedAt:   item.CreatedAt,
		LastUsedAt:  item.LastUsedAt,
		Tags:        tags,
		IsPinned:    item.Pinned,
		IsFavorite:  item.Favorite,
	}
}
