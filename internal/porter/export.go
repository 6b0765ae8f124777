package porter

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/Ukiyograin/clipboard-master/internal/store"
)

// exportPageSize bounds how many items are materialized at once while
// streaming an export.
const exportPageSize = 200

var csvHeader = []string{
	"id", "kind", "preview", "created_at", "last_used_at", "tags", "is_pinned", "is_favorite",
}

// Export streams items matching filter to path in the given format.
// The file is written to a temporary sibling and renamed into place only
// after a full, synced write.
func (p *Porter) Export(ctx context.Context, path string, format Format, filter store.Filter, withPayloads bool) (err error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("export: failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	switch format {
	case FormatJSON:
		err = p.exportJSON(ctx, f, filter, withPayloads)
	case FormatCSV:
		err = p.exportCSV(ctx, f, filter)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return err
	}

	if err = f.Sync(); err != nil {
		return fmt.Errorf("export: failed to sync: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("export: failed to close: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("export: failed to finalize: %w", err)
	}

	p.log.Info("export complete", "path", path, "format", string(format))
	return nil
}

func (p *Porter) exportJSON(ctx context.Context, f *os.File, filter store.Filter, withPayloads bool) error {
	if _, err := f.WriteString("[\n"); err != nil {
		return fmt.Errorf("export: write failed: %w", err)
	}

	first := true
	err := p.eachItem(ctx, filter, func(item *store.Item) error {
		rec := recordOf(item)
		if withPayloads {
			payload, err := p.store.Payload(item)
			if err != nil {
				return fmt.Errorf("payload for item %d: %w", item.ID, err)
			}
			rec.PayloadB64 = base64.StdEncoding.EncodeToString(payload)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal item %d: %w", item.ID, err)
		}
		if !first {
			if _, err := f.WriteString(",\n"); err != nil {
				return err
			}
		}
		first = false
		_, err = f.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	if _, err := f.WriteString("\n]\n"); err != nil {
		return fmt.Errorf("export: write failed: %w", err)
	}
	return nil
}

func (p *Porter) exportCSV(ctx context.Context, f *os.File, filter store.Filter) error {
	w := csv.NewWriter(f)

	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	err := p.eachItem(ctx, filter, func(item *store.Item) error {
		rec := recordOf(item)
		return w.Write([]string{
			strconv.FormatInt(rec.ID, 10),
			rec.Kind,
			rec.Preview,
			rec.CreatedAt.UTC().Format(timeLayout),
			rec.LastUsedAt.UTC().Format(timeLayout),
			joinTags(rec.Tags),
			strconv.FormatBool(rec.IsPinned),
			strconv.FormatBool(rec.IsFavorite),
		})
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush failed: %w", err)
	}
	return nil
}

// eachItem pages through matching items so exports never materialize the
// whole history in memory.
func (p *Porter) eachItem(ctx context.Context, filter store.Filter, fn func(*store.Item) error) error {
	offset := 0
	for {
		items, err := p.store.List(ctx, filter, store.SortTime, store.Page{Limit: exportPageSize, Offset: offset})
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(items) < exportPageSize {
			return nil
		}
		offset += exportPageSize
	}
}
