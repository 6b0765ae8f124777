package porter

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ukiyograin/clipboard-master/internal/event"
	"github.com/Ukiyograin/clipboard-master/internal/fingerprint"
	"github.com/Ukiyograin/clipboard-master/internal/store"
)

const timeLayout = time.RFC3339

func joinTags(tags []string) string {
	return strings.Join(tags, tagJoin)
}

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, tagJoin)
}

// Import replays the records in path through the capture dedup path.
// Malformed records are collected per-record and skipped; the returned
// count reflects only newly inserted items.
func (p *Porter) Import(ctx context.Context, path string) (int, []RecordError, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return 0, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("import: failed to open file: %w", err)
	}
	defer f.Close()

	batch := uuid.NewString()

	var inserted int
	var recordErrs []RecordError

	apply := func(index int, rec *Record) {
		created, err := p.applyRecord(ctx, rec)
		if err != nil {
			recordErrs = append(recordErrs, RecordError{Index: index, Err: err})
			return
		}
		if created {
			inserted++
		}
	}

	switch format {
	case FormatJSON:
		err = importJSON(f, apply)
	case FormatCSV:
		err = importCSV(f, apply, &recordErrs)
	}
	if err != nil {
		return 0, nil, err
	}

	p.log.Info("import complete",
		"batch", batch, "path", path, "inserted", inserted, "skipped", len(recordErrs))
	return inserted, recordErrs, nil
}

func importJSON(r io.Reader, apply func(int, *Record)) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("import: failed to read file: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return fmt.Errorf("import: expected a JSON array, got %v", tok)
	}

	for index := 0; dec.More(); index++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			// A mangled element breaks the decoder state; records past
			// this point are unreachable.
			return fmt.Errorf("import: malformed JSON at record %d: %w", index, err)
		}
		apply(index, &rec)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("import: unterminated JSON array: %w", err)
	}
	return nil
}

func importCSV(r io.Reader, apply func(int, *Record), recordErrs *[]RecordError) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("import: failed to read CSV header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(csvHeader, ",") {
		return fmt.Errorf("import: unexpected CSV header %q", strings.Join(header, ","))
	}

	for index := 0; ; index++ {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			*recordErrs = append(*recordErrs, RecordError{Index: index, Err: err})
			continue
		}

		rec, err := recordFromRow(row)
		if err != nil {
			*recordErrs = append(*recordErrs, RecordError{Index: index, Err: err})
			continue
		}
		apply(index, rec)
	}
}

func recordFromRow(row []string) (*Record, error) {
	createdAt, err := time.Parse(timeLayout, row[3])
	if err != nil {
		return nil, fmt.Errorf("bad created_at: %w", err)
	}
	lastUsedAt, err := time.Parse(timeLayout, row[4])
	if err != nil {
		return nil, fmt.Errorf("bad last_used_at: %w", err)
	}
	pinned, err := strconv.ParseBool(row[6])
	if err != nil {
		return nil, fmt.Errorf("bad is_pinned: %w", err)
	}
	favorite, err := strconv.ParseBool(row[7])
	if err != nil {
		return nil, fmt.Errorf("bad is_favorite: %w", err)
	}

	return &Record{
		Kind:       row[1],
		Preview:    row[2],
		CreatedAt:  createdAt,
		LastUsedAt: lastUsedAt,
		Tags:       splitTags(row[5]),
		IsPinned:   pinned,
		IsFavorite: favorite,
	}, nil
}

var validKinds = map[string]bool{
	string(fingerprint.KindText):  true,
	string(fingerprint.KindImage): true,
	string(fingerprint.KindFiles): true,
	string(fingerprint.KindHTML):  true,
}

// applyRecord validates one record and commits it through the same dedup
// path as live capture. Duplicates merge instead of double-inserting.
func (p *Porter) applyRecord(ctx context.Context, rec *Record) (bool, error) {
	if !validKinds[rec.Kind] {
		return false, fmt.Errorf("unknown kind %q", rec.Kind)
	}
	if rec.Preview == "" && rec.PayloadB64 == "" {
		return false, fmt.Errorf("record carries neither preview nor payload")
	}

	var payload []byte
	if rec.PayloadB64 != "" {
		var err error
		payload, err = base64.StdEncoding.DecodeString(rec.PayloadB64)
		if err != nil {
			return false, fmt.Errorf("bad payload_b64: %w", err)
		}
	}

	// Prefer the exported fingerprint: it preserves dedup identity for
	// items whose hash was computed over a truncated prefix.
	fp := rec.Fingerprint
	if fp == "" {
		if payload != nil {
			fp = fingerprint.Hash(payload)
		} else {
			fp = fingerprint.Hash([]byte(rec.Preview))
		}
	}

	preview := rec.Preview
	if preview == "" {
		preview = fmt.Sprintf("[%s import]", rec.Kind)
	}

	if payload == nil {
		// Payload-less records keep the preview as stand-in content so
		// the item remains inline and copy-back still produces something.
		payload = []byte(rec.Preview)
	}

	capture := &store.Capture{
		Kind:        rec.Kind,
		Fingerprint: fp,
		Payload:     payload,
		Inline:      rec.Kind != string(fingerprint.KindImage) && len(payload) <= p.inlineLimit,
		Preview:     preview,
		Pinned:      rec.IsPinned,
		Favorite:    rec.IsFavorite,
		Tags:        rec.Tags,
		CreatedAt:   rec.CreatedAt,
		LastUsedAt:  rec.LastUsedAt,
	}

	item, created, err := p.store.SaveCapture(ctx, capture)
	if err != nil {
		return false, err
	}

	if p.bus != nil {
		if created {
			p.bus.Publish(event.ItemAdded{Item: item})
		} else {
			p.bus.Publish(event.ItemUpdated{Item: item})
		}
	}
	return created, nil
}
