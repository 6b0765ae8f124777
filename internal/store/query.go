package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/uptrace/bun"
)

// Filter composes with AND semantics. Archived items are excluded unless
// IncludeArchived is set.
type Filter struct {
	Kinds           []string
	TagIDs          []int64
	Pinned          *bool
	Favorite        *bool
	IncludeArchived bool

	// Query is matched token-prefix, case-insensitively, against item
	// previews and tag names. All tokens must match.
	Query string
}

// Sort selects the result order. Every sort ends with an id tie-break so
// pagination is deterministic.
type Sort string

const (
	SortTime Sort = "time" // last_used_at desc (default)
	SortName Sort = "name" // preview lexicographic
	SortType Sort = "type" // kind, then time
)

// Page bounds a result window. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

// SuggestLimit bounds how many distinct suggestions a prefix lookup
// returns.
const SuggestLimit = 10

// List returns items matching the filter in the requested order.
func (s *Store) List(ctx context.Context, filter Filter, sort Sort, page Page) ([]*Item, error) {
	var items []*Item

	q := s.db.NewSelect().
		Model(&items).
		Relation("Tags")

	applyFilter(q, filter)
	applySort(q, sort)

	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// Count returns how many items match the filter.
func (s *Store) Count(ctx context.Context, filter Filter) (int, error) {
	q := s.db.NewSelect().Model((*Item)(nil))
	applyFilter(q, filter)
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

func applyFilter(q *bun.SelectQuery, filter Filter) {
	if !filter.IncludeArchived {
		q.Where("i.archived = ?", false)
	}
	if len(filter.Kinds) > 0 {
		q.Where("i.kind IN (?)", bun.In(filter.Kinds))
	}
	if filter.Pinned != nil {
		q.Where("i.pinned = ?", *filter.Pinned)
	}
	if filter.Favorite != nil {
		q.Where("i.favorite = ?", *filter.Favorite)
	}
	for _, tagID := range filter.TagIDs {
		tagID := tagID
		q.Where("EXISTS (SELECT 1 FROM item_tags it WHERE it.item_id = i.id AND it.tag_id = ?)", tagID)
	}

	for _, token := range strings.Fields(strings.ToLower(filter.Query)) {
		prefix := escapeLike(token) + "%"
		midword := "% " + escapeLike(token) + "%"
		q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereOr("lower(i.preview) LIKE ? ESCAPE '\\'", prefix).
				WhereOr("lower(i.preview) LIKE ? ESCAPE '\\'", midword).
				WhereOr(`EXISTS (
					SELECT 1 FROM item_tags it
					JOIN tags t ON t.id = it.tag_id
					WHERE it.item_id = i.id AND lower(t.name) LIKE ? ESCAPE '\'
				)`, prefix)
		})
	}
}

func applySort(q *bun.SelectQuery, sort Sort) {
	switch sort {
	case SortName:
		q.OrderExpr("lower(i.preview) ASC, i.id ASC")
	case SortType:
		q.OrderExpr("i.kind ASC, i.last_used_at DESC, i.id DESC")
	default:
		q.OrderExpr("i.last_used_at DESC, i.id DESC")
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// suggestion pairs a candidate string with the last_used_at of the most
// recent item carrying it. Recency stays in the store's on-disk text form:
// all writes are UTC, so the timestamp text compares chronologically as a
// string, and an empty string (tag with no live items) sorts oldest.
type suggestion struct {
	Value   string `bun:"value"`
	Recency string `bun:"recency"`
}

// Suggest returns up to SuggestLimit distinct previews and tag names
// starting with prefix, most recently used first. Previews are
// deduplicated in SQL so heavily repeated previews cannot crowd out
// distinct candidates.
func (s *Store) Suggest(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil, nil
	}
	pattern := escapeLike(prefix) + "%"

	var previews []suggestion
	err := s.db.NewSelect().
		Model((*Item)(nil)).
		ColumnExpr("i.preview AS value").
		ColumnExpr("MAX(i.last_used_at) AS recency").
		Where("i.archived = ?", false).
		Where("lower(i.preview) LIKE ? ESCAPE '\\'", pattern).
		GroupExpr("lower(i.preview)").
		OrderExpr("recency DESC").
		Limit(SuggestLimit).
		Scan(ctx, &previews)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest previews: %w", err)
	}

	var tagNames []suggestion
	err = s.db.NewSelect().
		Model((*Tag)(nil)).
		ColumnExpr("t.name AS value").
		ColumnExpr("COALESCE(MAX(i.last_used_at), '') AS recency").
		Join("LEFT JOIN item_tags AS it ON it.tag_id = t.id").
		Join("LEFT JOIN items AS i ON i.id = it.item_id AND i.archived = 0").
		Where("lower(t.name) LIKE ? ESCAPE '\\'", pattern).
		GroupExpr("t.id").
		OrderExpr("recency DESC").
		Limit(SuggestLimit).
		Scan(ctx, &tagNames)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest tags: %w", err)
	}

	merged := append(previews, tagNames...)
	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Recency > merged[b].Recency
	})

	seen := make(map[string]struct{}, SuggestLimit)
	out := make([]string, 0, SuggestLimit)
	for _, candidate := range merged {
		key := strings.ToLower(candidate.Value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, candidate.Value)
		if len(out) == SuggestLimit {
			break
		}
	}
	return out, nil
}

// ComputeStats gathers statistics on demand; nothing is cached.
func (s *Store) ComputeStats(ctx context.Context) (*Stats, error) {
	stats := new(Stats)

	type kindCount struct {
		Kind  string `bun:"kind"`
		Count int64  `bun:"count"`
	}
	var kinds []kindCount
	err := s.db.NewSelect().
		Model((*Item)(nil)).
		ColumnExpr("i.kind AS kind, COUNT(*) AS count").
		Where("i.archived = ?", false).
		GroupExpr("i.kind").
		Scan(ctx, &kinds)
	if err != nil {
		return nil, fmt.Errorf("failed to count by kind: %w", err)
	}
	for _, kc := range kinds {
		stats.Total += kc.Count
		switch kc.Kind {
		case "text":
			stats.TextItems = kc.Count
		case "image":
			stats.ImageItems = kc.Count
		case "files":
			stats.FileItems = kc.Count
		case "html":
			stats.HTMLItems = kc.Count
		}
	}

	counts := []struct {
		dest  *int64
		where string
	}{
		{&stats.Favorites, "favorite = 1 AND archived = 0"},
		{&stats.Pinned, "pinned = 1 AND archived = 0"},
		{&stats.Archived, "archived = 1"},
	}
	for _, c := range counts {
		n, err := s.db.NewSelect().Model((*Item)(nil)).Where(c.where).Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}
		*c.dest = int64(n)
	}

	err = s.db.NewSelect().
		Model((*Item)(nil)).
		ColumnExpr("COALESCE(SUM(i.size_bytes), 0)").
		Where("i.archived = ?", false).
		Scan(ctx, &stats.PayloadSize)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payload sizes: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&stats.DBSizeBytes); err != nil {
		return nil, fmt.Errorf("failed to read database size: %w", err)
	}

	return stats, nil
}
