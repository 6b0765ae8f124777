package store

import (
	"time"

	"github.com/uptrace/bun"
)

// Item is one unit of clipboard history.
type Item struct {
	bun.BaseModel `bun:"table:items,alias:i"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	Kind        string `bun:"kind,notnull" json:"kind"`
	Fingerprint string `bun:"fingerprint,notnull" json:"fingerprint"`

	// Content holds the payload inline for small text-like items. Larger
	// payloads and all images live in the blob directory keyed by
	// fingerprint, with Content left empty.
	Content []byte `bun:"content" json:"-"`

	Preview   string `bun:"preview,notnull" json:"preview"`
	HasThumb  bool   `bun:"has_thumb,notnull,default:false" json:"has_thumb"`
	SourceApp string `bun:"source_app" json:"source_app,omitempty"`

	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
	LastUsedAt time.Time `bun:"last_used_at,notnull" json:"last_used_at"`

	SizeBytes int64 `bun:"size_bytes,notnull" json:"size_bytes"`

	Pinned   bool `bun:"pinned,notnull,default:false" json:"pinned"`
	Favorite bool `bun:"favorite,notnull,default:false" json:"favorite"`
	Archived bool `bun:"archived,notnull,default:false" json:"archived"`

	Tags []*Tag `bun:"m2m:item_tags,join:Item=Tag" json:"tags,omitempty"`
}

// Inline reports whether the payload is stored in the items table rather
// than the blob directory.
func (i *Item) Inline() bool { return len(i.Content) > 0 }

// Tag labels items. Names are unique case-insensitively.
type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:t"`

	ID    int64  `bun:"id,pk,autoincrement" json:"id"`
	Name  string `bun:"name,notnull" json:"name"`
	Color string `bun:"color" json:"color,omitempty"`
}

// ItemTag links items to tags.
type ItemTag struct {
	bun.BaseModel `bun:"table:item_tags,alias:it"`

	ItemID int64 `bun:"item_id,pk" json:"item_id"`
	Item   *Item `bun:"rel:belongs-to,join:item_id=id" json:"-"`
	TagID  int64 `bun:"tag_id,pk" json:"tag_id"`
	Tag    *Tag  `bun:"rel:belongs-to,join:tag_id=id" json:"-"`
}

// Blob tracks one content-addressed payload on disk. RefCount counts the
// items (live or archived) sharing the fingerprint; the files are removed
// when it reaches zero.
type Blob struct {
	bun.BaseModel `bun:"table:blobs,alias:b"`

	Fingerprint string `bun:"fingerprint,pk" json:"fingerprint"`
	RefCount    int64  `bun:"ref_count,notnull" json:"ref_count"`
	SizeBytes   int64  `bun:"size_bytes,notnull" json:"size_bytes"`
	HasThumb    bool   `bun:"has_thumb,notnull,default:false" json:"has_thumb"`
}

type schemaMigration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version   int64     `bun:"version,pk"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

// Stats is the on-demand statistics snapshot.
type Stats struct {
	Total       int64 `json:"total"`
	TextItems   int64 `json:"text_items"`
	ImageItems  int64 `json:"image_items"`
	FileItems   int64 `json:"file_items"`
	HTMLItems   int64 `json:"html_items"`
	Favorites   int64 `json:"favorites"`
	Pinned      int64 `json:"pinned"`
	Archived    int64 `json:"archived"`
	PayloadSize int64 `json:"payload_size_bytes"`
	DBSizeBytes int64 `json:"db_size_bytes"`
}
