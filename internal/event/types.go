package event

import "github.com/Ukiyograin/clipboard-master/internal/store"

// Event is the interface all bus events implement.
type Event interface {
	EventType() string
}

// Event type constants for subscription filtering.
const (
	TypeItemAdded      = "item.added"
	TypeItemUpdated    = "item.updated"
	TypeItemRemoved    = "item.removed"
	TypeCaptureSkipped = "capture.skipped"
)

// ItemAdded is published when a capture or import inserts a new item.
type ItemAdded struct {
	Item *store.Item
}

func (ItemAdded) EventType() string { return TypeItemAdded }

// ItemUpdated is published when a capture deduplicates against an existing
// item or a command mutates one.
type ItemUpdated struct {
	Item *store.Item
}

func (ItemUpdated) EventType() string { return TypeItemUpdated }

// ItemRemoved is published when an item is deleted or purged.
type ItemRemoved struct {
	ItemID int64
}

func (ItemRemoved) EventType() string { return TypeItemRemoved }

// SkipReason explains why a capture cycle produced no item.
type SkipReason string

const (
	SkipEmpty           SkipReason = "empty"
	SkipSelfWrite       SkipReason = "self_write"
	SkipTooLarge        SkipReason = "too_large"
	SkipTransient       SkipReason = "transient_access"
	SkipStoreFailure    SkipReason = "store_failure"
	SkipClassifyFailure SkipReason = "classify_failure"
)

// CaptureSkipped is advisory: the monitor observed a change but persisted
// nothing. UIs surface or ignore it; nothing is lost silently.
type CaptureSkipped struct {
	Reason SkipReason
	Detail string
}

func (CaptureSkipped) EventType() string { return TypeCaptureSkipped }
