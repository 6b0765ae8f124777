package clipboard

import (
	"context"
	"errors"

	"github.com/Ukiyograin/clipboard-master/internal/fingerprint"
)

// ErrTransientAccess means another process held the clipboard; the read
// can be retried.
var ErrTransientAccess = errors.New("clipboard: transient access failure")

// Snapshot is what the OS clipboard exposed at one instant, plus the
// best-effort originating application name.
type Snapshot struct {
	Files     []string
	Image     []byte
	HTML      string
	Text      string
	SourceApp string
}

// Empty reports whether no supported flavor carries data.
func (s *Snapshot) Empty() bool {
	return len(s.Files) == 0 && len(s.Image) == 0 && s.HTML == "" && s.Text == ""
}

// Backend abstracts the OS clipboard. Implementations deliver a
// monotonically increasing sequence number per observed change so the
// monitor can ignore spurious notification storms, and report the
// generation of programmatic writes so self-originated changes are not
// re-captured.
type Backend interface {
	// Start initializes OS clipboard access.
	Start() error

	// Changes returns a channel of change sequence numbers. The channel
	// closes when ctx is done.
	Changes(ctx context.Context) <-chan uint64

	// Read returns the current snapshot. It may fail with
	// ErrTransientAccess when the clipboard is held elsewhere.
	Read() (*Snapshot, error)

	// Write places data on the clipboard and returns the write
	// generation. The generation orders against the Changes sequence:
	// notifications at or below it predate the write and are skipped.
	Write(kind fingerprint.Kind, data []byte) (uint64, error)
}
