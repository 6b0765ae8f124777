package clipboard

import (
	"context"
	"fmt"
	"sync/atomic"

	sysclip "golang.design/x/clipboard"

	"github.com/Ukiyograin/clipboard-master/internal/fingerprint"
)

// SystemBackend adapts golang.design/x/clipboard. The underlying library
// exposes text and image flavors; file-list and HTML flavors arrive as
// plain text on the platforms it supports.
//
// Change notifications and programmatic writes share one sequence counter,
// so the generation returned by Write orders against the values delivered
// on Changes: a notification with a sequence at or below the generation
// predates the write.
type SystemBackend struct {
	seq atomic.Uint64
}

func NewSystemBackend() *SystemBackend {
	return &SystemBackend{}
}

func (b *SystemBackend) Start() error {
	if err := sysclip.Init(); err != nil {
		return fmt.Errorf("failed to initialize clipboard: %w", err)
	}
	return nil
}

// Changes merges the text and image watch streams into one sequence
// stream. Sends never block: an unread sequence is superseded by the next.
func (b *SystemBackend) Changes(ctx context.Context) <-chan uint64 {
	out := make(chan uint64, 16)

	textCh := sysclip.Watch(ctx, sysclip.FmtText)
	imageCh := sysclip.Watch(ctx, sysclip.FmtImage)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-textCh:
				if !ok {
					return
				}
				b.bump(out)
			case _, ok := <-imageCh:
				if !ok {
					return
				}
				b.bump(out)
			}
		}
	}()

	return out
}

func (b *SystemBackend) bump(out chan<- uint64) {
	seq := b.seq.Add(1)
	select {
	case out <- seq:
	default:
	}
}

func (b *SystemBackend) Read() (*Snapshot, error) {
	snap := &Snapshot{}

	if img := sysclip.Read(sysclip.FmtImage); len(img) > 0 {
		snap.Image = img
		return snap, nil
	}
	if text := sysclip.Read(sysclip.FmtText); len(text) > 0 {
		snap.Text = string(text)
	}
	return snap, nil
}

func (b *SystemBackend) Write(kind fingerprint.Kind, data []byte) (uint64, error) {
	format := sysclip.FmtText
	if kind == fingerprint.KindImage {
		format = sysclip.FmtImage
	}
	sysclip.Write(format, data)
	return b.seq.Add(1), nil
}
