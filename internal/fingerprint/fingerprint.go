// Package fingerprint classifies raw clipboard snapshots and computes a
// stable content hash over the normalized payload. Two captures with equal
// fingerprints are the same logical content regardless of when they were
// copied.
package fingerprint

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFiles Kind = "files"
	KindHTML  Kind = "html"
)

var (
	// ErrEmptySnapshot is returned when no supported format carries data.
	ErrEmptySnapshot = errors.New("fingerprint: empty snapshot")

	// ErrPayloadTooLarge is returned when the payload exceeds the hard cap.
	ErrPayloadTooLarge = errors.New("fingerprint: payload exceeds hard size cap")
)

// Snapshot is the set of format flavors the OS clipboard exposed at one
// instant. A single copy action commonly fills several flavors at once.
type Snapshot struct {
	Files []string
	Image []byte
	HTML  string
	Text  string
}

// Limits bounds how much of a payload is hashed and stored. Payloads above
// Soft are hashed and previewed from a truncated prefix but stored whole;
// payloads above Hard are rejected.
type Limits struct {
	Soft int
	Hard int
}

// Result is the classification outcome for one snapshot.
type Result struct {
	Kind        Kind
	Payload     []byte // normalized payload bytes
	Fingerprint string // sha256 hex over the (possibly truncated) payload
	Preview     string
	Truncated   bool // fingerprint/preview computed over a prefix
}

// cfHTMLHeader matches the volatile header lines Windows prepends to HTML
// fragments (offsets and source URL change between otherwise identical
// copies).
var cfHTMLHeader = regexp.MustCompile(`(?m)^(Version|StartHTML|EndHTML|StartFragment|EndFragment|StartSelection|EndSelection|SourceURL):[^\n]*\n?`)

var fragmentMarker = regexp.MustCompile(`<!--(Start|End)Fragment-->`)

// Classify inspects the snapshot's flavors in fixed priority order
// (FileList > Image > Html > Text) and returns the kind, normalized payload,
// fingerprint, and preview for the highest-priority flavor present.
func Classify(snap *Snapshot, limits Limits, previewMax int) (*Result, error) {
	switch {
	case len(snap.Files) > 0:
		payload := []byte(strings.Join(snap.Files, "\n"))
		return finish(KindFiles, payload, fileListPreview(snap.Files, previewMax), limits)

	case len(snap.Image) > 0:
		// Preview is refined to "[Image WxH]" once decoding succeeds.
		return finish(KindImage, snap.Image, "[Image]", limits)

	case strings.TrimSpace(snap.HTML) != "":
		payload := []byte(NormalizeHTML(snap.HTML))
		return finish(KindHTML, payload, textPreview(string(payload), previewMax), limits)

	case strings.TrimSpace(snap.Text) != "":
		payload := []byte(snap.Text)
		return finish(KindText, payload, textPreview(snap.Text, previewMax), limits)
	}

	return nil, ErrEmptySnapshot
}

func finish(kind Kind, payload []byte, preview string, limits Limits) (*Result, error) {
	if limits.Hard > 0 && len(payload) > limits.Hard {
		return nil, fmt.Errorf("%w: %d bytes (cap %d)", ErrPayloadTooLarge, len(payload), limits.Hard)
	}

	hashed := payload
	truncated := false
	if limits.Soft > 0 && len(payload) > limits.Soft {
		hashed = payload[:limits.Soft]
		truncated = true
	}

	return &Result{
		Kind:        kind,
		Payload:     payload,
		Fingerprint: Hash(hashed),
		Preview:     preview,
		Truncated:   truncated,
	}, nil
}

// Hash returns the hex-encoded SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// NormalizeHTML strips volatile metadata from an HTML fragment so repeated
// copies of the same content hash identically.
func NormalizeHTML(html string) string {
	out := cfHTMLHeader.ReplaceAllString(html, "")
	out = fragmentMarker.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func textPreview(text string, max int) string {
	text = strings.TrimSpace(text)
	if line := strings.IndexAny(text, "\r\n"); line >= 0 {
		// Keep the preview to the first line; the full payload is stored.
		text = text[:line] + " …"
	}
	return truncateRunes(text, max)
}

func fileListPreview(files []string, max int) string {
	if len(files) == 1 {
		return truncateRunes(files[0], max)
	}
	return truncateRunes(fmt.Sprintf("%d files: %s", len(files), strings.Join(files, ", ")), max)
}

// ImagePreview renders the canonical preview string for a decoded image.
func ImagePreview(width, height int) string {
	return fmt.Sprintf("[Image %dx%d]", width, height)
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
