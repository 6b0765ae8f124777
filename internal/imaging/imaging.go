// Package imaging derives display artifacts from raw clipboard image
// payloads. Decode failures are recoverable by contract: callers persist
// the item without a thumbnail and move on.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// DecodeError wraps a failed decode so callers can distinguish a corrupt
// payload from an I/O problem.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("imaging: decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Thumbnail is a bounded-size PNG rendition of a captured image.
type Thumbnail struct {
	PNG    []byte
	Width  int // source image width
	Height int // source image height
}

// Derive decodes data and produces a PNG thumbnail fitting inside a
// maxDim x maxDim box, preserving aspect ratio. Images already inside the
// box are re-encoded without scaling.
func Derive(data []byte, maxDim int) (*Thumbnail, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("degenerate image %dx%d", w, h)}
	}

	tw, th := fit(w, h, maxDim)

	var thumb image.Image = src
	if tw != w || th != h {
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		thumb = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("imaging: encode thumbnail: %w", err)
	}

	return &Thumbnail{PNG: buf.Bytes(), Width: w, Height: h}, nil
}

// fit scales (w, h) down to fit a maxDim square, never up.
func fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		th := h * maxDim / w
		if th < 1 {
			th = 1
		}
		return maxDim, th
	}
	tw := w * maxDim / h
	if tw < 1 {
		tw = 1
	}
	return tw, maxDim
}
