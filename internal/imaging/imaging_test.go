package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestDeriveScalesDown(t *testing.T) {
	thumb, err := Derive(encodePNG(t, 640, 480), 128)
	require.NoError(t, err)

	assert.Equal(t, 640, thumb.Width)
	assert.Equal(t, 480, thumb.Height)

	w, h := decodeSize(t, thumb.PNG)
	assert.Equal(t, 128, w)
	assert.Equal(t, 96, h, "aspect ratio preserved")
}

func TestDeriveTallImage(t *testing.T) {
	thumb, err := Derive(encodePNG(t, 100, 400), 128)
	require.NoError(t, err)

	w, h := decodeSize(t, thumb.PNG)
	assert.Equal(t, 128, h)
	assert.Equal(t, 32, w)
}

func TestDeriveNeverUpscales(t *testing.T) {
	thumb, err := Derive(encodePNG(t, 64, 64), 128)
	require.NoError(t, err)

	w, h := decodeSize(t, thumb.PNG)
	assert.Equal(t, 64, w)
	assert.Equal(t, 64, h)
}

func TestDeriveCorruptPayload(t *testing.T) {
	_, err := Derive([]byte("not an image at all"), 128)
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{640, 480, 128, 128, 96},
		{480, 640, 128, 96, 128},
		{64, 64, 128, 64, 64},
		{128, 128, 128, 128, 128},
		{10000, 1, 128, 128, 1},
		{100, 100, 0, 100, 100},
	}
	for _, tt := range tests {
		w, h := fit(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w, "fit(%d,%d,%d) width", tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantH, h, "fit(%d,%d,%d) height", tt.w, tt.h, tt.max)
	}
}
