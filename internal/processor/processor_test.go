package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Artemiy111/shop.biplane-design.com/internal/entities"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestDecodeBounds(t *testing.T) {
	p, err := Decode(pngBytes(t, 120, 80), "image/png")
	require.NoError(t, err)

	w, h := p.Bounds()
	assert.Equal(t, 120, w)
	assert.Equal(t, 80, h)
}

func TestDecodeUnsupportedMime(t *testing.T) {
	_, err := Decode(pngBytes(t, 10, 10), "image/tiff")
	assert.ErrorIs(t, err, entities.ErrUnsupportedFormat)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not an image at all"), "image/png")
	assert.ErrorIs(t, err, entities.ErrUnsupportedFormat)
}

func TestRenditionMatrix(t *testing.T) {
	p, err := Decode(pngBytes(t, 1600, 800), "image/png")
	require.NoError(t, err)

	for _, format := range Formats {
		for _, width := range Widths {
			r, err := p.Rendition(width, format)
			require.NoError(t, err, "%s/%d", format, width)

			assert.Equal(t, width, r.TargetWidth)
			assert.LessOrEqual(t, r.Width, width)
			assert.Equal(t, FormatMime[format], r.MimeType)
			assert.Equal(t, int64(len(r.Data)), r.Size)
			assert.NotEmpty(t, r.Data)

			// 2:1 source, so height tracks width within codec rounding
			assert.InDelta(t, r.Width/2, r.Height, 1, "%s/%d aspect", format, width)
		}
	}
}

func TestRenditionNeverUpscales(t *testing.T) {
	p, err := Decode(pngBytes(t, 300, 150), "image/png")
	require.NoError(t, err)

	r, err := p.Rendition(1200, "jpeg")
	require.NoError(t, err)

	assert.Equal(t, 300, r.Width)
	assert.Equal(t, 150, r.Height)
	assert.Equal(t, 1200, r.TargetWidth)
}

func TestRenditionUnknownFormat(t *testing.T) {
	p, err := Decode(pngBytes(t, 10, 10), "image/png")
	require.NoError(t, err)

	_, err = p.Rendition(400, "avif")
	assert.ErrorIs(t, err, entities.ErrUnsupportedFormat)
}
