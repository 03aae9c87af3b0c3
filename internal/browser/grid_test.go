// File: internal/browser/grid_test.go
package browser

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, white)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestDrawGridOverlaysLines(t *testing.T) {
	out, err := DrawGrid(whitePNG(t, 300, 250))
	require.NoError(t, err)

	img := decodePNG(t, out)
	require.Equal(t, 300, img.Bounds().Dx())
	require.Equal(t, 250, img.Bounds().Dy())

	// Vertical lines at x=100 and x=200, horizontal lines at y=100
	// and y=200. A red line blended over white keeps full red but
	// pulls green and blue down.
	for _, p := range []image.Point{
		{X: 100, Y: 50}, {X: 200, Y: 50},
		{X: 50, Y: 100}, {X: 50, Y: 200},
	} {
		r, g, b, _ := img.At(p.X, p.Y).RGBA()
		assert.EqualValues(t, 0xffff, r, "red channel at %v", p)
		assert.Less(t, g, uint32(0xd000), "green channel at %v", p)
		assert.Less(t, b, uint32(0xd000), "blue channel at %v", p)
	}

	// Away from any grid line the image stays white.
	r, g, b, _ := img.At(50, 50).RGBA()
	assert.EqualValues(t, 0xffff, r)
	assert.EqualValues(t, 0xffff, g)
	assert.EqualValues(t, 0xffff, b)
}

func TestDrawGridLabels(t *testing.T) {
	out, err := DrawGrid(whitePNG(t, 300, 250))
	require.NoError(t, err)
	img := decodePNG(t, out)

	// The "100" label sits just right of the x=100 line near the top
	// edge, drawn in a stronger red than the line itself. Scan the
	// label box for at least one such pixel.
	found := false
	for y := 0; y < 20 && !found; y++ {
		for x := 101; x < 130; x++ {
			r, g, _, _ := img.At(x, y).RGBA()
			if r == 0xffff && g < 0x8000 {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "expected label pixels beside the x=100 grid line")
}

func TestDrawGridSmallImageHasNoLines(t *testing.T) {
	out, err := DrawGrid(whitePNG(t, 80, 60))
	require.NoError(t, err)
	img := decodePNG(t, out)

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			require.EqualValues(t, 0xffff, r)
			require.EqualValues(t, 0xffff, g)
			require.EqualValues(t, 0xffff, b)
		}
	}
}

func TestDrawGridRejectsInvalidPNG(t *testing.T) {
	_, err := DrawGrid([]byte("not a png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding screenshot")
}
