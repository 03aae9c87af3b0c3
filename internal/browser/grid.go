// File: internal/browser/grid.go
package browser

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const gridStep = 100

var (
	gridLineColor  = color.NRGBA{R: 255, A: 80}
	gridLabelColor = color.NRGBA{R: 255, A: 180}
)

// DrawGrid overlays a semi-transparent red coordinate grid on a PNG
// screenshot: a line every 100 pixels on both axes, labelled with its
// pixel offset. The model reads coordinates for click targets off this
// grid, so the step and color must stay in sync with the system prompt.
func DrawGrid(screenshot []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}

	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	width := bounds.Dx()
	height := bounds.Dy()
	line := image.NewUniform(gridLineColor)

	for x := gridStep; x < width; x += gridStep {
		draw.Draw(img, image.Rect(x, 0, x+1, height), line, image.Point{}, draw.Over)
		drawLabel(img, strconv.Itoa(x), x+2, 2)
	}
	for y := gridStep; y < height; y += gridStep {
		draw.Draw(img, image.Rect(0, y, width, y+1), line, image.Point{}, draw.Over)
		drawLabel(img, strconv.Itoa(y), 2, y+2)
	}

	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("encoding screenshot: %w", err)
	}
	return out.Bytes(), nil
}

func drawLabel(img *image.RGBA, text string, x, y int) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(gridLabelColor),
		Face: face,
		// y is the top of the label; the drawer wants the baseline.
		Dot: fixed.P(x, y+face.Ascent),
	}
	drawer.DrawString(text)
}
