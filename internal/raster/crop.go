package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/planproof/planproof/internal/store"
)

// PNGCropper cuts region crops out of page raster PNGs. Boxes arrive on the
// normalized 0-1000 grid and are scaled to the raster's pixel dimensions.
type PNGCropper struct{}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the PNG-encoded region of raster covered by bbox, expanded by
// pad normalized units on every side.
func (PNGCropper) Crop(raster []byte, bbox store.BBox, pad int) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(raster))
	if err != nil {
		return nil, fmt.Errorf("decode raster: %w", err)
	}

	box := bbox.Normalize().Expand(pad)
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	rect := image.Rect(
		bounds.Min.X+box.X0*w/store.CanvasMax,
		bounds.Min.Y+box.Y0*h/store.CanvasMax,
		bounds.Min.X+box.X1*w/store.CanvasMax,
		bounds.Min.Y+box.Y1*h/store.CanvasMax,
	)
	rect = rect.Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("crop %s: empty pixel rect for %dx%d raster", bbox.RegionID(), w, h)
	}

	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("crop %s: raster image type %T does not support cropping", bbox.RegionID(), img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, si.SubImage(rect)); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
