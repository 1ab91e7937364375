package store

import (
	"encoding/json"
	"fmt"
)

// Coordinate space shared by every bounding box in the store. The vision
// service reports boxes on a 0-1000 grid regardless of raster size.
const (
	CanvasMin = 0
	CanvasMax = 1000
)

// BBox is a rectangle on the normalized 0-1000 canvas.
// Invariant after Normalize: X1 > X0, Y1 > Y0, all values in [0,1000].
type BBox struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// FullCanvas is the fallback box for missing or unparseable input.
func FullCanvas() BBox {
	return BBox{X0: CanvasMin, Y0: CanvasMin, X1: CanvasMax, Y1: CanvasMax}
}

// Normalize clamps all coordinates into [0,1000] and repairs degenerate
// extents by nudging the far edge one unit. Idempotent.
func (b BBox) Normalize() BBox {
	b.X0 = clamp(b.X0)
	b.Y0 = clamp(b.Y0)
	b.X1 = clamp(b.X1)
	b.Y1 = clamp(b.Y1)
	if b.X1 <= b.X0 {
		b.X1 = b.X0 + 1
		if b.X1 > CanvasMax {
			b.X0 = CanvasMax - 1
			b.X1 = CanvasMax
		}
	}
	if b.Y1 <= b.Y0 {
		b.Y1 = b.Y0 + 1
		if b.Y1 > CanvasMax {
			b.Y0 = CanvasMax - 1
			b.Y1 = CanvasMax
		}
	}
	return b
}

// Expand grows the box by pad normalized units on every side, clamped to the
// canvas. Used when cropping so a region keeps a little surrounding context.
func (b BBox) Expand(pad int) BBox {
	if pad < 0 {
		pad = 0
	}
	return BBox{
		X0: b.X0 - pad,
		Y0: b.Y0 - pad,
		X1: b.X1 + pad,
		Y1: b.Y1 + pad,
	}.Normalize()
}

// RegionID derives the region identifier from the normalized box. Identical
// boxes always produce identical ids, across processes and runs; the id
// doubles as the pointer directory name and the stage-1/stage-2 join key.
func (b BBox) RegionID() string {
	n := b.Normalize()
	return fmt.Sprintf("region_%d_%d_%d_%d", n.X0, n.Y0, n.X1, n.Y1)
}

// UnmarshalJSON accepts either an explicit rect object {"x0":..} or the
// vision service's 4-element [y0,x0,y1,x1] tuple. Anything else normalizes to
// the full canvas; malformed boxes are repaired, never rejected.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var rect struct {
		X0 *float64 `json:"x0"`
		Y0 *float64 `json:"y0"`
		X1 *float64 `json:"x1"`
		Y1 *float64 `json:"y1"`
	}
	if err := json.Unmarshal(data, &rect); err == nil && rect.X0 != nil && rect.Y0 != nil && rect.X1 != nil && rect.Y1 != nil {
		*b = BBox{
			X0: int(*rect.X0),
			Y0: int(*rect.Y0),
			X1: int(*rect.X1),
			Y1: int(*rect.Y1),
		}.Normalize()
		return nil
	}

	var tuple []float64
	if err := json.Unmarshal(data, &tuple); err == nil && len(tuple) == 4 {
		*b = BBox{
			Y0: int(tuple[0]),
			X0: int(tuple[1]),
			Y1: int(tuple[2]),
			X1: int(tuple[3]),
		}.Normalize()
		return nil
	}

	*b = FullCanvas()
	return nil
}

func clamp(v int) int {
	if v < CanvasMin {
		return CanvasMin
	}
	if v > CanvasMax {
		return CanvasMax
	}
	return v
}
