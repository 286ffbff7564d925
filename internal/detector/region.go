package detector

import "math"

// Point is a 2D position in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is the raw face geometry reported by a model. It is one of
// Corners, CenterBox or LegacyBox; Normalize turns any of them into a
// BoundingRegion.
type Geometry interface {
	isGeometry()
}

// Corners expresses a rectangle by its min/max corners.
type Corners struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// CenterBox expresses a rectangle by its center and extent.
type CenterBox struct {
	XCenter float64
	YCenter float64
	Width   float64
	Height  float64
}

// LegacyBox is the topLeft/bottomRight pair emitted by older face models.
type LegacyBox struct {
	TopLeft     Point
	BottomRight Point
}

func (Corners) isGeometry()   {}
func (CenterBox) isGeometry() {}
func (LegacyBox) isGeometry() {}

// BoundingRegion is the canonical axis-aligned face rectangle.
type BoundingRegion struct {
	TopLeft     Point `json:"topLeft"`
	BottomRight Point `json:"bottomRight"`
}

// Width returns the horizontal extent of the region.
func (r BoundingRegion) Width() float64 {
	return r.BottomRight.X - r.TopLeft.X
}

// Height returns the vertical extent of the region.
func (r BoundingRegion) Height() float64 {
	return r.BottomRight.Y - r.TopLeft.Y
}

// Center returns the midpoint of the region.
func (r BoundingRegion) Center() Point {
	return Point{
		X: (r.TopLeft.X + r.BottomRight.X) / 2,
		Y: (r.TopLeft.Y + r.BottomRight.Y) / 2,
	}
}

// Normalize converts any supported geometry into a BoundingRegion.
// It returns false when g is nil, holds non-finite values, or describes a
// rectangle with no positive extent. Callers skip such faces.
func Normalize(g Geometry) (BoundingRegion, bool) {
	var r BoundingRegion

	switch v := g.(type) {
	case Corners:
		r = BoundingRegion{
			TopLeft:     Point{X: v.XMin, Y: v.YMin},
			BottomRight: Point{X: v.XMax, Y: v.YMax},
		}
	case *Corners:
		if v == nil {
			return BoundingRegion{}, false
		}
		return Normalize(*v)
	case CenterBox:
		halfW, halfH := v.Width/2, v.Height/2
		r = BoundingRegion{
			TopLeft:     Point{X: v.XCenter - halfW, Y: v.YCenter - halfH},
			BottomRight: Point{X: v.XCenter + halfW, Y: v.YCenter + halfH},
		}
	case *CenterBox:
		if v == nil {
			return BoundingRegion{}, false
		}
		return Normalize(*v)
	case LegacyBox:
		r = BoundingRegion{TopLeft: v.TopLeft, BottomRight: v.BottomRight}
	case *LegacyBox:
		if v == nil {
			return BoundingRegion{}, false
		}
		return Normalize(*v)
	default:
		return BoundingRegion{}, false
	}

	for _, f := range []float64{r.TopLeft.X, r.TopLeft.Y, r.BottomRight.X, r.BottomRight.Y} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return BoundingRegion{}, false
		}
	}
	if r.Width() <= 0 || r.Height() <= 0 {
		return BoundingRegion{}, false
	}

	return r, true
}
