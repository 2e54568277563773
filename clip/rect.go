package clip

import "fmt"

// Rect is an axis-aligned rectangle. Selection rectangles are in viewport
// CSS pixels; device rectangles are in raw pixels of the captured raster.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Scale multiplies every field by factor.
func (r Rect) Scale(factor float64) Rect {
	return Rect{
		X:      r.X * factor,
		Y:      r.Y * factor,
		Width:  r.Width * factor,
		Height: r.Height * factor,
	}
}

// DeviceRect converts a selection rectangle into raster pixels. A
// non-positive pixel ratio means "unknown" and counts as 1.
func DeviceRect(sel Rect, zoom, devicePixelRatio float64) Rect {
	if devicePixelRatio <= 0 {
		devicePixelRatio = 1
	}
	if zoom <= 0 {
		zoom = 1
	}
	return sel.Scale(zoom * devicePixelRatio)
}

func (r Rect) String() string {
	return fmt.Sprintf("{x:%g y:%g w:%g h:%g}", r.X, r.Y, r.Width, r.Height)
}
