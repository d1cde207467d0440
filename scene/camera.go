package scene

import (
	"fmt"
	"image"
	"math"

	"github.com/achilleasa/tilefarm/types"
)

// The camera type maps world space onto the frame. It uses an orthographic
// projection looking down the +Z axis: the XY window [WindowMin, WindowMax]
// is stretched over the frame and depth is measured from the near plane.
type Camera struct {
	WindowMin types.Vec2
	WindowMax types.Vec2

	// Geometry in front of the near plane is clipped.
	Near float32

	// Map world +Y to the bottom of the frame instead of the top.
	InvertY bool
}

// Create a camera whose window covers the given world space rectangle.
func NewCamera(windowMin, windowMax types.Vec2) *Camera {
	return &Camera{
		WindowMin: windowMin,
		WindowMax: windowMax,
	}
}

func (c *Camera) String() string {
	return fmt.Sprintf(
		"Camera window: (%3.3f, %3.3f) - (%3.3f, %3.3f), near: %3.3f",
		c.WindowMin[0], c.WindowMin[1],
		c.WindowMax[0], c.WindowMax[1],
		c.Near,
	)
}

// Check that the camera window is not degenerate.
func (c *Camera) Validate() error {
	extent := c.WindowMax.Sub(c.WindowMin)
	if extent[0] <= 0 || extent[1] <= 0 {
		return fmt.Errorf("scene: camera window must have a positive extent")
	}
	return nil
}

// Project a world space box into normalized screen space. X and Y of the
// returned bounds lie in [0, 1] with (0, 0) at the top-left corner of the
// frame; Z holds the depth range of the box relative to the near plane.
// The ok flag is false if the box is not visible at all.
func (c *Camera) ProjectBox(b Box3) (lo, hi types.Vec3, ok bool) {
	if b.Max[2] < c.Near {
		return lo, hi, false
	}

	extent := c.WindowMax.Sub(c.WindowMin)
	x0 := (b.Min[0] - c.WindowMin[0]) / extent[0]
	x1 := (b.Max[0] - c.WindowMin[0]) / extent[0]
	y0 := (b.Min[1] - c.WindowMin[1]) / extent[1]
	y1 := (b.Max[1] - c.WindowMin[1]) / extent[1]
	if !c.InvertY {
		y0, y1 = 1-y1, 1-y0
	}

	if x1 < 0 || y1 < 0 || x0 > 1 || y0 > 1 {
		return lo, hi, false
	}

	zNear := b.Min[2] - c.Near
	if zNear < 0 {
		zNear = 0
	}
	lo = types.XYZ(clamp01(x0), clamp01(y0), zNear)
	hi = types.XYZ(clamp01(x1), clamp01(y1), b.Max[2]-c.Near)
	return lo, hi, true
}

// Get the pixel rectangle covered by a box for a frame of the given size
// together with the nearest depth of the box. The ok flag is false if the
// box does not cover any pixel.
func (c *Camera) ScreenRect(b Box3, size image.Point) (image.Rectangle, float32, bool) {
	lo, hi, ok := c.ProjectBox(b)
	if !ok {
		return image.Rectangle{}, 0, false
	}

	r := image.Rect(
		int(math.Floor(float64(lo[0]*float32(size.X)))),
		int(math.Floor(float64(lo[1]*float32(size.Y)))),
		int(math.Ceil(float64(hi[0]*float32(size.X)))),
		int(math.Ceil(float64(hi[1]*float32(size.Y)))),
	).Intersect(image.Rectangle{Max: size})
	if r.Empty() {
		return image.Rectangle{}, 0, false
	}
	return r, lo[2], true
}

// Map the center of a frame pixel back to world space XY coordinates.
func (c *Camera) Unproject(x, y int, size image.Point) types.Vec2 {
	extent := c.WindowMax.Sub(c.WindowMin)
	u := (float32(x) + 0.5) / float32(size.X)
	v := (float32(y) + 0.5) / float32(size.Y)
	if !c.InvertY {
		v = 1 - v
	}
	return types.XY(c.WindowMin[0]+u*extent[0], c.WindowMin[1]+v*extent[1])
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
