// Package region defines the axis-aligned bounding box shared by detectors,
// trackers and the tracking session.
package region

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidRegion is returned when a supplied or detected region has
// non-positive dimensions or falls outside the frame when bounds checking is on.
var ErrInvalidRegion = errors.New("invalid region")

// Region is an axis-aligned rectangle in pixel coordinates.
// It is a value type: updates replace it wholesale.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// New returns a Region with the given origin and size.
func New(x, y, width, height int) Region {
	return Region{X: x, Y: y, Width: width, Height: height}
}

// FromRect converts an image.Rectangle (as returned by gocv) to a Region.
func FromRect(r image.Rectangle) Region {
	r = r.Canon()
	return Region{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Bounds returns the region covering a whole frame of the given size.
func Bounds(width, height int) Region {
	return Region{Width: width, Height: height}
}

// IsValid reports whether the region has positive width and height.
// An invalid region is treated as "no detection".
func (r Region) IsValid() bool {
	return r.Width > 0 && r.Height > 0
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Area returns width*height, or 0 for an invalid region.
func (r Region) Area() int {
	if !r.IsValid() {
		return 0
	}
	return r.Width * r.Height
}

// Intersects reports whether the two regions overlap by at least one pixel.
func (r Region) Intersects(o Region) bool {
	if !r.IsValid() || !o.IsValid() {
		return false
	}
	return r.Rect().Overlaps(o.Rect())
}

// Within reports whether r lies entirely inside bounds.
func (r Region) Within(bounds Region) bool {
	if !r.IsValid() || !bounds.IsValid() {
		return false
	}
	return r.Rect().In(bounds.Rect())
}

// Clamp intersects r with bounds. The boolean is false when nothing of r
// remains inside bounds; the returned region is then the zero value.
func (r Region) Clamp(bounds Region) (Region, bool) {
	clipped := r.Rect().Intersect(bounds.Rect())
	if clipped.Empty() {
		return Region{}, false
	}
	return FromRect(clipped), true
}

// Validate returns ErrInvalidRegion (wrapped with the offending value) when
// the region is not valid.
func (r Region) Validate() error {
	if !r.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidRegion, r)
	}
	return nil
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}
