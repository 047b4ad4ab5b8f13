// Package testdata generates synthetic frame sequences for tests that need
// real pixels.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

// Scene describes a filled square moving across a black frame.
type Scene struct {
	Width, Height int
	Size          int
	Start         image.Point
	Step          image.Point
}

// DefaultScene is a 320x240 frame with a 24px square moving right and down.
func DefaultScene() Scene {
	return Scene{
		Width:  320,
		Height: 240,
		Size:   24,
		Start:  image.Pt(80, 60),
		Step:   image.Pt(3, 2),
	}
}

// SquareAt returns the square's box in frame i.
func (s Scene) SquareAt(i int) region.Region {
	return region.New(s.Start.X+i*s.Step.X, s.Start.Y+i*s.Step.Y, s.Size, s.Size)
}

// Frame renders frame i. The caller must close it.
func (s Scene) Frame(i int) gocv.Mat {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), s.Height, s.Width, gocv.MatTypeCV8UC3)
	box := s.SquareAt(i).Rect()
	gocv.Rectangle(&frame, box, color.RGBA{255, 255, 255, 0}, -1)
	// A darker inner block gives the template some structure
	inner := box.Inset(s.Size / 4)
	gocv.Rectangle(&frame, inner, color.RGBA{90, 90, 90, 0}, -1)
	return frame
}

// Sequence renders n frames. Close them with CloseAll.
func (s Scene) Sequence(n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		f := s.Frame(i)
		frames[i] = &f
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
