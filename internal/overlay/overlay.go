// Package overlay draws the tracked region and status lines onto frames for
// display and streaming. The session never calls it.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/session"
)

var (
	// BoxColor outlines a region the tracker reported on this frame.
	BoxColor = color.RGBA{0, 255, 0, 0}
	// StaleColor outlines a region kept from an earlier frame after a miss.
	StaleColor = color.RGBA{255, 255, 0, 0}
	// TextColor is used for the info lines.
	TextColor = color.RGBA{255, 0, 0, 0}
)

const (
	lineSpacing = 20
	margin      = 10
	fontScale   = 0.6
	thickness   = 2
)

// Line is one "Key: Value" status entry.
type Line struct {
	Key   string
	Value string
}

func (l Line) String() string {
	return fmt.Sprintf("%s: %s", l.Key, l.Value)
}

// Lines returns the status entries for snap, bottom line first.
func Lines(snap session.Snapshot) []Line {
	lines := []Line{{Key: "Tracker", Value: string(snap.Backend)}}

	if snap.TrackSuccess == nil {
		return append(lines, Line{Key: "Mode", Value: string(snap.Mode)})
	}

	success := "No"
	if *snap.TrackSuccess {
		success = "Yes"
	}
	fps := 0.0
	if snap.FPS != nil {
		fps = *snap.FPS
	}
	return append(lines,
		Line{Key: "Success", Value: success},
		Line{Key: "FPS", Value: fmt.Sprintf("%.2f", fps)},
	)
}

// Draw annotates frame in place with the snapshot's region and status lines.
func Draw(frame *gocv.Mat, snap session.Snapshot) {
	if frame == nil || frame.Empty() {
		return
	}

	if snap.Region != nil && snap.Region.IsValid() {
		c := BoxColor
		if snap.TrackSuccess != nil && !*snap.TrackSuccess {
			c = StaleColor
		}
		gocv.Rectangle(frame, snap.Region.Rect(), c, thickness)
	}

	h := frame.Rows()
	for i, l := range Lines(snap) {
		org := image.Pt(margin, h-(i*lineSpacing+lineSpacing))
		gocv.PutText(frame, l.String(), org, gocv.FontHersheySimplex, fontScale, TextColor, thickness)
	}
}
