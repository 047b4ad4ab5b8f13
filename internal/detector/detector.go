// Package detector provides the face detection capability that seeds the
// tracking session with candidate regions.
package detector

import (
	"errors"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

// ErrResourceLoad is returned at construction time when a detector cannot
// load its model or resource. It is fatal: no detector is created.
var ErrResourceLoad = errors.New("failed to load detector resource")

// Detector defines the interface for face detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns candidate regions ordered by
	// the implementation's own priority. It must not modify the frame.
	// Returns an empty slice if nothing is detected.
	Detect(frame *gocv.Mat) ([]region.Region, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for cascade detection.
type Config struct {
	// CascadePath is the Haar cascade XML file (required).
	CascadePath string

	// ScaleFactor is how much the image is shrunk at each scale (default: 1.1).
	ScaleFactor float64

	// MinNeighbors is how many neighbours a candidate needs to be kept (default: 3).
	MinNeighbors int

	// MinSize is the smallest face edge in pixels; 0 disables the limit.
	MinSize int

	// Equalize enables histogram equalisation before detection (default: true).
	Equalize bool
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		CascadePath:  "data/haarcascades/haarcascade_frontalface_alt.xml",
		ScaleFactor:  1.1,
		MinNeighbors: 3,
		Equalize:     true,
	}
}
