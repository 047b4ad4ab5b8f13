package detector

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

// CascadeDetector finds faces with an OpenCV Haar cascade classifier.
type CascadeDetector struct {
	config     Config
	classifier gocv.CascadeClassifier
	gray       gocv.Mat
	closed     bool
}

// NewCascadeDetector loads the cascade named in config. A missing or
// unreadable cascade is reported as ErrResourceLoad.
func NewCascadeDetector(config Config) (*CascadeDetector, error) {
	if config.CascadePath == "" {
		return nil, fmt.Errorf("%w: cascade path is empty", ErrResourceLoad)
	}
	if _, err := os.Stat(config.CascadePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceLoad, err)
	}
	if config.ScaleFactor <= 1 {
		config.ScaleFactor = DefaultConfig().ScaleFactor
	}
	if config.MinNeighbors <= 0 {
		config.MinNeighbors = DefaultConfig().MinNeighbors
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(config.CascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("%w: cannot load cascade %s", ErrResourceLoad, config.CascadePath)
	}

	return &CascadeDetector{
		config:     config,
		classifier: classifier,
		gray:       gocv.NewMat(),
	}, nil
}

// Detect converts the frame to an equalised grayscale copy and runs the
// cascade on it. Faces are returned in the classifier's order.
func (d *CascadeDetector) Detect(frame *gocv.Mat) ([]region.Region, error) {
	if d.closed {
		return nil, fmt.Errorf("cascade detector is closed")
	}
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &d.gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&d.gray)
	}
	if d.config.Equalize {
		gocv.EqualizeHist(d.gray, &d.gray)
	}

	minSize := image.Point{X: d.config.MinSize, Y: d.config.MinSize}
	rects := d.classifier.DetectMultiScaleWithParams(d.gray, d.config.ScaleFactor, d.config.MinNeighbors, 0, minSize, image.Point{})

	faces := make([]region.Region, 0, len(rects))
	for _, r := range rects {
		faces = append(faces, region.FromRect(r))
	}
	return faces, nil
}

// Close releases the classifier and scratch buffers. It is safe to call twice.
func (d *CascadeDetector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.gray.Close()
	return d.classifier.Close()
}
