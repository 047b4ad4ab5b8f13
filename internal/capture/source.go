// Package capture provides frame acquisition from cameras and video files
// using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture settings
const (
	DefaultWidth  = 500
	DefaultDevice = 0
)

var (
	// ErrEndOfStream is returned by ReadFrame when a video file has no more
	// frames. It is not a failure: the frame loop simply stops.
	ErrEndOfStream = errors.New("end of stream")

	// ErrSourceNotOpen is returned when reading from a source that is not open.
	ErrSourceNotOpen = errors.New("source is not open")
)

// Source defines the interface for frame sources.
type Source interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller owns the returned Mat and
	// must close it. ErrEndOfStream marks the end of a finite source.
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
}

// Config selects and shapes the frame source.
type Config struct {
	// VideoPath reads from a file when set; otherwise Device is used.
	VideoPath string

	// Device is the camera index used when VideoPath is empty.
	Device int

	// Width resizes frames to this width, keeping aspect ratio. 0 keeps the
	// native size.
	Width int
}

// DefaultConfig returns the default camera configuration.
func DefaultConfig() Config {
	return Config{
		Device: DefaultDevice,
		Width:  DefaultWidth,
	}
}

// Describe returns a human-readable name for the configured source.
func (c Config) Describe() string {
	if c.VideoPath != "" {
		return c.VideoPath
	}
	return fmt.Sprintf("camera:%d", c.Device)
}

// videoSource reads frames from a camera device or a video file.
type videoSource struct {
	config  Config
	capture *gocv.VideoCapture
	raw     gocv.Mat
	mu      sync.Mutex
	running bool
}

// NewVideoSource creates a Source for the given configuration.
// The source is not opened until Open is called.
func NewVideoSource(config Config) Source {
	return &videoSource{config: config}
}

// Open opens the device or file.
func (v *videoSource) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return nil
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if v.config.VideoPath != "" {
		capture, err = gocv.VideoCaptureFile(v.config.VideoPath)
	} else {
		capture, err = gocv.OpenVideoCapture(v.config.Device)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", v.config.Describe(), err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open %s: capture not opened", v.config.Describe())
	}

	v.capture = capture
	v.raw = gocv.NewMat()
	v.running = true

	return nil
}

// Close releases the capture.
func (v *videoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		v.running = false
		return nil
	}

	err := v.capture.Close()
	v.raw.Close()
	v.capture = nil
	v.running = false

	return err
}

// ReadFrame reads and resizes the next frame.
// The caller is responsible for closing the returned Mat.
func (v *videoSource) ReadFrame() (*gocv.Mat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running || v.capture == nil {
		return nil, ErrSourceNotOpen
	}

	if ok := v.capture.Read(&v.raw); !ok || v.raw.Empty() {
		if v.config.VideoPath != "" {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("failed to read frame from camera")
	}

	frame := gocv.NewMat()
	Resize(v.raw, &frame, v.config.Width)
	return &frame, nil
}

// IsOpen returns true if the source is open.
func (v *videoSource) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.running
}

// Resize scales src into dst so that dst is width pixels wide, preserving
// the aspect ratio. A non-positive width copies src unchanged.
func Resize(src gocv.Mat, dst *gocv.Mat, width int) {
	if width <= 0 || src.Cols() == 0 || src.Cols() == width {
		src.CopyTo(dst)
		return
	}
	height := src.Rows() * width / src.Cols()
	if height < 1 {
		height = 1
	}
	gocv.Resize(src, dst, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
}
