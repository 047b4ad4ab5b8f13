package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

// Motion gating constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
	// DefaultMaxSkip bounds how many still frames may go undetected in a row.
	DefaultMaxSkip = 15
)

// MotionGate wraps a Detector and only runs it on frames that differ from
// the previous one, so a static scene does not pay for full detection on
// every frame. Every MaxSkip still frames the inner detector runs anyway,
// which catches a face that entered the scene slowly.
type MotionGate struct {
	inner     Detector
	threshold float64
	maxSkip   int
	skipped   int
	prevGray  gocv.Mat
	gray      gocv.Mat
	hasPrev   bool
	closed    bool
	mu        sync.Mutex
}

// NewMotionGate gates inner on a change of more than threshold percent of
// pixels. The gate owns inner and closes it.
func NewMotionGate(inner Detector, threshold float64, maxSkip int) *MotionGate {
	if maxSkip <= 0 {
		maxSkip = DefaultMaxSkip
	}
	return &MotionGate{
		inner:     inner,
		threshold: threshold,
		maxSkip:   maxSkip,
		prevGray:  gocv.NewMat(),
		gray:      gocv.NewMat(),
	}
}

// Detect runs the inner detector when the frame shows motion.
func (m *MotionGate) Detect(frame *gocv.Mat) ([]region.Region, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil
	}
	moved, _ := m.change(frame)
	run := moved || m.skipped >= m.maxSkip
	if run {
		m.skipped = 0
	} else {
		m.skipped++
	}
	m.mu.Unlock()

	if !run {
		return nil, nil
	}
	return m.inner.Detect(frame)
}

// change reports whether the frame differs from the previous one, and the
// percentage of changed pixels. The first frame always counts as motion.
//
// Algorithm:
// 1. Convert frame to grayscale
// 2. Apply Gaussian blur (21x21) to reduce noise
// 3. Calculate absolute difference with previous frame
// 4. Threshold the difference (threshold=25)
// 5. Count non-zero pixels / total pixels = changePercent
func (m *MotionGate) change(frame *gocv.Mat) (bool, float64) {
	if frame == nil || frame.Empty() {
		return false, 0
	}

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &m.gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&m.gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(m.gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)

	if !m.hasPrev || blurred.Rows() != m.prevGray.Rows() || blurred.Cols() != m.prevGray.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.hasPrev = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changePercent := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&m.prevGray)

	return changePercent > m.threshold, changePercent
}

// Close releases the gate's buffers and the inner detector. It is safe to call twice.
func (m *MotionGate) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.prevGray.Close()
	m.gray.Close()
	m.hasPrev = false
	return m.inner.Close()
}
