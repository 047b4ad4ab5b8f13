package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results frame by frame.
type MockDetector struct {
	script  [][]region.Region
	regions []region.Region
	err     error
	calls   int
	closed  bool
	mu      sync.Mutex
}

// NewMockDetector creates a new MockDetector instance that detects nothing.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetRegions sets the regions returned by every Detect call once any
// scripted results are used up.
func (m *MockDetector) SetRegions(regions []region.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = regions
}

// Script queues per-call results: the first Detect returns results[0], the
// second results[1], and so on.
func (m *MockDetector) Script(results ...[]region.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the next scripted result, the configured regions, or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]region.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		return next, nil
	}
	return m.regions, nil
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock as closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
