package tracker

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

// MockUpdate is one scripted result of MockTracker.Update.
type MockUpdate struct {
	Region region.Region
	OK     bool
	Err    error
}

// MockTracker is a test implementation of the Tracker interface. Updates
// follow a script; once it runs out the last entry repeats.
type MockTracker struct {
	script      []MockUpdate
	initRegion  region.Region
	initErr     error
	initialized bool
	closed      bool
	updates     int
	mu          sync.Mutex
}

// NewMockTracker creates a MockTracker that reports success at the init
// region until scripted otherwise.
func NewMockTracker(script ...MockUpdate) *MockTracker {
	return &MockTracker{script: script}
}

// SetInitError makes Init fail with err.
func (m *MockTracker) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// Init records r and validates it like a real backend.
func (m *MockTracker) Init(frame *gocv.Mat, r region.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.initialized {
		return ErrAlreadyInitialized
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if m.initErr != nil {
		return m.initErr
	}
	m.initRegion = r
	m.initialized = true
	return nil
}

// Update returns the next scripted result.
func (m *MockTracker) Update(frame *gocv.Mat) (region.Region, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return region.Region{}, false, ErrClosed
	}
	if !m.initialized {
		return region.Region{}, false, ErrNotInitialized
	}

	m.updates++
	if len(m.script) == 0 {
		return m.initRegion, true, nil
	}
	next := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	return next.Region, next.OK, next.Err
}

// Close marks the tracker closed.
func (m *MockTracker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// InitRegion returns the region passed to Init.
func (m *MockTracker) InitRegion() region.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initRegion
}

// Updates returns how many times Update ran on an initialized tracker.
func (m *MockTracker) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// Closed reports whether Close was called.
func (m *MockTracker) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockFactory hands out MockTrackers and remembers every one it created,
// so tests can check that replaced trackers were released.
type MockFactory struct {
	// New builds each tracker; nil yields NewMockTracker().
	New     func() *MockTracker
	created []*MockTracker
	mu      sync.Mutex
}

// Factory returns a tracker Factory backed by f.
func (f *MockFactory) Factory() Factory {
	return func() (Tracker, error) {
		var t *MockTracker
		if f.New != nil {
			t = f.New()
		} else {
			t = NewMockTracker()
		}
		f.mu.Lock()
		f.created = append(f.created, t)
		f.mu.Unlock()
		return t, nil
	}
}

// Constructor adapts f for Registry.Register.
func (f *MockFactory) Constructor() Constructor {
	return func(Options) (Factory, error) {
		return f.Factory(), nil
	}
}

// Created returns every tracker built so far, oldest first.
func (f *MockFactory) Created() []*MockTracker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MockTracker, len(f.created))
	copy(out, f.created)
	return out
}

// Last returns the most recently built tracker, or nil.
func (f *MockFactory) Last() *MockTracker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}
