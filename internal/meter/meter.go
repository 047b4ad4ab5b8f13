// Package meter measures tracking throughput in frames per second.
package meter

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// Epsilon is the minimum elapsed time used when computing FPS so that the
	// very first sample never divides by zero.
	Epsilon = time.Millisecond

	// DefaultWindow is the number of recent frame intervals used by RollingFPS.
	DefaultWindow = 30
)

// Meter accumulates a frame count over a measurement epoch. An epoch begins
// with Start and lasts until the next Start.
type Meter struct {
	now       func() time.Time
	start     time.Time
	last      time.Time
	frames    int
	started   bool
	intervals []float64 // seconds, ring buffer
	next      int
	window    int
	mu        sync.Mutex
}

// New creates a Meter using the wall clock.
func New() *Meter {
	return NewWithClock(time.Now, DefaultWindow)
}

// NewWithClock creates a Meter with an injected clock and rolling window size.
// Window sizes less than 1 use DefaultWindow.
func NewWithClock(now func() time.Time, window int) *Meter {
	if window < 1 {
		window = DefaultWindow
	}
	return &Meter{
		now:       now,
		window:    window,
		intervals: make([]float64, 0, window),
	}
}

// Start records the start time and resets the frame count, beginning a new epoch.
func (m *Meter) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.start = m.now()
	m.last = m.start
	m.frames = 0
	m.started = true
	m.intervals = m.intervals[:0]
	m.next = 0
}

// Started reports whether Start has been called.
func (m *Meter) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Tick counts one processed frame. Ticks before Start are ignored.
func (m *Meter) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	now := m.now()
	m.frames++

	interval := now.Sub(m.last).Seconds()
	if interval < 0 {
		interval = 0
	}
	m.last = now

	if len(m.intervals) < m.window {
		m.intervals = append(m.intervals, interval)
		return
	}
	m.intervals[m.next] = interval
	m.next = (m.next + 1) % m.window
}

// Frames returns the number of ticks in the current epoch.
func (m *Meter) Frames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Elapsed returns the time since Start, never negative.
func (m *Meter) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed()
}

func (m *Meter) elapsed() time.Duration {
	if !m.started {
		return 0
	}
	d := m.now().Sub(m.start)
	if d < 0 {
		return 0
	}
	return d
}

// FPS returns frames / max(elapsed, Epsilon) for the current epoch.
// It can be queried at any time without stopping accumulation.
func (m *Meter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := m.elapsed()
	if elapsed < Epsilon {
		elapsed = Epsilon
	}
	return float64(m.frames) / elapsed.Seconds()
}

// RollingFPS estimates the current rate from the mean of the most recent
// frame intervals. It returns 0 until at least one interval is recorded.
func (m *Meter) RollingFPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.intervals) == 0 {
		return 0
	}
	mean := stat.Mean(m.intervals, nil)
	if mean < Epsilon.Seconds() {
		mean = Epsilon.Seconds()
	}
	return 1 / mean
}
