// Package tracker provides the short-term single-object tracking backends
// used by a tracking session.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

var (
	// ErrNotInitialized is returned by Update on a tracker that was never Init-ed.
	// It always indicates a bug in the caller.
	ErrNotInitialized = errors.New("tracker not initialized")

	// ErrAlreadyInitialized is returned by a second Init on the same tracker.
	// Trackers are single-use: re-targeting needs a fresh instance.
	ErrAlreadyInitialized = errors.New("tracker already initialized")

	// ErrInitFailed is returned when the backend refuses the initial region.
	ErrInitFailed = errors.New("tracker initialization failed")

	// ErrClosed is returned when a closed tracker is used.
	ErrClosed = errors.New("tracker is closed")

	// ErrUnknownBackend is returned for a backend tag with no registered constructor.
	ErrUnknownBackend = errors.New("unknown tracker backend")
)

// Tracker follows one region across frames after being initialized on it.
type Tracker interface {
	// Init binds the tracker to frame and r. It must be called exactly once
	// before Update. Invalid regions yield region.ErrInvalidRegion.
	Init(frame *gocv.Mat, r region.Region) error

	// Update advances tracking by one frame. ok=false means the target was
	// lost and the returned region must not be trusted.
	Update(frame *gocv.Mat) (r region.Region, ok bool, err error)

	// Close releases the backend's resources.
	Close() error
}

// Backend is the configuration tag selecting a tracker implementation.
type Backend string

const (
	KCF      Backend = "kcf"
	CSRT     Backend = "csrt"
	MIL      Backend = "mil"
	Template Backend = "template"
)

// DefaultBackend matches the tracker used when none is configured.
const DefaultBackend = KCF

// ParseBackend normalises a backend name.
func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))
	if b == "" {
		return DefaultBackend, nil
	}
	switch b {
	case KCF, CSRT, MIL, Template:
		return b, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// Factory creates a fresh, uninitialized tracker.
type Factory func() (Tracker, error)

// Constructor validates backend options once and returns a Factory for them.
// A nil opts selects the backend's defaults.
type Constructor func(opts Options) (Factory, error)

// Registry maps backend tags to constructors. Lookups happen once, when a
// session is built, never per frame.
type Registry struct {
	constructors map[Backend]Constructor
	mu           sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[Backend]Constructor)}
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KCF, newKCF)
	r.Register(CSRT, newCSRT)
	r.Register(MIL, newMIL)
	r.Register(Template, newTemplate)
	return r
}

// Register adds or replaces the constructor for b.
func (r *Registry) Register(b Backend, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[b] = c
}

// Factory resolves b with opts into a Factory.
func (r *Registry) Factory(b Backend, opts Options) (Factory, error) {
	r.mu.RLock()
	c, ok := r.constructors[b]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, b)
	}
	return c(opts)
}

// Backends lists the registered tags in sorted order.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Backend, 0, len(r.constructors))
	for b := range r.constructors {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
