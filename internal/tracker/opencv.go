package tracker

import (
	"fmt"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"github.com/ayusman/facetrack/internal/region"
)

// cvTracker adapts a gocv.Tracker to the Tracker interface and enforces the
// init-once lifecycle the OpenCV trackers assume.
type cvTracker struct {
	backend     Backend
	impl        gocv.Tracker
	initialized bool
	closed      bool
}

func newKCF(opts Options) (Factory, error) {
	if _, err := optionsFor(KCF, opts, KCFOptions{}); err != nil {
		return nil, err
	}
	return func() (Tracker, error) {
		return &cvTracker{backend: KCF, impl: contrib.NewTrackerKCF()}, nil
	}, nil
}

func newCSRT(opts Options) (Factory, error) {
	if _, err := optionsFor(CSRT, opts, CSRTOptions{}); err != nil {
		return nil, err
	}
	return func() (Tracker, error) {
		return &cvTracker{backend: CSRT, impl: contrib.NewTrackerCSRT()}, nil
	}, nil
}

func newMIL(opts Options) (Factory, error) {
	if _, err := optionsFor(MIL, opts, MILOptions{}); err != nil {
		return nil, err
	}
	return func() (Tracker, error) {
		return &cvTracker{backend: MIL, impl: gocv.NewTrackerMIL()}, nil
	}, nil
}

// Init initializes the OpenCV tracker on r.
func (t *cvTracker) Init(frame *gocv.Mat, r region.Region) error {
	if t.closed {
		return ErrClosed
	}
	if t.initialized {
		return ErrAlreadyInitialized
	}
	if err := r.Validate(); err != nil {
		return err
	}
	if frame == nil || frame.Empty() {
		return fmt.Errorf("%w: empty frame", ErrInitFailed)
	}

	if !t.impl.Init(*frame, r.Rect()) {
		return fmt.Errorf("%w: %s rejected %s", ErrInitFailed, t.backend, r)
	}
	t.initialized = true
	return nil
}

// Update runs one tracking step.
func (t *cvTracker) Update(frame *gocv.Mat) (region.Region, bool, error) {
	if t.closed {
		return region.Region{}, false, ErrClosed
	}
	if !t.initialized {
		return region.Region{}, false, ErrNotInitialized
	}
	if frame == nil || frame.Empty() {
		return region.Region{}, false, nil
	}

	rect, ok := t.impl.Update(*frame)
	return region.FromRect(rect), ok, nil
}

// Close releases the OpenCV tracker. It is safe to call twice.
func (t *cvTracker) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.impl.Close()
}
