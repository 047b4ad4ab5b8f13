package tracker

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

// templateTracker follows the target by normalised cross-correlation of the
// initial patch inside a search window centred on the last position.
type templateTracker struct {
	opts        TemplateOptions
	templ       gocv.Mat
	result      gocv.Mat
	mask        gocv.Mat
	last        region.Region
	initialized bool
	closed      bool
}

func newTemplate(opts Options) (Factory, error) {
	o, err := optionsFor(Template, opts, DefaultTemplateOptions())
	if err != nil {
		return nil, err
	}
	return func() (Tracker, error) {
		return &templateTracker{
			opts:   o,
			templ:  gocv.NewMat(),
			result: gocv.NewMat(),
			mask:   gocv.NewMat(),
		}, nil
	}, nil
}

func frameBounds(frame *gocv.Mat) region.Region {
	return region.Bounds(frame.Cols(), frame.Rows())
}

// Init copies the target patch out of frame.
func (t *templateTracker) Init(frame *gocv.Mat, r region.Region) error {
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

	clamped, ok := r.Clamp(frameBounds(frame))
	if !ok {
		return fmt.Errorf("%w: %s is outside the frame", region.ErrInvalidRegion, r)
	}

	t.setTemplate(frame, clamped)
	t.last = clamped
	t.initialized = true
	return nil
}

func (t *templateTracker) setTemplate(frame *gocv.Mat, r region.Region) {
	patch := frame.Region(r.Rect())
	defer patch.Close()

	t.templ.Close()
	t.templ = patch.Clone()
}

// searchWindow grows the last region around its centre and clamps to the frame.
func (t *templateTracker) searchWindow(bounds region.Region) (region.Region, bool) {
	w := int(float64(t.last.Width) * t.opts.SearchScale)
	h := int(float64(t.last.Height) * t.opts.SearchScale)
	cx := t.last.X + t.last.Width/2
	cy := t.last.Y + t.last.Height/2

	return region.New(cx-w/2, cy-h/2, w, h).Clamp(bounds)
}

// Update searches for the template around the last known position.
func (t *templateTracker) Update(frame *gocv.Mat) (region.Region, bool, error) {
	if t.closed {
		return region.Region{}, false, ErrClosed
	}
	if !t.initialized {
		return region.Region{}, false, ErrNotInitialized
	}
	if frame == nil || frame.Empty() {
		return t.last, false, nil
	}

	window, ok := t.searchWindow(frameBounds(frame))
	if !ok || window.Width < t.templ.Cols() || window.Height < t.templ.Rows() {
		return t.last, false, nil
	}

	search := frame.Region(window.Rect())
	defer search.Close()

	gocv.MatchTemplate(search, t.templ, &t.result, gocv.TmCcoeffNormed, t.mask)
	_, score, _, at := gocv.MinMaxLoc(t.result)
	if score < t.opts.MinScore {
		return t.last, false, nil
	}

	found := region.New(window.X+at.X, window.Y+at.Y, t.templ.Cols(), t.templ.Rows())
	if t.opts.Adapt {
		t.setTemplate(frame, found)
	}
	t.last = found
	return found, true, nil
}

// Close releases the template buffers. It is safe to call twice.
func (t *templateTracker) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.templ.Close()
	t.result.Close()
	t.mask.Close()
	return nil
}
