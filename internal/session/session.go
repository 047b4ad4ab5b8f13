// Package session implements the single-object tracking state machine: it
// decides when to detect, when to (re)initialize a tracker, when to trust the
// tracker's output and what to report about it.
//
// A Session is driven by one goroutine calling Step once per frame.
// RequestManualInit and Reset may be called from other goroutines; they are
// serialized with Step and never observed half-applied.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/detector"
	"github.com/ayusman/facetrack/internal/meter"
	"github.com/ayusman/facetrack/internal/monitoring"
	"github.com/ayusman/facetrack/internal/region"
	"github.com/ayusman/facetrack/internal/telemetry"
	"github.com/ayusman/facetrack/internal/tracker"
)

// ErrClosed is returned when a closed session is used.
var ErrClosed = errors.New("session is closed")

// Session coordinates a Detector and a per-epoch Tracker across a frame
// sequence. It owns both and releases them on Close.
type Session struct {
	cfg        Config
	detector   detector.Detector
	newTracker tracker.Factory
	sink       telemetry.Sink
	meter      *meter.Meter

	mu         sync.Mutex
	mode       Mode
	prevMode   Mode
	active     tracker.Tracker
	current    *region.Region
	pending    *region.Region
	success    *bool
	failures   int
	frameIndex int
	bounds     region.Region
	closed     bool
}

// New builds a session in Searching mode. The tracker backend is resolved
// from reg once, here; a nil reg uses tracker.DefaultRegistry. A nil sink
// discards events. On success the session owns det; on error the caller
// keeps it.
func New(cfg Config, det detector.Detector, reg *tracker.Registry, sink telemetry.Sink) (*Session, error) {
	if det == nil {
		return nil, errors.New("session: detector is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if reg == nil {
		reg = tracker.DefaultRegistry()
	}
	factory, err := reg.Factory(cfg.Backend, cfg.BackendOptions)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if sink == nil {
		sink = telemetry.Nop
	}

	return &Session{
		cfg:        cfg,
		detector:   det,
		newTracker: factory,
		sink:       sink,
		meter:      meter.NewWithClock(cfg.Clock, meter.DefaultWindow),
		mode:       ModeSearching,
	}, nil
}

// Step processes one frame and returns the resulting snapshot. FrameIndex
// increases by exactly one per call, whatever happens during the step.
// A non-nil error signals a bug (for example a tracker used before Init);
// lost targets and empty detections are reported through the snapshot.
func (s *Session) Step(frame *gocv.Mat) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, ErrClosed
	}

	s.frameIndex++
	s.success = nil
	if frame != nil && !frame.Empty() {
		s.bounds = region.Bounds(frame.Cols(), frame.Rows())
	}

	if s.pending != nil {
		r := *s.pending
		s.pending = nil
		if err := s.startTracking(frame, r, telemetry.KindManualInit); err != nil {
			s.emit(telemetry.Event{Kind: telemetry.KindInitFailed, Region: &r, Detail: err.Error()})
			s.setMode(s.prevMode, "manual init failed")
		}
		return s.snapshot(), nil
	}

	var err error
	switch s.mode {
	case ModeSearching:
		s.search(frame)
	case ModeTracking:
		err = s.track(frame)
	}
	return s.snapshot(), err
}

// RequestManualInit asks the session to start tracking r on the next frame,
// discarding any current tracker. It can interrupt any mode. An invalid
// region is rejected with region.ErrInvalidRegion and changes nothing.
func (s *Session) RequestManualInit(r region.Region) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.cfg.BoundsCheck && s.bounds.IsValid() && !r.Within(s.bounds) {
		return fmt.Errorf("%w: %s is outside the frame", region.ErrInvalidRegion, r)
	}

	s.pending = &r
	if s.mode != ModeManualSelectPending {
		s.prevMode = s.mode
	}
	s.setMode(ModeManualSelectPending, r.String())
	return nil
}

// Reset drops the current tracker and any pending manual request and
// returns to Searching.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.pending = nil
	s.dropTracker()
	s.current = nil
	s.success = nil
	s.failures = 0
	s.setMode(ModeSearching, "reset")
}

// Close releases the tracker and the detector. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil

	var errs []error
	if s.active != nil {
		errs = append(errs, s.active.Close())
		s.active = nil
	}
	errs = append(errs, s.detector.Close())
	return errors.Join(errs...)
}

// Mode returns the current mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Region returns the current region, if any.
func (s *Session) Region() (region.Region, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return region.Region{}, false
	}
	return *s.current, true
}

// FrameIndex returns the number of frames processed so far.
func (s *Session) FrameIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameIndex
}

// Snapshot returns the state as of the last Step.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Backend returns the configured tracker backend.
func (s *Session) Backend() tracker.Backend {
	return s.cfg.Backend
}

// search runs the detector and starts tracking the selected candidate.
func (s *Session) search(frame *gocv.Mat) {
	start := s.cfg.Clock()
	candidates, err := s.detector.Detect(frame)
	if err != nil {
		s.emit(telemetry.Event{Kind: telemetry.KindDetectorError, Detail: err.Error()})
		return
	}
	if s.overBudget(start) {
		s.emit(telemetry.Event{Kind: telemetry.KindDetectorError, Detail: "detection exceeded call budget"})
		return
	}

	usable := make([]region.Region, 0, len(candidates))
	for _, c := range candidates {
		if !c.IsValid() {
			continue
		}
		if s.cfg.BoundsCheck && s.bounds.IsValid() && !c.Within(s.bounds) {
			continue
		}
		usable = append(usable, c)
	}

	r, ok := s.cfg.Selector.Select(usable)
	if !ok {
		return
	}
	if err := s.startTracking(frame, r, telemetry.KindDetection); err != nil {
		s.emit(telemetry.Event{Kind: telemetry.KindInitFailed, Region: &r, Detail: err.Error()})
	}
}

// startTracking initializes a fresh tracker on r. The previous tracker is
// released only once the new one is initialized, so a rejected region
// leaves the session as it was.
func (s *Session) startTracking(frame *gocv.Mat, r region.Region, kind telemetry.Kind) error {
	if s.cfg.BoundsCheck && s.bounds.IsValid() && !r.Within(s.bounds) {
		return fmt.Errorf("%w: %s is outside the frame", region.ErrInvalidRegion, r)
	}
	if s.cfg.ClampToFrame && s.bounds.IsValid() {
		clamped, ok := r.Clamp(s.bounds)
		if !ok {
			return fmt.Errorf("%w: %s is outside the frame", region.ErrInvalidRegion, r)
		}
		r = clamped
	}

	t, err := s.newTracker()
	if err != nil {
		return err
	}
	if err := t.Init(frame, r); err != nil {
		t.Close()
		return err
	}

	s.dropTracker()
	s.active = t
	s.meter.Start()
	s.current = &r
	s.failures = 0
	ok := true
	s.success = &ok

	s.setMode(ModeTracking, string(kind))
	s.emit(telemetry.Event{Kind: kind, Region: &r})
	return nil
}

// track advances the active tracker and applies the failure policy.
func (s *Session) track(frame *gocv.Mat) error {
	if s.active == nil {
		return fmt.Errorf("session: tracking without a tracker: %w", tracker.ErrNotInitialized)
	}

	start := s.cfg.Clock()
	r, ok, err := s.active.Update(frame)
	if err != nil {
		return fmt.Errorf("session: tracker update: %w", err)
	}
	if ok && s.overBudget(start) {
		ok = false
	}
	s.meter.Tick()

	if ok && s.cfg.ClampToFrame && s.bounds.IsValid() {
		r, ok = r.Clamp(s.bounds)
	}
	if ok && !r.IsValid() {
		ok = false
	}

	s.success = &ok
	if ok {
		if s.failures > 0 {
			s.emit(telemetry.Event{Kind: telemetry.KindTrackerRecovered, Region: &r, Detail: fmt.Sprintf("after %d failures", s.failures)})
		}
		s.failures = 0
		s.current = &r
	} else {
		s.failures++
		if s.failures == 1 {
			s.emit(telemetry.Event{Kind: telemetry.KindTrackerLost, Region: s.current})
		}
		s.applyFailure()
	}

	if s.mode == ModeTracking {
		fps := s.meter.FPS()
		s.emit(telemetry.Event{Kind: telemetry.KindFPS, Success: &ok, FPS: &fps})
	}
	return nil
}

func (s *Session) applyFailure() {
	switch s.cfg.FailureMode {
	case FailureClear:
		s.current = nil
	case FailureReacquire:
		if s.failures < s.cfg.ReacquireAfter {
			return
		}
		detail := fmt.Sprintf("reacquire after %d failures", s.failures)
		s.dropTracker()
		s.current = nil
		s.failures = 0
		s.setMode(ModeSearching, detail)
	}
}

func (s *Session) overBudget(start time.Time) bool {
	return s.cfg.CallBudget > 0 && s.cfg.Clock().Sub(start) > s.cfg.CallBudget
}

func (s *Session) dropTracker() {
	if s.active == nil {
		return
	}
	if err := s.active.Close(); err != nil {
		monitoring.Logf("session: close tracker: %v", err)
	}
	s.active = nil
}

func (s *Session) setMode(m Mode, detail string) {
	if m == s.mode {
		return
	}
	prev := s.mode
	s.mode = m
	s.emit(telemetry.Event{Kind: telemetry.KindModeChange, PrevMode: string(prev), Detail: detail})
}

func (s *Session) emit(e telemetry.Event) {
	e.RunID = s.cfg.RunID
	e.FrameIndex = s.frameIndex
	e.Mode = string(s.mode)
	e.Time = s.cfg.Clock()
	s.sink.Emit(e)
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		FrameIndex:          s.frameIndex,
		Mode:                s.mode,
		Backend:             s.cfg.Backend,
		ConsecutiveFailures: s.failures,
	}
	if s.current != nil {
		r := *s.current
		snap.Region = &r
	}
	if s.success != nil {
		ok := *s.success
		snap.TrackSuccess = &ok
	}
	if s.mode == ModeTracking && s.meter.Started() {
		fps := s.meter.FPS()
		rolling := s.meter.RollingFPS()
		snap.FPS = &fps
		snap.RollingFPS = &rolling
	}
	return snap
}
