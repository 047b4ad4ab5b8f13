package session

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/detector"
	"github.com/ayusman/facetrack/internal/region"
	"github.com/ayusman/facetrack/internal/telemetry"
	"github.com/ayusman/facetrack/internal/tracker"
)

const mockBackend tracker.Backend = "mock"

// stepClock returns a time that advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

type fixture struct {
	session  *Session
	detector *detector.MockDetector
	trackers *tracker.MockFactory
	events   *telemetry.Recorder
	frame    gocv.Mat
}

func newFixture(t *testing.T, cfg Config, trackers *tracker.MockFactory) *fixture {
	t.Helper()

	if trackers == nil {
		trackers = &tracker.MockFactory{}
	}
	reg := tracker.NewRegistry()
	reg.Register(mockBackend, trackers.Constructor())

	cfg.Backend = mockBackend
	if cfg.Clock == nil {
		clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Millisecond}
		cfg.Clock = clock.now
	}

	det := detector.NewMockDetector()
	events := telemetry.NewRecorder(0)

	s, err := New(cfg, det, reg, events)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	f := &fixture{
		session:  s,
		detector: det,
		trackers: trackers,
		events:   events,
		frame:    gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3),
	}
	t.Cleanup(func() {
		s.Close()
		f.frame.Close()
	})
	return f
}

func (f *fixture) step(t *testing.T) Snapshot {
	t.Helper()
	snap, err := f.session.Step(&f.frame)
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	return snap
}

func regionPtr(r region.Region) *region.Region { return &r }

func TestSession_InitialState(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	if got := f.session.Mode(); got != ModeSearching {
		t.Errorf("Mode() = %q, want %q", got, ModeSearching)
	}
	if _, ok := f.session.Region(); ok {
		t.Error("Region() should be absent initially")
	}
	if got := f.session.FrameIndex(); got != 0 {
		t.Errorf("FrameIndex() = %d, want 0", got)
	}
}

func TestSession_DetectionStartsTracking(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})

	snap := f.step(t)

	if snap.Mode != ModeTracking {
		t.Errorf("Mode = %q, want %q", snap.Mode, ModeTracking)
	}
	if diff := cmp.Diff(regionPtr(region.New(10, 10, 50, 50)), snap.Region); diff != "" {
		t.Errorf("Region mismatch (-want +got):\n%s", diff)
	}
	if snap.FPS == nil || *snap.FPS < 0 {
		t.Errorf("FPS = %v, want defined and >= 0", snap.FPS)
	}
	if snap.TrackSuccess == nil || !*snap.TrackSuccess {
		t.Errorf("TrackSuccess = %v, want true", snap.TrackSuccess)
	}

	trk := f.trackers.Last()
	if trk == nil {
		t.Fatal("no tracker was created")
	}
	if got := trk.InitRegion(); got != region.New(10, 10, 50, 50) {
		t.Errorf("tracker initialized on %v", got)
	}

	// Detection is not consulted again while tracking
	f.step(t)
	if got := f.detector.Calls(); got != 1 {
		t.Errorf("detector called %d times, want 1", got)
	}
}

func TestSession_NoDetectionStaysSearching(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)

	const n = 7
	var snap Snapshot
	for i := 0; i < n; i++ {
		snap = f.step(t)
	}

	if snap.Mode != ModeSearching {
		t.Errorf("Mode = %q, want %q", snap.Mode, ModeSearching)
	}
	if snap.Region != nil {
		t.Errorf("Region = %v, want absent", snap.Region)
	}
	if snap.TrackSuccess != nil || snap.FPS != nil {
		t.Errorf("TrackSuccess/FPS should be absent while searching, got %v/%v", snap.TrackSuccess, snap.FPS)
	}
	if snap.FrameIndex != n || f.session.FrameIndex() != n {
		t.Errorf("FrameIndex = %d, want %d", snap.FrameIndex, n)
	}
	if len(f.trackers.Created()) != 0 {
		t.Error("no tracker should be created without a detection")
	}
}

func TestSession_TrackerUpdatePropagates(t *testing.T) {
	trackers := &tracker.MockFactory{New: func() *tracker.MockTracker {
		return tracker.NewMockTracker(tracker.MockUpdate{Region: region.New(12, 10, 50, 50), OK: true})
	}}
	f := newFixture(t, DefaultConfig(), trackers)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})

	f.step(t)
	snap := f.step(t)

	if diff := cmp.Diff(regionPtr(region.New(12, 10, 50, 50)), snap.Region); diff != "" {
		t.Errorf("Region mismatch (-want +got):\n%s", diff)
	}
	if snap.TrackSuccess == nil || !*snap.TrackSuccess {
		t.Errorf("TrackSuccess = %v, want true", snap.TrackSuccess)
	}
}

func failingTrackers(after ...tracker.MockUpdate) *tracker.MockFactory {
	return &tracker.MockFactory{New: func() *tracker.MockTracker {
		script := append(append([]tracker.MockUpdate{}, after...), tracker.MockUpdate{Region: region.New(999, 999, 1, 1), OK: false})
		return tracker.NewMockTracker(script...)
	}}
}

func TestSession_StickyFailure(t *testing.T) {
	trackers := failingTrackers(tracker.MockUpdate{Region: region.New(12, 10, 50, 50), OK: true})
	f := newFixture(t, DefaultConfig(), trackers)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})

	f.step(t) // detect
	f.step(t) // success at 12,10

	for i := 0; i < 20; i++ {
		snap := f.step(t)

		if snap.Mode != ModeTracking {
			t.Fatalf("step %d: Mode = %q, want tracking", i, snap.Mode)
		}
		if snap.TrackSuccess == nil || *snap.TrackSuccess {
			t.Fatalf("step %d: TrackSuccess = %v, want false", i, snap.TrackSuccess)
		}
		if diff := cmp.Diff(regionPtr(region.New(12, 10, 50, 50)), snap.Region); diff != "" {
			t.Fatalf("step %d: Region mismatch (-want +got):\n%s", i, diff)
		}
		if snap.FPS == nil {
			t.Fatalf("step %d: FPS should keep being reported", i)
		}
	}

	// Loss is reported once, not every frame
	lost := 0
	for _, k := range f.events.Kinds() {
		if k == telemetry.KindTrackerLost {
			lost++
		}
	}
	if lost != 1 {
		t.Errorf("tracker_lost emitted %d times, want 1", lost)
	}
}

func TestSession_ClearFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureMode = FailureClear
	f := newFixture(t, cfg, failingTrackers())
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})

	f.step(t)
	snap := f.step(t)

	if snap.Mode != ModeTracking {
		t.Errorf("Mode = %q, want tracking", snap.Mode)
	}
	if snap.Region != nil {
		t.Errorf("Region = %v, want absent", snap.Region)
	}
	if snap.TrackSuccess == nil || *snap.TrackSuccess {
		t.Errorf("TrackSuccess = %v, want false", snap.TrackSuccess)
	}
}

func TestSession_ReacquireFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureMode = FailureReacquire
	cfg.ReacquireAfter = 3
	f := newFixture(t, cfg, failingTrackers())
	f.detector.Script(
		[]region.Region{region.New(10, 10, 50, 50)},
		[]region.Region{region.New(100, 100, 40, 40)},
	)

	f.step(t) // detect
	for i := 0; i < 2; i++ {
		if snap := f.step(t); snap.Mode != ModeTracking {
			t.Fatalf("failure %d: Mode = %q, want tracking", i+1, snap.Mode)
		}
	}

	snap := f.step(t) // third failure
	if snap.Mode != ModeSearching {
		t.Fatalf("Mode = %q, want searching after 3 failures", snap.Mode)
	}
	if snap.Region != nil {
		t.Errorf("Region = %v, want absent", snap.Region)
	}
	if first := f.trackers.Created()[0]; !first.Closed() {
		t.Error("abandoned tracker should be closed")
	}

	// Next frame searches again and picks up the new detection
	snap = f.step(t)
	if snap.Mode != ModeTracking {
		t.Fatalf("Mode = %q, want tracking after re-detection", snap.Mode)
	}
	if diff := cmp.Diff(regionPtr(region.New(100, 100, 40, 40)), snap.Region); diff != "" {
		t.Errorf("Region mismatch (-want +got):\n%s", diff)
	}
	if len(f.trackers.Created()) != 2 {
		t.Errorf("created %d trackers, want 2", len(f.trackers.Created()))
	}
}

func TestSession_RecoveryResetsFailureCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureMode = FailureReacquire
	cfg.ReacquireAfter = 2
	trackers := &tracker.MockFactory{New: func() *tracker.MockTracker {
		return tracker.NewMockTracker(
			tracker.MockUpdate{OK: false},
			tracker.MockUpdate{Region: region.New(11, 10, 50, 50), OK: true},
			tracker.MockUpdate{OK: false},
			tracker.MockUpdate{Region: region.New(13, 10, 50, 50), OK: true},
		)
	}}
	f := newFixture(t, cfg, trackers)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})

	f.step(t)
	for i := 0; i < 4; i++ {
		if snap := f.step(t); snap.Mode != ModeTracking {
			t.Fatalf("step %d: Mode = %q, want tracking (failures were not consecutive)", i, snap.Mode)
		}
	}

	got := f.events.Kinds(telemetry.KindFPS, telemetry.KindModeChange)
	want := []telemetry.Kind{
		telemetry.KindDetection,
		telemetry.KindTrackerLost,
		telemetry.KindTrackerRecovered,
		telemetry.KindTrackerLost,
		telemetry.KindTrackerRecovered,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_ManualInitFromSearching(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.step(t)

	if err := f.session.RequestManualInit(region.New(0, 0, 20, 20)); err != nil {
		t.Fatalf("RequestManualInit() error = %v", err)
	}
	if got := f.session.Mode(); got != ModeManualSelectPending {
		t.Errorf("Mode() before step = %q, want %q", got, ModeManualSelectPending)
	}

	snap := f.step(t)

	if snap.Mode != ModeTracking {
		t.Errorf("Mode = %q, want tracking", snap.Mode)
	}
	if diff := cmp.Diff(regionPtr(region.New(0, 0, 20, 20)), snap.Region); diff != "" {
		t.Errorf("Region mismatch (-want +got):\n%s", diff)
	}
	if snap.FPS == nil || *snap.FPS != 0 {
		t.Errorf("FPS = %v, want 0 for a fresh meter", snap.FPS)
	}
	if got := f.detector.Calls(); got != 1 {
		t.Errorf("detector called %d times, want 1 (manual step skips detection)", got)
	}
}

func TestSession_ManualInitInterruptsTracking(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})

	f.step(t)
	f.step(t)
	f.step(t)

	if err := f.session.RequestManualInit(region.New(200, 100, 30, 30)); err != nil {
		t.Fatalf("RequestManualInit() error = %v", err)
	}
	snap := f.step(t)

	created := f.trackers.Created()
	if len(created) != 2 {
		t.Fatalf("created %d trackers, want 2", len(created))
	}
	if !created[0].Closed() {
		t.Error("replaced tracker should be closed")
	}
	if created[1].Closed() {
		t.Error("new tracker should be live")
	}
	if got := created[1].InitRegion(); got != region.New(200, 100, 30, 30) {
		t.Errorf("new tracker initialized on %v", got)
	}
	if diff := cmp.Diff(regionPtr(region.New(200, 100, 30, 30)), snap.Region); diff != "" {
		t.Errorf("Region mismatch (-want +got):\n%s", diff)
	}
	if snap.FPS == nil || *snap.FPS != 0 {
		t.Errorf("FPS = %v, want 0 after meter restart", snap.FPS)
	}
}

func TestSession_ManualInitInvalidRegion(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})
	f.step(t)

	err := f.session.RequestManualInit(region.New(0, 0, 0, 5))
	if !errors.Is(err, region.ErrInvalidRegion) {
		t.Fatalf("RequestManualInit() error = %v, want ErrInvalidRegion", err)
	}

	if got := f.session.Mode(); got != ModeTracking {
		t.Errorf("Mode() = %q, want unchanged tracking", got)
	}
	if r, ok := f.session.Region(); !ok || r != region.New(10, 10, 50, 50) {
		t.Errorf("Region() = %v, %v, want unchanged", r, ok)
	}
}

func TestSession_ManualInitRejectedByBackend(t *testing.T) {
	var n int
	trackers := &tracker.MockFactory{New: func() *tracker.MockTracker {
		n++
		m := tracker.NewMockTracker()
		if n == 2 {
			m.SetInitError(tracker.ErrInitFailed)
		}
		return m
	}}
	f := newFixture(t, DefaultConfig(), trackers)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})
	f.step(t)

	if err := f.session.RequestManualInit(region.New(0, 0, 20, 20)); err != nil {
		t.Fatalf("RequestManualInit() error = %v", err)
	}
	snap := f.step(t)

	if snap.Mode != ModeTracking {
		t.Errorf("Mode = %q, want previous mode restored", snap.Mode)
	}
	if diff := cmp.Diff(regionPtr(region.New(10, 10, 50, 50)), snap.Region); diff != "" {
		t.Errorf("Region mismatch (-want +got):\n%s", diff)
	}
	created := f.trackers.Created()
	if created[0].Closed() {
		t.Error("previous tracker should survive a rejected manual init")
	}
	if !created[1].Closed() {
		t.Error("rejected tracker should be released")
	}
}

func TestSession_BoundsCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BoundsCheck = true
	f := newFixture(t, cfg, nil)
	f.detector.Script([]region.Region{
		region.New(600, 10, 100, 100), // overhangs the 640px frame
		region.New(20, 20, 40, 40),
	})

	snap := f.step(t)
	if diff := cmp.Diff(regionPtr(region.New(20, 20, 40, 40)), snap.Region); diff != "" {
		t.Errorf("out-of-frame candidate should be skipped (-want +got):\n%s", diff)
	}

	err := f.session.RequestManualInit(region.New(630, 470, 20, 20))
	if !errors.Is(err, region.ErrInvalidRegion) {
		t.Errorf("RequestManualInit() error = %v, want ErrInvalidRegion", err)
	}
	if got := f.session.Mode(); got != ModeTracking {
		t.Errorf("Mode() = %q, want tracking", got)
	}
}

func TestSession_ClampToFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClampToFrame = true
	trackers := &tracker.MockFactory{New: func() *tracker.MockTracker {
		return tracker.NewMockTracker(
			tracker.MockUpdate{Region: region.New(620, 460, 50, 50), OK: true},
			tracker.MockUpdate{Region: region.New(700, 10, 50, 50), OK: true},
		)
	}}
	f := newFixture(t, cfg, trackers)
	f.detector.Script([]region.Region{region.New(600, 440, 50, 50)})

	f.step(t)

	snap := f.step(t)
	if diff := cmp.Diff(regionPtr(region.New(620, 460, 20, 20)), snap.Region); diff != "" {
		t.Errorf("clamped region mismatch (-want +got):\n%s", diff)
	}

	snap = f.step(t)
	if snap.TrackSuccess == nil || *snap.TrackSuccess {
		t.Errorf("box outside the frame should count as lost, TrackSuccess = %v", snap.TrackSuccess)
	}
}

func TestSession_CallBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallBudget = 5 * time.Millisecond
	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: 10 * time.Millisecond}
	cfg.Clock = clock.now

	f := newFixture(t, cfg, nil)
	f.detector.SetRegions([]region.Region{region.New(10, 10, 50, 50)})

	snap := f.step(t)
	if snap.Mode != ModeSearching {
		t.Errorf("Mode = %q, want searching when detection is too slow", snap.Mode)
	}

	if err := f.session.RequestManualInit(region.New(10, 10, 50, 50)); err != nil {
		t.Fatalf("RequestManualInit() error = %v", err)
	}
	f.step(t)
	snap = f.step(t)
	if snap.TrackSuccess == nil || *snap.TrackSuccess {
		t.Errorf("TrackSuccess = %v, want false when update is too slow", snap.TrackSuccess)
	}
}

func TestSession_DetectorError(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.detector.SetError(errors.New("camera glitch"))

	snap := f.step(t)

	if snap.Mode != ModeSearching {
		t.Errorf("Mode = %q, want searching", snap.Mode)
	}
	if diff := cmp.Diff([]telemetry.Kind{telemetry.KindDetectorError}, f.events.Kinds()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_FrameIndexMonotonic(t *testing.T) {
	trackers := &tracker.MockFactory{New: func() *tracker.MockTracker {
		return tracker.NewMockTracker(
			tracker.MockUpdate{Region: region.New(11, 10, 50, 50), OK: true},
			tracker.MockUpdate{OK: false},
			tracker.MockUpdate{Err: tracker.ErrNotInitialized},
		)
	}}
	f := newFixture(t, DefaultConfig(), trackers)
	f.detector.Script(nil, []region.Region{region.New(10, 10, 50, 50)})

	prev := 0
	sawErr := false
	for i := 0; i < 10; i++ {
		if i == 5 {
			f.session.RequestManualInit(region.New(0, 0, 20, 20))
		}
		snap, err := f.session.Step(&f.frame)
		if err != nil {
			sawErr = true
		}
		if got := f.session.FrameIndex(); got != prev+1 {
			t.Fatalf("call %d: FrameIndex() = %d, want %d", i, got, prev+1)
		}
		if err == nil && snap.FrameIndex != prev+1 {
			t.Fatalf("call %d: snapshot FrameIndex = %d, want %d", i, snap.FrameIndex, prev+1)
		}
		prev++
	}
	if !sawErr {
		t.Error("expected the scripted tracker error to surface")
	}
}

func TestSession_UpdateErrorIsReported(t *testing.T) {
	trackers := &tracker.MockFactory{New: func() *tracker.MockTracker {
		return tracker.NewMockTracker(tracker.MockUpdate{Err: tracker.ErrNotInitialized})
	}}
	f := newFixture(t, DefaultConfig(), trackers)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})
	f.step(t)

	_, err := f.session.Step(&f.frame)
	if !errors.Is(err, tracker.ErrNotInitialized) {
		t.Errorf("Step() error = %v, want ErrNotInitialized", err)
	}
}

func TestSession_FPSFiniteAndNonNegative(t *testing.T) {
	// A clock that never moves is the worst case for division by zero
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.Clock = func() time.Time { return frozen }

	f := newFixture(t, cfg, nil)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})

	for i := 0; i < 5; i++ {
		snap := f.step(t)
		if snap.FPS == nil {
			t.Fatalf("step %d: FPS absent while tracking", i)
		}
		if v := *snap.FPS; v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			t.Fatalf("step %d: FPS = %f, want finite and >= 0", i, v)
		}
	}
}

func TestSession_Reset(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})
	f.step(t)

	f.session.Reset()

	if got := f.session.Mode(); got != ModeSearching {
		t.Errorf("Mode() = %q, want searching", got)
	}
	if _, ok := f.session.Region(); ok {
		t.Error("Region() should be absent after reset")
	}
	if !f.trackers.Last().Closed() {
		t.Error("tracker should be closed by reset")
	}
}

func TestSession_Close(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.detector.Script([]region.Region{region.New(10, 10, 50, 50)})
	f.step(t)

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !f.trackers.Last().Closed() {
		t.Error("tracker should be closed")
	}
	if !f.detector.Closed() {
		t.Error("detector should be closed")
	}
	if _, err := f.session.Step(&f.frame); !errors.Is(err, ErrClosed) {
		t.Errorf("Step() after Close error = %v, want ErrClosed", err)
	}
	if err := f.session.RequestManualInit(region.New(0, 0, 5, 5)); !errors.Is(err, ErrClosed) {
		t.Errorf("RequestManualInit() after Close error = %v, want ErrClosed", err)
	}
	if err := f.session.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backend = "goturn"
		_, err := New(cfg, detector.NewMockDetector(), nil, nil)
		if !errors.Is(err, tracker.ErrUnknownBackend) {
			t.Errorf("New() error = %v, want ErrUnknownBackend", err)
		}
	})

	t.Run("nil detector", func(t *testing.T) {
		if _, err := New(DefaultConfig(), nil, nil, nil); err == nil {
			t.Error("New() should reject a nil detector")
		}
	})

	t.Run("bad failure mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FailureMode = "sometimes"
		if _, err := New(cfg, detector.NewMockDetector(), nil, nil); err == nil {
			t.Error("New() should reject an unknown failure mode")
		}
	})
}

func TestParseFailureMode(t *testing.T) {
	tests := []struct {
		input   string
		want    FailureMode
		wantErr bool
	}{
		{input: "", want: FailureSticky},
		{input: "sticky", want: FailureSticky},
		{input: "Clear", want: FailureClear},
		{input: "reacquire", want: FailureReacquire},
		{input: "retry", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFailureMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFailureMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFailureMode() = %q, want %q", got, tt.want)
			}
		})
	}
}
