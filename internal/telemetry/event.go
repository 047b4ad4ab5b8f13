// Package telemetry defines the structured events a tracking session emits
// and the sinks that receive them.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/facetrack/internal/monitoring"
	"github.com/ayusman/facetrack/internal/region"
)

// Kind identifies the type of a session event.
type Kind string

const (
	KindModeChange       Kind = "mode_change"
	KindDetection        Kind = "detection"
	KindManualInit       Kind = "manual_init"
	KindInitFailed       Kind = "init_failed"
	KindTrackerLost      Kind = "tracker_lost"
	KindTrackerRecovered Kind = "tracker_recovered"
	KindDetectorError    Kind = "detector_error"
	KindFPS              Kind = "fps"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindModeChange,
	KindDetection,
	KindManualInit,
	KindInitFailed,
	KindTrackerLost,
	KindTrackerRecovered,
	KindDetectorError,
	KindFPS,
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// Event is a single telemetry record. Optional fields are nil when they do
// not apply to the event kind.
type Event struct {
	Kind       Kind           `json:"kind"`
	RunID      string         `json:"run_id,omitempty"`
	FrameIndex int            `json:"frame_index"`
	Mode       string         `json:"mode"`
	PrevMode   string         `json:"prev_mode,omitempty"`
	Region     *region.Region `json:"region,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	FPS        *float64       `json:"fps,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Time       time.Time      `json:"time"`
}

// Sink receives session events. Emit must not block the frame loop for long;
// slow consumers should buffer or drop.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(Event) {})

// Multi fans an event out to several sinks in order.
type Multi []Sink

// Emit forwards e to every non-nil sink.
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// LogSink writes events through the monitoring logger. FPS samples are
// logged only every Every frames to keep output readable.
type LogSink struct {
	Every int
}

// Emit logs the event.
func (l LogSink) Emit(e Event) {
	switch e.Kind {
	case KindFPS:
		if l.Every <= 0 || e.FrameIndex%l.Every != 0 || e.FPS == nil {
			return
		}
		monitoring.Logf("frame %d: mode=%s fps=%.2f", e.FrameIndex, e.Mode, *e.FPS)
	case KindModeChange:
		monitoring.Logf("frame %d: mode %s -> %s %s", e.FrameIndex, e.PrevMode, e.Mode, e.Detail)
	default:
		if e.Region != nil {
			monitoring.Logf("frame %d: %s %s %s", e.FrameIndex, e.Kind, e.Region, e.Detail)
			return
		}
		monitoring.Logf("frame %d: %s %s", e.FrameIndex, e.Kind, e.Detail)
	}
}

// Recorder keeps every event in memory. It is used by tests and by the
// HTTP status endpoint to expose recent history.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewRecorder creates a Recorder keeping at most limit events (0 = unbounded).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Emit appends the event, dropping the oldest when over the limit.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append(r.events[:0], r.events[len(r.events)-r.limit:]...)
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events, excluding the given ones.
func (r *Recorder) Kinds(exclude ...Kind) []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kinds []Kind
outer:
	for _, e := range r.events {
		for _, x := range exclude {
			if e.Kind == x {
				continue outer
			}
		}
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// Reset clears the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
