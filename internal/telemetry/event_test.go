package telemetry

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ayusman/facetrack/internal/monitoring"
)

func TestRecorder(t *testing.T) {
	t.Run("keeps events in order", func(t *testing.T) {
		r := NewRecorder(0)
		r.Emit(Event{Kind: KindDetection, FrameIndex: 1})
		r.Emit(Event{Kind: KindFPS, FrameIndex: 2})
		r.Emit(Event{Kind: KindTrackerLost, FrameIndex: 3})

		if diff := cmp.Diff([]Kind{KindDetection, KindFPS, KindTrackerLost}, r.Kinds()); diff != "" {
			t.Errorf("Kinds() mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]Kind{KindDetection, KindTrackerLost}, r.Kinds(KindFPS)); diff != "" {
			t.Errorf("Kinds(KindFPS) mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("drops oldest past the limit", func(t *testing.T) {
		r := NewRecorder(2)
		for i := 1; i <= 5; i++ {
			r.Emit(Event{Kind: KindFPS, FrameIndex: i})
		}

		events := r.Events()
		if len(events) != 2 {
			t.Fatalf("len(Events()) = %d, want 2", len(events))
		}
		if events[0].FrameIndex != 4 || events[1].FrameIndex != 5 {
			t.Errorf("kept frames %d,%d, want 4,5", events[0].FrameIndex, events[1].FrameIndex)
		}
	})

	t.Run("reset clears", func(t *testing.T) {
		r := NewRecorder(0)
		r.Emit(Event{Kind: KindFPS})
		r.Reset()
		if got := len(r.Events()); got != 0 {
			t.Errorf("len(Events()) after Reset = %d", got)
		}
	})
}

func TestMulti(t *testing.T) {
	a := NewRecorder(0)
	b := NewRecorder(0)
	m := Multi{a, nil, b}

	m.Emit(Event{Kind: KindManualInit})

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("each sink should receive the event once, got %d and %d", len(a.Events()), len(b.Events()))
	}
}

func TestLogSink(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()

	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	fps := 12.5
	sink := LogSink{Every: 10}
	sink.Emit(Event{Kind: KindFPS, FrameIndex: 3, FPS: &fps})
	sink.Emit(Event{Kind: KindFPS, FrameIndex: 10, Mode: "tracking", FPS: &fps})
	sink.Emit(Event{Kind: KindModeChange, FrameIndex: 11, PrevMode: "tracking", Mode: "searching"})

	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "fps=12.50") {
		t.Errorf("fps line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "tracking -> searching") {
		t.Errorf("mode line = %q", lines[1])
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseKind("teleported"); err == nil {
		t.Error("ParseKind() should reject unknown kinds")
	}
}
