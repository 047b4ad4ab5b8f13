package store

import (
	"sync"

	"github.com/ayusman/facetrack/internal/monitoring"
	"github.com/ayusman/facetrack/internal/telemetry"
)

// DefaultSinkBuffer is the number of events a Sink queues before dropping.
const DefaultSinkBuffer = 256

// Sink persists telemetry events from a background goroutine so the frame
// loop never waits on the database. Events arriving while the queue is full
// are dropped and counted.
type Sink struct {
	events   *EventRepository
	runID    string
	fpsEvery int

	queue chan telemetry.Event
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewSink starts a sink writing into runID. FPS samples are kept only every
// fpsEvery frames; 0 drops them all.
func (s *Store) NewSink(runID string, fpsEvery int) *Sink {
	k := &Sink{
		events:   s.Events(),
		runID:    runID,
		fpsEvery: fpsEvery,
		queue:    make(chan telemetry.Event, DefaultSinkBuffer),
		done:     make(chan struct{}),
	}
	go k.run()
	return k
}

// Emit queues e for writing.
func (k *Sink) Emit(e telemetry.Event) {
	if e.Kind == telemetry.KindFPS && (k.fpsEvery <= 0 || e.FrameIndex%k.fpsEvery != 0) {
		return
	}
	if e.RunID == "" {
		e.RunID = k.runID
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	select {
	case k.queue <- e:
	default:
		k.dropped++
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (k *Sink) Dropped() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.dropped
}

// Close flushes queued events and stops the writer. It is safe to call twice.
func (k *Sink) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	close(k.queue)
	k.mu.Unlock()

	<-k.done
	return nil
}

func (k *Sink) run() {
	defer close(k.done)
	for e := range k.queue {
		if err := k.events.Append(e); err != nil {
			monitoring.Logf("store: %v", err)
		}
	}
}
