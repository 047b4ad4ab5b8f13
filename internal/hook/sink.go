package hook

import (
	"context"
	"sync"

	"github.com/ayusman/facetrack/internal/monitoring"
	"github.com/ayusman/facetrack/internal/telemetry"
)

// QueueSize is the number of pending invocations a Sink holds before it
// starts dropping events.
const QueueSize = 32

type job struct {
	hook  *Hook
	event telemetry.Event
}

// Sink runs subscribed hooks for each emitted event on a single background
// worker, in emission order. The frame loop never waits for a hook.
type Sink struct {
	exec  *Executor
	hooks []*Hook

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan job
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
	ran     int
	failed  int
}

// NewSink starts a sink dispatching to hooks through exec.
func NewSink(exec *Executor, hooks ...*Hook) *Sink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		exec:   exec,
		hooks:  hooks,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan job, QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit queues every hook subscribed to e.Kind.
func (s *Sink) Emit(e telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, h := range s.hooks {
		if !h.Wants(e.Kind) {
			continue
		}
		select {
		case s.queue <- job{hook: h, event: e}:
		default:
			s.dropped++
		}
	}
}

// Stats returns how many invocations ran, failed and were dropped.
func (s *Sink) Stats() (ran, failed, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran, s.failed, s.dropped
}

// Close waits for queued hooks to finish. A running hook is not interrupted
// unless ctx ends first, in which case it is killed.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)

	for j := range s.queue {
		if s.ctx.Err() != nil {
			continue
		}
		resp, err := s.exec.Execute(s.ctx, j.hook, j.event)

		s.mu.Lock()
		s.ran++
		if err != nil || !resp.Success {
			s.failed++
		}
		s.mu.Unlock()

		switch {
		case err != nil:
			monitoring.Logf("hook: %v", err)
		case !resp.Success:
			monitoring.Logf("hook %s: %s", j.hook.Manifest.Name, resp.Error)
		}
	}
}
