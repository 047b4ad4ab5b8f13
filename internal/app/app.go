// Package app wires a frame source, a tracking session and its consumers
// into one frame loop.
package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/capture"
	"github.com/ayusman/facetrack/internal/detector"
	"github.com/ayusman/facetrack/internal/monitoring"
	"github.com/ayusman/facetrack/internal/region"
	"github.com/ayusman/facetrack/internal/session"
	"github.com/ayusman/facetrack/internal/store"
	"github.com/ayusman/facetrack/internal/telemetry"
	"github.com/ayusman/facetrack/internal/tracker"
)

// Loop defaults.
const (
	// MaxReadErrors is the number of consecutive failed reads after which
	// the loop gives up on the source.
	MaxReadErrors = 30
	// DefaultLogEvery logs an FPS line every this many frames.
	DefaultLogEvery = 100
	// DefaultStoreFPSEvery persists an FPS sample every this many frames.
	DefaultStoreFPSEvery = 30
)

// FramePublisher receives every annotated frame. It must copy what it keeps.
type FramePublisher interface {
	Publish(frame *gocv.Mat)
}

// FrameFunc is called on the loop goroutine with each annotated frame.
type FrameFunc func(frame *gocv.Mat, snap session.Snapshot)

// Config holds configuration options for the application.
type Config struct {
	// Source provides frames. It is opened by Run if needed and always
	// closed when Run returns.
	Source capture.Source
	// SourceName labels the run record.
	SourceName string
	// Detector is owned by the app once New succeeds.
	Detector detector.Detector
	// Registry resolves the tracker backend; nil uses the default registry.
	Registry *tracker.Registry
	Session  session.Config

	// Store records the run and its events when set.
	Store         *store.Store
	StoreFPSEvery int

	// Sinks receive every session event in addition to the log and store.
	Sinks []telemetry.Sink
	// Frames and OnFrame receive annotated frames. Nothing is drawn when
	// both are nil.
	Frames  FramePublisher
	OnFrame FrameFunc

	// Prefetch reads the next frame while the current one is processed.
	Prefetch bool
	// MaxFrames stops the loop after this many frames; 0 runs to the end.
	MaxFrames int
	// LogEvery is the FPS log interval in frames; 0 uses DefaultLogEvery,
	// a negative value disables FPS logging.
	LogEvery int
}

// App is the main application that runs the tracking loop.
type App struct {
	config    Config
	session   *session.Session
	runID     string
	storeSink *store.Sink

	mu      sync.RWMutex
	stopCh  chan struct{}
	done    chan struct{}
	started bool
	err     error
	latest  session.Snapshot
	frames  int
}

// New creates an App. It records the run in the store when one is
// configured and builds the session; on error the caller still owns the
// detector.
func New(config Config) (*App, error) {
	if config.Source == nil {
		return nil, errors.New("app: source is required")
	}
	if config.Detector == nil {
		return nil, errors.New("app: detector is required")
	}
	if err := config.Session.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		config: config,
		runID:  config.Session.RunID,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if a.runID == "" {
		a.runID = uuid.New().String()
	}

	if config.Store != nil {
		run := &store.Run{
			ID:          a.runID,
			Source:      config.SourceName,
			Backend:     string(config.Session.Backend),
			FailureMode: string(config.Session.FailureMode),
		}
		if err := config.Store.Runs().Create(run); err != nil {
			return nil, fmt.Errorf("app: record run: %w", err)
		}
		every := config.StoreFPSEvery
		if every == 0 {
			every = DefaultStoreFPSEvery
		}
		a.storeSink = config.Store.NewSink(a.runID, every)
	}

	logEvery := config.LogEvery
	if logEvery == 0 {
		logEvery = DefaultLogEvery
	}
	sinks := telemetry.Multi{telemetry.LogSink{Every: logEvery}}
	if a.storeSink != nil {
		sinks = append(sinks, a.storeSink)
	}
	sinks = append(sinks, config.Sinks...)

	cfg := config.Session
	cfg.RunID = a.runID
	sess, err := session.New(cfg, config.Detector, config.Registry, sinks)
	if err != nil {
		if a.storeSink != nil {
			a.storeSink.Close()
			config.Store.Runs().Delete(a.runID)
		}
		return nil, fmt.Errorf("app: %w", err)
	}
	a.session = sess
	a.latest = sess.Snapshot()

	return a, nil
}

// Start runs the loop on a new goroutine. Use Wait for its result.
func (a *App) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return
	}
	a.started = true
	go a.run()
}

// Run runs the loop on the calling goroutine until the source ends, Stop
// is called, or an error occurs. End of stream is not an error.
func (a *App) Run() error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return a.Wait()
	}
	a.started = true
	a.mu.Unlock()

	a.run()
	return a.Wait()
}

// Stop asks the loop to end after the current frame. It is safe to call
// from any goroutine, including an OnFrame callback, and more than once.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-a.stopCh:
	default:
		close(a.stopCh)
	}
}

// Wait blocks until the loop has ended and every resource is released.
func (a *App) Wait() error {
	<-a.done
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

// Done is closed when the loop has ended.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Session returns the tracking session, for remote control.
func (a *App) Session() *session.Session {
	return a.session
}

// RunID returns the identifier attached to this run's events.
func (a *App) RunID() string {
	return a.runID
}

// Snapshot returns the snapshot of the most recent frame.
func (a *App) Snapshot() session.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Frames returns the number of frames processed.
func (a *App) Frames() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}

// RequestManualInit forwards to the session.
func (a *App) RequestManualInit(r region.Region) error {
	return a.session.RequestManualInit(r)
}

// Reset forwards to the session.
func (a *App) Reset() {
	a.session.Reset()
}

// release closes everything the app owns and records the end of the run.
func (a *App) release() error {
	var errs []error

	if err := a.config.Source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close source: %w", err))
	}
	if err := a.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if a.storeSink != nil {
		a.storeSink.Close()
		if n := a.storeSink.Dropped(); n > 0 {
			monitoring.Logf("app: %d events were not persisted", n)
		}
		if err := a.config.Store.Runs().Finish(a.runID, a.Frames(), time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("finish run: %w", err))
		}
	}

	return errors.Join(errs...)
}
