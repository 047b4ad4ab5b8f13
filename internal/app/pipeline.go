package app

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/capture"
	"github.com/ayusman/facetrack/internal/monitoring"
	"github.com/ayusman/facetrack/internal/overlay"
	"github.com/ayusman/facetrack/internal/session"
)

type frameReader interface {
	ReadFrame() (*gocv.Mat, error)
}

// run executes the loop and records its result. Resources are released on
// every exit path before done is closed.
func (a *App) run() {
	err := a.loop()
	if rerr := a.release(); rerr != nil {
		monitoring.Logf("app: %v", rerr)
		if err == nil {
			err = rerr
		}
	}

	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
	close(a.done)

	monitoring.Logf("app: run %s stopped after %d frames", a.runID, a.Frames())
}

// loop is the frame loop:
// 1. Read the next frame (end of stream ends the run)
// 2. Step the session
// 3. Annotate and hand the frame to the display and stream consumers
func (a *App) loop() error {
	src := a.config.Source
	if !src.IsOpen() {
		if err := src.Open(); err != nil {
			return fmt.Errorf("open source: %w", err)
		}
	}

	var reader frameReader = src
	if a.config.Prefetch {
		p := capture.NewPrefetcher(src)
		defer p.Stop()
		reader = p
	}

	monitoring.Logf("app: run %s started (%s, %s tracker)", a.runID, a.config.SourceName, a.session.Backend())

	readErrors := 0
	for {
		select {
		case <-a.stopCh:
			return nil
		default:
		}

		frame, err := reader.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				return nil
			}
			readErrors++
			if readErrors >= MaxReadErrors {
				return fmt.Errorf("read frame: %d consecutive failures: %w", readErrors, err)
			}
			monitoring.Logf("Error reading frame: %v", err)
			continue
		}
		readErrors = 0

		snap, err := a.session.Step(frame)
		if err != nil {
			frame.Close()
			return fmt.Errorf("frame %d: %w", snap.FrameIndex, err)
		}

		a.mu.Lock()
		a.latest = snap
		a.frames++
		frames := a.frames
		a.mu.Unlock()

		a.present(frame, snap)
		frame.Close()

		if a.config.MaxFrames > 0 && frames >= a.config.MaxFrames {
			return nil
		}
	}
}

// present draws the overlay and hands the frame to its consumers.
func (a *App) present(frame *gocv.Mat, snap session.Snapshot) {
	if a.config.Frames == nil && a.config.OnFrame == nil {
		return
	}

	overlay.Draw(frame, snap)
	if a.config.Frames != nil {
		a.config.Frames.Publish(frame)
	}
	if a.config.OnFrame != nil {
		a.config.OnFrame(frame, snap)
	}
}
