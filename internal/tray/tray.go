// Package tray provides an optional system tray showing the tracker's state
// with Reacquire and Quit controls.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/facetrack/internal/telemetry"
)

// Tray represents the system tray application. It is a telemetry.Sink so
// the status line follows the session.
type Tray struct {
	onReacquire func()
	onOpen      func()
	onQuit      func()
	mode        string
	fps         float64
	lost        bool
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuStatus *systray.MenuItem
	menuFPS    *systray.MenuItem
}

// New creates a new Tray in the searching state.
func New() *Tray {
	return &Tray{mode: "searching"}
}

// OnReacquire sets the callback for the Reacquire menu item.
func (t *Tray) OnReacquire(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReacquire = fn
}

// OnOpen sets the callback for the Open Stream menu item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("facetrack")
	systray.SetTooltip("facetrack object tracker")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(statusTitle(t.mode, t.lost), "Session mode")
	t.menuStatus.Disable()
	t.menuFPS = systray.AddMenuItem(fpsTitle(t.fps), "Tracking throughput")
	t.menuFPS.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuReacquire := systray.AddMenuItem("Reacquire", "Drop the tracker and detect again")
	menuOpen := systray.AddMenuItem("Open Stream...", "Open the annotated stream in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit facetrack")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-menuReacquire.ClickedCh:
				t.handle(func() func() { return t.onReacquire })
			case <-menuOpen.ClickedCh:
				t.handle(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.handle(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handle runs the callback chosen by get outside the lock.
func (t *Tray) handle(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// Emit updates the status lines from a session event.
func (t *Tray) Emit(e telemetry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Kind {
	case telemetry.KindModeChange:
		t.mode = e.Mode
		t.lost = false
		if e.Mode != "tracking" {
			t.fps = 0
		}
	case telemetry.KindTrackerLost:
		t.lost = true
	case telemetry.KindTrackerRecovered:
		t.lost = false
	case telemetry.KindFPS:
		if e.FPS != nil {
			t.fps = *e.FPS
		}
		if e.Success != nil {
			t.lost = !*e.Success
		}
	default:
		return
	}

	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(t.mode, t.lost))
	}
	if t.menuFPS != nil {
		t.menuFPS.SetTitle(fpsTitle(t.fps))
	}
}

// Status returns the displayed mode, fps and loss flag.
func (t *Tray) Status() (mode string, fps float64, lost bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode, t.fps, t.lost
}

func statusTitle(mode string, lost bool) string {
	switch {
	case mode == "tracking" && lost:
		return "○ Tracking (lost)"
	case mode == "tracking":
		return "● Tracking"
	case mode == "manual_select_pending":
		return "◐ Manual selection pending"
	default:
		return "○ Searching"
	}
}

func fpsTitle(fps float64) string {
	return fmt.Sprintf("FPS: %.2f", fps)
}
