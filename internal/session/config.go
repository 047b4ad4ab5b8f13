package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/ayusman/facetrack/internal/detector"
	"github.com/ayusman/facetrack/internal/tracker"
)

// FailureMode decides what the session does when the tracker loses its target.
type FailureMode string

const (
	// FailureSticky keeps reporting the last successful region and stays in
	// Tracking indefinitely. This is the default.
	FailureSticky FailureMode = "sticky"

	// FailureClear stays in Tracking but reports no region while lost.
	FailureClear FailureMode = "clear"

	// FailureReacquire returns to Searching after ReacquireAfter consecutive
	// failed updates.
	FailureReacquire FailureMode = "reacquire"
)

// DefaultReacquireAfter is the consecutive failure count used by
// FailureReacquire when none is configured.
const DefaultReacquireAfter = 10

// ParseFailureMode maps a configuration name to a FailureMode.
func ParseFailureMode(name string) (FailureMode, error) {
	switch m := FailureMode(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return FailureSticky, nil
	case FailureSticky, FailureClear, FailureReacquire:
		return m, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q", name)
	}
}

// Config holds the options of a tracking session.
type Config struct {
	// Backend selects the tracker implementation.
	Backend tracker.Backend

	// BackendOptions are passed to the backend constructor; nil uses defaults.
	BackendOptions tracker.Options

	// FailureMode is the policy applied when the tracker reports a loss.
	FailureMode FailureMode

	// ReacquireAfter is the consecutive failure count that sends a
	// FailureReacquire session back to Searching.
	ReacquireAfter int

	// Selector picks the detection to track; nil uses detector.PickFirst.
	Selector detector.Selector

	// ClampToFrame clips tracker output to the frame; boxes entirely outside
	// it count as a lost target.
	ClampToFrame bool

	// BoundsCheck rejects detected or manual regions not fully inside the frame.
	BoundsCheck bool

	// CallBudget, when positive, treats a detect or update call that takes
	// longer as a failure (no detection / target lost).
	CallBudget time.Duration

	// RunID tags every emitted event.
	RunID string

	// Clock overrides time.Now for the meter and call budget.
	Clock func() time.Time
}

// DefaultConfig returns a Config reproducing the reference behaviour:
// KCF backend, first detection wins, sticky failures.
func DefaultConfig() Config {
	return Config{
		Backend:        tracker.DefaultBackend,
		FailureMode:    FailureSticky,
		ReacquireAfter: DefaultReacquireAfter,
		Selector:       detector.PickFirst,
	}
}

// Validate checks the configuration and fills defaults for zero values.
func (c *Config) Validate() error {
	if c.Backend == "" {
		c.Backend = tracker.DefaultBackend
	}
	if c.FailureMode == "" {
		c.FailureMode = FailureSticky
	}
	if _, err := ParseFailureMode(string(c.FailureMode)); err != nil {
		return err
	}
	if c.ReacquireAfter < 0 {
		return fmt.Errorf("reacquire-after must be >= 0, got %d", c.ReacquireAfter)
	}
	if c.ReacquireAfter == 0 {
		c.ReacquireAfter = DefaultReacquireAfter
	}
	if c.CallBudget < 0 {
		return fmt.Errorf("call budget must be >= 0, got %v", c.CallBudget)
	}
	if c.Selector == nil {
		c.Selector = detector.PickFirst
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}
