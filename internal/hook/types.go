// Package hook runs external commands in response to session events, for
// example to send a notification when the target is lost.
package hook

import (
	"fmt"
	"strings"

	"github.com/ayusman/facetrack/internal/telemetry"
)

// Manifest describes a hook discovered on disk.
type Manifest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Executable  string           `json:"executable"`
	Args        []string         `json:"args,omitempty"`
	Events      []telemetry.Kind `json:"events"`
}

// Response is the optional JSON a hook writes to stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hook is a runnable command subscribed to a set of event kinds.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// DefaultEvents are the kinds a hook receives when its manifest names none.
var DefaultEvents = []telemetry.Kind{telemetry.KindTrackerLost}

// Command builds a hook that runs the executable name with args.
func Command(name string, args []string, events []telemetry.Kind) *Hook {
	return &Hook{
		Manifest: Manifest{
			Name:       name,
			Executable: name,
			Args:       args,
			Events:     events,
		},
		Executable: name,
	}
}

// Wants reports whether the hook is subscribed to kind.
func (h *Hook) Wants(kind telemetry.Kind) bool {
	events := h.Manifest.Events
	if len(events) == 0 {
		events = DefaultEvents
	}
	for _, k := range events {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseEvents parses a comma-separated list of event kinds. An empty string
// yields DefaultEvents.
func ParseEvents(s string) ([]telemetry.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultEvents, nil
	}

	var kinds []telemetry.Kind
	for _, f := range strings.Split(s, ",") {
		k, err := telemetry.ParseKind(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("hook events: %w", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
