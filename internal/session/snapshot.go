package session

import (
	"github.com/ayusman/facetrack/internal/region"
	"github.com/ayusman/facetrack/internal/tracker"
)

// Mode is the state of a tracking session.
type Mode string

const (
	ModeSearching           Mode = "searching"
	ModeManualSelectPending Mode = "manual_select_pending"
	ModeTracking            Mode = "tracking"
)

// Snapshot is the per-frame output of Step. Optional fields are nil when
// absent: Region when nothing is tracked, TrackSuccess outside of tracking,
// FPS when no meter epoch is running.
type Snapshot struct {
	FrameIndex          int             `json:"frame_index"`
	Mode                Mode            `json:"mode"`
	Backend             tracker.Backend `json:"backend"`
	Region              *region.Region  `json:"region,omitempty"`
	TrackSuccess        *bool           `json:"track_success,omitempty"`
	FPS                 *float64        `json:"fps,omitempty"`
	RollingFPS          *float64        `json:"rolling_fps,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
}
