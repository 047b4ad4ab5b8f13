// Command notify is a facetrack hook that shows a desktop notification for
// each event it receives. It uses osascript on macOS and notify-send
// elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// event is the subset of the telemetry event the hook reads.
type event struct {
	Kind       string `json:"kind"`
	FrameIndex int    `json:"frame_index"`
	Mode       string `json:"mode"`
	Detail     string `json:"detail"`
}

// response is written to stdout for the executor.
type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

var titles = map[string]string{
	"tracker_lost":      "Target lost",
	"tracker_recovered": "Target recovered",
	"detection":         "Target acquired",
	"detector_error":    "Detector error",
}

func main() {
	var e event
	if err := json.NewDecoder(os.Stdin).Decode(&e); err != nil {
		writeResponse(response{Error: fmt.Sprintf("failed to decode event: %v", err)})
		return
	}

	title, ok := titles[e.Kind]
	if !ok {
		title = e.Kind
	}
	body := fmt.Sprintf("frame %d (%s)", e.FrameIndex, e.Mode)
	if e.Detail != "" {
		body += ": " + e.Detail
	}

	if err := notify(title, body); err != nil {
		writeResponse(response{Error: err.Error()})
		return
	}
	writeResponse(response{Success: true, Message: title})
}

func notify(title, body string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, "facetrack: "+title)
		cmd = exec.Command("osascript", "-e", script)
	default:
		cmd = exec.Command("notify-send", "facetrack: "+title, body)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notification failed: %w: %s", err, out)
	}
	return nil
}

func writeResponse(r response) {
	json.NewEncoder(os.Stdout).Encode(r)
}
