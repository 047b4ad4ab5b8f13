package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/region"
)

// ProcessIdleTimeout is how long the detector process may sit unused before
// it is shut down. It is restarted on the next Detect.
const ProcessIdleTimeout = 30 * time.Second

// ProcessDetector implements Detector by delegating to an external process.
// Each frame is sent as a 4-byte big-endian length followed by JPEG bytes;
// the process answers with one JSON line: {"boxes":[{"x":..,"y":..,"width":..,"height":..}]}.
type ProcessDetector struct {
	script      string
	interpreter string

	mu   sync.Mutex
	proc *detectorProcess
	idle *time.Timer
}

// detectorProcess is one running instance of the detector script.
type detectorProcess struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out *bufio.Reader
}

// NewProcessDetector creates a detector backed by the given script.
// The script must exist; the process itself is started lazily on first detection.
func NewProcessDetector(script string) (*ProcessDetector, error) {
	if script == "" {
		return nil, fmt.Errorf("%w: detector script path is empty", ErrResourceLoad)
	}
	info, err := os.Stat(script)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceLoad, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrResourceLoad, script)
	}
	if abs, err := filepath.Abs(script); err == nil {
		script = abs
	}

	return &ProcessDetector{
		script:      script,
		interpreter: pythonFor(script),
	}, nil
}

// Detect sends the frame to the process and returns the boxes it reports.
func (d *ProcessDetector) Detect(frame *gocv.Mat) ([]region.Region, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.proc == nil {
		p, err := startDetectorProcess(d.interpreter, d.script)
		if err != nil {
			return nil, err
		}
		d.proc = p
	}

	line, err := d.proc.roundTrip(buf.GetBytes())
	if err != nil {
		// A broken pipe leaves the process unusable; start over next time
		d.stopLocked()
		return nil, err
	}
	d.touchLocked()

	return parseBoxes(line)
}

// Close shuts down the detector process.
func (d *ProcessDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *ProcessDetector) stopLocked() error {
	if d.idle != nil {
		d.idle.Stop()
		d.idle = nil
	}
	if d.proc == nil {
		return nil
	}
	err := d.proc.stop()
	d.proc = nil
	return err
}

// touchLocked restarts the idle countdown.
func (d *ProcessDetector) touchLocked() {
	if d.idle != nil {
		d.idle.Reset(ProcessIdleTimeout)
		return
	}
	d.idle = time.AfterFunc(ProcessIdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.stopLocked()
	})
}

func startDetectorProcess(interpreter, script string) (*detectorProcess, error) {
	cmd := exec.Command(interpreter, script)
	cmd.Stderr = os.Stderr

	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start detector process: %w", err)
	}

	return &detectorProcess{cmd: cmd, in: in, out: bufio.NewReader(out)}, nil
}

// roundTrip writes one length-prefixed frame and reads the reply line.
func (p *detectorProcess) roundTrip(jpeg []byte) ([]byte, error) {
	msg := make([]byte, 4+len(jpeg))
	binary.BigEndian.PutUint32(msg, uint32(len(jpeg)))
	copy(msg[4:], jpeg)

	if _, err := p.in.Write(msg); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}
	line, err := p.out.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return line, nil
}

// stop closes stdin, which the script treats as end of input, and waits.
func (p *detectorProcess) stop() error {
	p.in.Close()
	return p.cmd.Wait()
}

// pythonFor prefers a virtualenv next to the script, the working directory
// or the executable, falling back to python3 on PATH.
func pythonFor(script string) string {
	dirs := []string{filepath.Dir(script), filepath.Dir(filepath.Dir(script)), "."}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, "venv", "bin", "python")
		if _, err := os.Stat(candidate); err == nil {
			if abs, err := filepath.Abs(candidate); err == nil {
				return abs
			}
			return candidate
		}
	}
	return "python3"
}

// processReply is the line format written by the detector process.
type processReply struct {
	Boxes []region.Region `json:"boxes"`
	Error string          `json:"error,omitempty"`
}

func parseBoxes(line []byte) ([]region.Region, error) {
	var reply processReply
	if err := json.Unmarshal(line, &reply); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("detector process: %s", reply.Error)
	}
	return reply.Boxes, nil
}
