package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/facetrack/internal/monitoring"
)

// DefaultStreamInterval limits the MJPEG stream to about 15 FPS.
const DefaultStreamInterval = 66 * time.Millisecond

// ErrHubClosed is returned by FrameHub.Next once the hub is closed.
var ErrHubClosed = errors.New("frame hub closed")

// FrameHub holds the latest annotated frame for streaming. The frame loop
// publishes into it; any number of HTTP clients read from it. JPEG encoding
// happens at most once per published frame, on the reader side.
type FrameHub struct {
	mu      sync.Mutex
	frame   gocv.Mat
	seq     uint64
	jpeg    []byte
	jpegSeq uint64
	changed chan struct{}
	closed  bool
}

// NewFrameHub creates an empty hub.
func NewFrameHub() *FrameHub {
	return &FrameHub{
		frame:   gocv.NewMat(),
		changed: make(chan struct{}),
	}
}

// Publish stores a copy of frame and wakes waiting readers.
func (h *FrameHub) Publish(frame *gocv.Mat) {
	if frame == nil || frame.Empty() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	frame.CopyTo(&h.frame)
	h.seq++
	close(h.changed)
	h.changed = make(chan struct{})
}

// Seq returns the sequence number of the latest published frame; 0 means
// nothing was published yet.
func (h *FrameHub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Next waits for a frame newer than after and returns it JPEG-encoded with
// its sequence number.
func (h *FrameHub) Next(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, 0, ErrHubClosed
		}
		if h.seq > after {
			break
		}
		changed := h.changed
		h.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	// Locked from here
	seq := h.seq
	if h.jpegSeq == seq {
		buf := h.jpeg
		h.mu.Unlock()
		return buf, seq, nil
	}
	frame := h.frame.Clone()
	h.mu.Unlock()
	defer frame.Close()

	nb, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, 0, fmt.Errorf("encode frame: %w", err)
	}
	defer nb.Close()

	buf := make([]byte, nb.Len())
	copy(buf, nb.GetBytes())

	h.mu.Lock()
	if h.seq == seq {
		h.jpeg = buf
		h.jpegSeq = seq
	}
	h.mu.Unlock()

	return buf, seq, nil
}

// Close releases the held frame and wakes every reader.
func (h *FrameHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.changed)
	h.frame.Close()
	h.jpeg = nil
}

// StreamHandler serves the hub's frames as MJPEG.
type StreamHandler struct {
	hub      *FrameHub
	interval time.Duration
}

// NewStreamHandler creates a StreamHandler; a non-positive interval uses
// DefaultStreamInterval.
func NewStreamHandler(hub *FrameHub, interval time.Duration) *StreamHandler {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &StreamHandler{hub: hub, interval: interval}
}

// ServeHTTP streams MJPEG frames to a connected client until it leaves or
// the hub closes.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	var seq uint64
	for {
		buf, next, err := h.hub.Next(ctx, seq)
		if err != nil {
			if !errors.Is(err, ErrHubClosed) && !errors.Is(err, context.Canceled) {
				monitoring.Logf("stream: %v", err)
			}
			return
		}
		seq = next

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
		if _, err := w.Write(buf); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(h.interval):
		}
	}
}
