// Package server provides the HTTP interface to a running tracker: status,
// remote control, recorded runs, the annotated video stream and a live
// event feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/facetrack/internal/region"
	"github.com/ayusman/facetrack/internal/server/api"
	"github.com/ayusman/facetrack/internal/session"
	"github.com/ayusman/facetrack/internal/store"
)

// Controller is the part of a tracking session the server drives.
// *session.Session implements it.
type Controller interface {
	Snapshot() session.Snapshot
	RequestManualInit(r region.Region) error
	Reset()
}

// Config holds the server configuration. Endpoints whose dependency is nil
// are not registered.
type Config struct {
	StaticDir string
	Store     *store.Store
	Session   Controller
	Frames    *FrameHub
	Events    *EventHub

	// StreamInterval is the minimum time between MJPEG frames.
	StreamInterval time.Duration
}

// Server represents the HTTP server for the tracker.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time

	mu   sync.Mutex
	http *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Session != nil {
		s.mux.HandleFunc("/api/status", s.handleStatus)
		s.mux.HandleFunc("/api/manual-init", s.handleManualInit)
		s.mux.HandleFunc("/api/reset", s.handleReset)
	}

	if s.config.Store != nil {
		runs := api.NewRunsHandler(s.config.Store)
		s.mux.Handle("/api/runs", runs)
		s.mux.Handle("/api/runs/", runs)
	}

	if s.config.Frames != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Frames, s.config.StreamInterval))
	}

	if s.config.Events != nil {
		s.mux.Handle("/api/events", s.config.Events)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	api.WriteJSON(w, http.StatusOK, response)
}

// handleStatus handles GET /api/status with the latest session snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.config.Session.Snapshot())
}

// handleManualInit handles POST /api/manual-init with a region body.
// The request is applied on the next processed frame.
func (s *Server) handleManualInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req region.Region
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := s.config.Session.RequestManualInit(req); err != nil {
		switch {
		case errors.Is(err, region.ErrInvalidRegion):
			api.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrClosed):
			api.WriteError(w, http.StatusServiceUnavailable, err.Error())
		default:
			api.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	api.WriteJSON(w, http.StatusAccepted, s.config.Session.Snapshot())
}

// handleReset handles POST /api/reset, dropping the tracker and searching
// again.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.config.Session.Reset()
	api.WriteJSON(w, http.StatusAccepted, s.config.Session.Snapshot())
}

// ListenAndServe starts the HTTP server on the given address and blocks
// until it stops. A Shutdown is not reported as an error.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes the hubs and stops a server started with ListenAndServe.
// Streaming clients are cut off when ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if s.config.Events != nil {
		s.config.Events.Close()
	}
	if s.config.Frames != nil {
		s.config.Frames.Close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
