// Package api provides the HTTP handlers for recorded tracking runs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/facetrack/internal/region"
	"github.com/ayusman/facetrack/internal/store"
	"github.com/ayusman/facetrack/internal/telemetry"
)

// DefaultListLimit caps GET /api/runs when no limit is given.
const DefaultListLimit = 50

// RunsHandler handles HTTP requests for run resources.
type RunsHandler struct {
	store *store.Store
}

// NewRunsHandler creates a new RunsHandler with the given store.
func NewRunsHandler(s *store.Store) *RunsHandler {
	return &RunsHandler{store: s}
}

// ServeHTTP routes /api/runs, /api/runs/{id} and /api/runs/{id}/events.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodDelete:
			h.delete(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "events":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.events(w, r, id)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// Request and response types

type runResponse struct {
	ID          string                 `json:"id"`
	Source      string                 `json:"source"`
	Backend     string                 `json:"backend"`
	FailureMode string                 `json:"failure_mode"`
	Frames      int                    `json:"frames"`
	StartedAt   string                 `json:"started_at"`
	EndedAt     string                 `json:"ended_at,omitempty"`
	Counts      map[telemetry.Kind]int `json:"counts,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type eventResponse struct {
	Kind       telemetry.Kind `json:"kind"`
	FrameIndex int            `json:"frame_index"`
	Mode       string         `json:"mode"`
	PrevMode   string         `json:"prev_mode,omitempty"`
	Region     *region.Region `json:"region,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	FPS        *float64       `json:"fps,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Time       string         `json:"time"`
}

type listEventsResponse struct {
	RunID  string          `json:"run_id"`
	Events []eventResponse `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toRunResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:          run.ID,
		Source:      run.Source,
		Backend:     run.Backend,
		FailureMode: run.FailureMode,
		Frames:      run.Frames,
		StartedAt:   run.StartedAt.Format(time.RFC3339),
	}
	if run.EndedAt != nil {
		resp.EndedAt = run.EndedAt.Format(time.RFC3339)
	}
	return resp
}

func toEventResponse(e telemetry.Event) eventResponse {
	return eventResponse{
		Kind:       e.Kind,
		FrameIndex: e.FrameIndex,
		Mode:       e.Mode,
		PrevMode:   e.PrevMode,
		Region:     e.Region,
		Success:    e.Success,
		FPS:        e.FPS,
		Detail:     e.Detail,
		Time:       e.Time.Format(time.RFC3339Nano),
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/runs?limit=N.
func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.store.Runs().List(limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{
		Runs: make([]runResponse, 0, len(runs)),
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}

	WriteJSON(w, http.StatusOK, response)
}

// get handles GET /api/runs/{id} including per-kind event counts.
func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	counts, err := h.store.Events().CountByKind(id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to count events")
		return
	}

	resp := toRunResponse(run)
	resp.Counts = counts
	WriteJSON(w, http.StatusOK, resp)
}

// delete handles DELETE /api/runs/{id}.
func (h *RunsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Runs().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// events handles GET /api/runs/{id}/events?kind=a,b.
func (h *RunsHandler) events(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Runs().Get(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Run not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	kinds, err := ParseKinds(r.URL.Query().Get("kind"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.store.Events().ListByRun(id, kinds...)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	response := listEventsResponse{
		RunID:  id,
		Events: make([]eventResponse, 0, len(events)),
	}
	for _, e := range events {
		response.Events = append(response.Events, toEventResponse(e))
	}

	WriteJSON(w, http.StatusOK, response)
}

// ParseKinds parses a comma-separated kind filter. Empty means no filter.
func ParseKinds(s string) ([]telemetry.Kind, error) {
	if s == "" {
		return nil, nil
	}
	var kinds []telemetry.Kind
	for _, f := range strings.Split(s, ",") {
		k, err := telemetry.ParseKind(strings.TrimSpace(f))
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
