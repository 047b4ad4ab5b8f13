package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ayusman/facetrack/internal/region"
	"github.com/ayusman/facetrack/internal/telemetry"
)

// ErrNoRun is returned when appending an event without a run ID.
var ErrNoRun = errors.New("event has no run id")

// EventRepository provides access to recorded telemetry events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Append stores e under e.RunID.
func (r *EventRepository) Append(e telemetry.Event) error {
	if e.RunID == "" {
		return ErrNoRun
	}

	var x, y, w, h sql.NullInt64
	if e.Region != nil {
		x = sql.NullInt64{Int64: int64(e.Region.X), Valid: true}
		y = sql.NullInt64{Int64: int64(e.Region.Y), Valid: true}
		w = sql.NullInt64{Int64: int64(e.Region.Width), Valid: true}
		h = sql.NullInt64{Int64: int64(e.Region.Height), Valid: true}
	}
	var success sql.NullBool
	if e.Success != nil {
		success = sql.NullBool{Bool: *e.Success, Valid: true}
	}
	var fps sql.NullFloat64
	if e.FPS != nil {
		fps = sql.NullFloat64{Float64: *e.FPS, Valid: true}
	}

	_, err := r.db.Exec(
		`INSERT INTO events (run_id, frame_index, kind, mode, prev_mode, x, y, width, height, success, fps, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.FrameIndex, string(e.Kind), e.Mode, e.PrevMode, x, y, w, h, success, fps, e.Detail, e.Time,
	)
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Kind, err)
	}
	return nil
}

// ListByRun returns the events of a run in frame order. When kinds are
// given only those kinds are returned.
func (r *EventRepository) ListByRun(runID string, kinds ...telemetry.Kind) ([]telemetry.Event, error) {
	query := `SELECT run_id, frame_index, kind, mode, prev_mode, x, y, width, height, success, fps, detail, created_at
		FROM events WHERE run_id = ?`
	args := []any{runID}
	if len(kinds) > 0 {
		query += ` AND kind IN (?` + strings.Repeat(",?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY frame_index, id`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var (
			e          telemetry.Event
			kind       string
			x, y, w, h sql.NullInt64
			success    sql.NullBool
			fps        sql.NullFloat64
		)
		err := rows.Scan(&e.RunID, &e.FrameIndex, &kind, &e.Mode, &e.PrevMode, &x, &y, &w, &h, &success, &fps, &e.Detail, &e.Time)
		if err != nil {
			return nil, err
		}

		e.Kind = telemetry.Kind(kind)
		if x.Valid && y.Valid && w.Valid && h.Valid {
			reg := region.New(int(x.Int64), int(y.Int64), int(w.Int64), int(h.Int64))
			e.Region = &reg
		}
		if success.Valid {
			ok := success.Bool
			e.Success = &ok
		}
		if fps.Valid {
			f := fps.Float64
			e.FPS = &f
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// CountByKind summarizes a run's events per kind.
func (r *EventRepository) CountByKind(runID string) (map[telemetry.Kind]int, error) {
	rows, err := r.db.Query(
		`SELECT kind, COUNT(*) FROM events WHERE run_id = ? GROUP BY kind`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[telemetry.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[telemetry.Kind(kind)] = n
	}
	return counts, rows.Err()
}
