package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Run is one pass of the tracker over a frame source.
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Backend     string     `json:"backend"`
	FailureMode string     `json:"failure_mode"`
	Frames      int        `json:"frames"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// RunRepository provides access to runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run. An empty ID is filled with a new UUID and a zero
// StartedAt with the current time.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO runs (id, source, backend, failure_mode, frames, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Backend, run.FailureMode, run.Frames, run.StartedAt,
	)
	return err
}

// Finish records the end of a run and the number of frames it processed.
func (r *RunRepository) Finish(id string, frames int, endedAt time.Time) error {
	result, err := r.db.Exec(
		`UPDATE runs SET frames = ?, ended_at = ? WHERE id = ?`,
		frames, endedAt, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a run by its ID.
func (r *RunRepository) Get(id string) (*Run, error) {
	row := r.db.QueryRow(
		`SELECT id, source, backend, failure_mode, frames, started_at, ended_at
		 FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs first. A non-positive limit returns all.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, source, backend, failure_mode, frames, started_at, ended_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Delete removes a run and, through the foreign key, its events.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var ended sql.NullTime

	err := s.Scan(&run.ID, &run.Source, &run.Backend, &run.FailureMode, &run.Frames, &run.StartedAt, &ended)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		run.EndedAt = &t
	}
	return run, nil
}
