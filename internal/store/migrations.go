package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per processed stream
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			backend TEXT NOT NULL,
			failure_mode TEXT NOT NULL CHECK(failure_mode IN ('sticky', 'clear', 'reacquire')),
			frames INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Events table - telemetry emitted by the session during a run
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			frame_index INTEGER NOT NULL,
			kind TEXT NOT NULL,
			mode TEXT NOT NULL,
			prev_mode TEXT NOT NULL DEFAULT '',
			x INTEGER,
			y INTEGER,
			width INTEGER,
			height INTEGER,
			success INTEGER,
			fps REAL,
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id, frame_index)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
