package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// One row per capture attempt
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			target INTEGER NOT NULL CHECK(target BETWEEN 5 AND 10),
			samples INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Metadata of each accepted sample
		`CREATE TABLE IF NOT EXISTS attempt_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
			sample_index INTEGER NOT NULL,
			quality_score REAL NOT NULL,
			detection_confidence REAL NOT NULL,
			captured_at DATETIME NOT NULL,
			UNIQUE(attempt_id, sample_index)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON attempts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempt_samples_attempt_id ON attempt_samples(attempt_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
