package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Attempt is the audit record of one enrollment capture.
type Attempt struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	Target       int       `json:"target"`
	Samples      int       `json:"samples"`
	ErrorKind    string    `json:"errorKind,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AttemptSample is the metadata of one accepted sample.
type AttemptSample struct {
	AttemptID           string    `json:"attemptId"`
	Index               int       `json:"index"`
	QualityScore        float64   `json:"qualityScore"`
	DetectionConfidence float64   `json:"detectionConfidence"`
	CapturedAt          time.Time `json:"capturedAt"`
}

// AttemptRepository reads and writes attempts.
type AttemptRepository struct {
	db *sql.DB
}

// Attempts returns the attempt repository for this store.
func (s *Store) Attempts() *AttemptRepository {
	return &AttemptRepository{db: s.db}
}

// Create inserts a new attempt.
func (r *AttemptRepository) Create(a *Attempt) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO attempts (id, state, target, samples, error_kind, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.State, a.Target, a.Samples, a.ErrorKind, a.ErrorMessage, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepository) GetByID(id string) (*Attempt, error) {
	row := r.db.QueryRow(
		`SELECT id, state, target, samples, error_kind, error_message, created_at, updated_at
		 FROM attempts WHERE id = ?`,
		id,
	)

	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// Recent returns up to limit attempts, newest first.
func (r *AttemptRepository) Recent(limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(
		`SELECT id, state, target, samples, error_kind, error_message, created_at, updated_at
		 FROM attempts ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// UpdateState records a state change. errKind and errMessage are cleared
// when empty.
func (r *AttemptRepository) UpdateState(id, state, errKind, errMessage string) error {
	result, err := r.db.Exec(
		`UPDATE attempts SET state = ?, error_kind = ?, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		state, errKind, errMessage, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// AddSample stores the metadata of an accepted sample and bumps the
// attempt's sample count.
func (r *AttemptRepository) AddSample(s *AttemptSample) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE attempts SET samples = samples + 1, updated_at = ? WHERE id = ?`,
		time.Now(), s.AttemptID,
	)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return err
	}

	_, err = tx.Exec(
		`INSERT INTO attempt_samples (attempt_id, sample_index, quality_score, detection_confidence, captured_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.AttemptID, s.Index, s.QualityScore, s.DetectionConfidence, s.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	return tx.Commit()
}

// Samples returns the sample metadata of an attempt in capture order.
func (r *AttemptRepository) Samples(attemptID string) ([]AttemptSample, error) {
	rows, err := r.db.Query(
		`SELECT attempt_id, sample_index, quality_score, detection_confidence, captured_at
		 FROM attempt_samples WHERE attempt_id = ? ORDER BY sample_index`,
		attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []AttemptSample
	for rows.Next() {
		var s AttemptSample
		if err := rows.Scan(&s.AttemptID, &s.Index, &s.QualityScore, &s.DetectionConfidence, &s.CapturedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Delete removes an attempt and its samples.
func (r *AttemptRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM attempts WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// Prune keeps the newest keep attempts and deletes the rest.
func (r *AttemptRepository) Prune(keep int) (int64, error) {
	result, err := r.db.Exec(
		`DELETE FROM attempts WHERE id NOT IN (
			SELECT id FROM attempts ORDER BY created_at DESC, rowid DESC LIMIT ?
		)`,
		keep,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (*Attempt, error) {
	a := &Attempt{}
	err := row.Scan(&a.ID, &a.State, &a.Target, &a.Samples, &a.ErrorKind, &a.ErrorMessage, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
