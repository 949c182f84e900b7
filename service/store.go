package service

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/MwailaCoding/prowrite-delivery/model"
	_ "github.com/mattn/go-sqlite3"
)

// SubmissionStore persists submission records in SQLite so they
// survive restarts. Runtime bookkeeping (active poll loops, state
// subscribers) lives in the orchestrator, not here.
type SubmissionStore struct {
	db *sql.DB
}

const createSubmissionsTableSQL = `
CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	reference TEXT UNIQUE NOT NULL,
	document_type TEXT NOT NULL,
	amount INTEGER NOT NULL,
	contact_email TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	started_polling_at TIMESTAMP,
	last_error TEXT NOT NULL DEFAULT '',
	artifact_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// NewSubmissionStore opens (and if needed creates) the database at path.
// Use ":memory:" for an ephemeral store.
func NewSubmissionStore(path string) (*SubmissionStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(createSubmissionsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create submissions table: %w", err)
	}

	slog.Info("submission store initialized", "path", path)
	return &SubmissionStore{db: db}, nil
}

func (s *SubmissionStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a full submission record
func (s *SubmissionStore) Save(sub *model.Submission) error {
	sub.UpdatedAt = time.Now()

	var startedPolling any
	if !sub.StartedPollingAt.IsZero() {
		startedPolling = sub.StartedPollingAt
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO submissions
		(id, reference, document_type, amount, contact_email, username, state,
		 attempts, started_polling_at, last_error, artifact_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Reference, sub.DocumentType, sub.Amount, sub.ContactEmail,
		sub.Username, sub.State, sub.Attempts, startedPolling, sub.LastError,
		sub.ArtifactURL, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

// Get returns the submission for a reference, or nil if none exists
func (s *SubmissionStore) Get(reference string) (*model.Submission, error) {
	row := s.db.QueryRow(`
		SELECT id, reference, document_type, amount, contact_email, username,
		       state, attempts, started_polling_at, last_error, artifact_url,
		       created_at, updated_at
		FROM submissions WHERE reference = ?`, reference)
	return scanSubmission(row)
}

// GetByUser returns all submissions belonging to a username
func (s *SubmissionStore) GetByUser(username string) ([]*model.Submission, error) {
	rows, err := s.db.Query(`
		SELECT id, reference, document_type, amount, contact_email, username,
		       state, attempts, started_polling_at, last_error, artifact_url,
		       created_at, updated_at
		FROM submissions WHERE username = ? ORDER BY created_at DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var result []*model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// UpdateState sets the state and last error for a reference
func (s *SubmissionStore) UpdateState(reference, state, lastError string) error {
	_, err := s.db.Exec(`
		UPDATE submissions SET state = ?, last_error = ?, updated_at = ?
		WHERE reference = ?`,
		state, lastError, time.Now(), reference)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}

// UpdateAttempts records the running polling attempt count
func (s *SubmissionStore) UpdateAttempts(reference string, attempts int) error {
	_, err := s.db.Exec(`
		UPDATE submissions SET attempts = ?, updated_at = ?
		WHERE reference = ?`,
		attempts, time.Now(), reference)
	if err != nil {
		return fmt.Errorf("failed to update attempts: %w", err)
	}
	return nil
}

// SetArtifactURL records the resolved download location on completion
func (s *SubmissionStore) SetArtifactURL(reference, url string) error {
	_, err := s.db.Exec(`
		UPDATE submissions SET artifact_url = ?, updated_at = ?
		WHERE reference = ?`,
		url, time.Now(), reference)
	if err != nil {
		return fmt.Errorf("failed to set artifact url: %w", err)
	}
	return nil
}

// Delete removes a submission record
func (s *SubmissionStore) Delete(reference string) error {
	_, err := s.db.Exec(`DELETE FROM submissions WHERE reference = ?`, reference)
	if err != nil {
		return fmt.Errorf("failed to delete submission: %w", err)
	}
	return nil
}

// Count returns the number of stored submissions
func (s *SubmissionStore) Count() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM submissions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*model.Submission, error) {
	var sub model.Submission
	var startedPolling sql.NullTime

	err := row.Scan(
		&sub.ID, &sub.Reference, &sub.DocumentType, &sub.Amount,
		&sub.ContactEmail, &sub.Username, &sub.State, &sub.Attempts,
		&startedPolling, &sub.LastError, &sub.ArtifactURL,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}

	if startedPolling.Valid {
		sub.StartedPollingAt = startedPolling.Time
	}
	return &sub, nil
}
