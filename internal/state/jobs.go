package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/conclave/pkg/models"
)

// JobRef is the index entry mapping a job id to its document on disk.
type JobRef struct {
	// JobID is the job identifier.
	JobID string
	// DocumentPath is where the job document lives.
	DocumentPath string
	// Initiator is who requested the job.
	Initiator string
	// Status is the job status at last save.
	Status models.JobStatus
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// CompletedAt is when the job reached a terminal status, if it has.
	CompletedAt *time.Time
}

// SaveJobRef upserts one job index entry.
func (db *DB) SaveJobRef(ref *JobRef) error {
	var completedAt any
	if ref.CompletedAt != nil {
		completedAt = formatTime(*ref.CompletedAt)
	}

	_, err := db.Exec(`
		INSERT INTO jobs (id, document_path, initiator, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_path = excluded.document_path,
			status = excluded.status,
			completed_at = excluded.completed_at
	`, ref.JobID, ref.DocumentPath, ref.Initiator, string(ref.Status),
		formatTime(ref.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save job ref: %w", err)
	}
	return nil
}

// GetJobRef loads one job index entry. Returns nil, nil when not found.
func (db *DB) GetJobRef(jobID string) (*JobRef, error) {
	row := db.QueryRow(`
		SELECT id, document_path, initiator, status, created_at, completed_at
		FROM jobs WHERE id = ?
	`, jobID)

	ref, err := scanJobRef(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ref, err
}

// ListJobRefs returns all known jobs, newest first.
func (db *DB) ListJobRefs() ([]*JobRef, error) {
	rows, err := db.Query(`
		SELECT id, document_path, initiator, status, created_at, completed_at
		FROM jobs ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list job refs: %w", err)
	}
	defer rows.Close()

	var refs []*JobRef
	for rows.Next() {
		ref, err := scanJobRef(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanJobRef(row rowScanner) (*JobRef, error) {
	var (
		ref         JobRef
		status      string
		createdAt   string
		completedAt sql.NullString
	)
	err := row.Scan(&ref.JobID, &ref.DocumentPath, &ref.Initiator, &status, &createdAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan job ref: %w", err)
	}

	ref.Status = models.JobStatus(status)
	if t, err := parseTime(createdAt); err == nil {
		ref.CreatedAt = t
	}
	ref.CompletedAt = parseNullableTime(completedAt)
	return &ref, nil
}
