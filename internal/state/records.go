package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/conclave/pkg/models"
)

// SaveWorkerRecord upserts one worker record. History and errors are stored
// as JSON so the mirror round-trips the full record.
func (db *DB) SaveWorkerRecord(rec *models.WorkerRecord) error {
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	workerErrors, err := json.Marshal(rec.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO worker_records
			(id, job_id, task_id, state, spawned_at, history, errors,
			 memory_bytes, cpu_percent, error_count, output_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			history = excluded.history,
			errors = excluded.errors,
			memory_bytes = excluded.memory_bytes,
			cpu_percent = excluded.cpu_percent,
			error_count = excluded.error_count,
			output_bytes = excluded.output_bytes,
			updated_at = excluded.updated_at
	`,
		rec.ID, rec.JobID, rec.TaskID, string(rec.State), formatTime(rec.SpawnedAt),
		string(history), string(workerErrors),
		rec.Metrics.MemoryBytes, rec.Metrics.CPUPercent, rec.Metrics.ErrorCount, rec.Metrics.OutputBytes,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save worker record: %w", err)
	}
	return nil
}

// GetWorkerRecord loads one worker record by id. Returns nil, nil when the
// record does not exist.
func (db *DB) GetWorkerRecord(id string) (*models.WorkerRecord, error) {
	row := db.QueryRow(`
		SELECT id, job_id, task_id, state, spawned_at, history, errors,
		       memory_bytes, cpu_percent, error_count, output_bytes
		FROM worker_records WHERE id = ?
	`, id)

	rec, err := scanWorkerRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListWorkerRecords returns all worker records for a job, ordered by
// spawn time then id.
func (db *DB) ListWorkerRecords(jobID string) ([]*models.WorkerRecord, error) {
	rows, err := db.Query(`
		SELECT id, job_id, task_id, state, spawned_at, history, errors,
		       memory_bytes, cpu_percent, error_count, output_bytes
		FROM worker_records WHERE job_id = ?
		ORDER BY spawned_at, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list worker records: %w", err)
	}
	defer rows.Close()

	var records []*models.WorkerRecord
	for rows.Next() {
		rec, err := scanWorkerRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PurgeOldRecords deletes worker records in a finished state whose last
// update is older than the retention window. Returns the number deleted.
func (db *DB) PurgeOldRecords(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec(`
		DELETE FROM worker_records
		WHERE updated_at < ?
		  AND state IN (?, ?, ?, ?, ?)
	`, cutoff,
		string(models.WorkerCompleted), string(models.WorkerFailed),
		string(models.WorkerTimeout), string(models.WorkerTerminated),
		string(models.WorkerCleaned),
	)
	if err != nil {
		return 0, fmt.Errorf("purge old records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkerRecord(row rowScanner) (*models.WorkerRecord, error) {
	var (
		rec         models.WorkerRecord
		state       string
		spawnedAt   string
		historyJSON sql.NullString
		errorsJSON  sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.JobID, &rec.TaskID, &state, &spawnedAt,
		&historyJSON, &errorsJSON,
		&rec.Metrics.MemoryBytes, &rec.Metrics.CPUPercent,
		&rec.Metrics.ErrorCount, &rec.Metrics.OutputBytes,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan worker record: %w", err)
	}

	rec.State = models.WorkerState(state)
	if t, err := parseTime(spawnedAt); err == nil {
		rec.SpawnedAt = t
	}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &rec.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &rec.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return &rec, nil
}
