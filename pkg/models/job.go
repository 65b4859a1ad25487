// Package models defines the shared domain types for conclave: jobs,
// tasks, and worker records. These types are serialized into the shared
// job document and mirrored to the state store.
package models

import "time"

// JobStatus represents the overall state of a job.
type JobStatus string

const (
	// JobStatusPreparing indicates the job document is being created.
	JobStatusPreparing JobStatus = "preparing"
	// JobStatusInProgress indicates the control loop is running tasks.
	JobStatusInProgress JobStatus = "in_progress"
	// JobStatusComplete indicates every task finished successfully or was skipped.
	JobStatusComplete JobStatus = "complete"
	// JobStatusFailed indicates at least one task failed terminally, or the
	// job was cancelled or deadlocked.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPreparing, JobStatusInProgress, JobStatusComplete, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further status transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a forward
// transition. Job status only ever moves forward: preparing -> in_progress
// -> {complete, failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPreparing:
		return next == JobStatusInProgress || next == JobStatusFailed
	case JobStatusInProgress:
		return next == JobStatusComplete || next == JobStatusFailed
	default:
		return false
	}
}

// Job represents one decomposition-and-execution session. The shared job
// document is the durable form of this struct plus its tasks and event log.
type Job struct {
	// ID is the unique identifier for this job, assigned at creation.
	ID string `json:"id" yaml:"job_id"`
	// Initiator identifies the party that requested the job.
	Initiator string `json:"initiator" yaml:"initiator"`
	// Status is the overall job status.
	Status JobStatus `json:"status" yaml:"status"`
	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	// CompletedAt is when the job reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	// Intent is the free-form description of what the job is trying to achieve.
	Intent string `json:"intent,omitempty" yaml:"-"`
	// SharedContext holds named values (paths, constraints, glossary) visible
	// to every task in the job.
	SharedContext map[string]string `json:"shared_context,omitempty" yaml:"-"`
	// FailureReason is a human-readable explanation for a failed status.
	FailureReason string `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	// CancelRequested signals the control loop to terminate all workers.
	// Any process holding the document lock may set it.
	CancelRequested bool `json:"cancel_requested,omitempty" yaml:"cancel_requested,omitempty"`
	// Tasks holds every task in the job, keyed by iteration order.
	Tasks []*Task `json:"tasks" yaml:"-"`
}

// Task returns the task with the given id, or nil if not present.
func (j *Job) Task(id string) *Task {
	for _, t := range j.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Counts returns the number of tasks per status.
func (j *Job) Counts() map[TaskStatus]int {
	counts := make(map[TaskStatus]int, len(j.Tasks))
	for _, t := range j.Tasks {
		counts[t.Status]++
	}
	return counts
}

// AllTasksTerminal returns true if every task is in a terminal status.
func (j *Job) AllTasksTerminal() bool {
	for _, t := range j.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// AllTasksSucceeded returns true if every task is complete or skipped.
func (j *Job) AllTasksSucceeded() bool {
	for _, t := range j.Tasks {
		if t.Status != TaskStatusComplete && t.Status != TaskStatusSkipped {
			return false
		}
	}
	return true
}
