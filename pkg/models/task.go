package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not been assigned yet.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusAssigned indicates a worker has been chosen but has not
	// reported progress yet.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates the assigned worker is executing.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusComplete indicates the task finished successfully.
	TaskStatusComplete TaskStatus = "complete"
	// TaskStatusFailed indicates the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates a dependency failed terminally, so this
	// task can never run.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusSkipped indicates the task was deliberately not executed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusInProgress,
		TaskStatusComplete, TaskStatusFailed, TaskStatusBlocked, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusComplete, TaskStatusFailed, TaskStatusBlocked, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Satisfied returns true if the status counts as a satisfied dependency.
func (s TaskStatus) Satisfied() bool {
	return s == TaskStatusComplete || s == TaskStatusSkipped
}

// Priority orders tasks for scheduling. Higher priorities are scheduled
// first and get longer wall-clock budgets.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns a sortable weight: critical > high > medium > low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Task represents one unit of work assignable to exactly one worker at a time.
type Task struct {
	// ID is unique within the job.
	ID string `json:"id" yaml:"id"`
	// Name is the short human-readable description.
	Name string `json:"name" yaml:"name"`
	// Description provides detailed instructions for the assigned worker.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// AcceptanceCriteria lists machine-checkable completion criteria.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	// Status is the current task state.
	Status TaskStatus `json:"status" yaml:"status"`
	// Priority governs scheduling order and timeout budget.
	Priority Priority `json:"priority" yaml:"priority"`
	// Assignee is the worker id holding the task, empty when unassigned.
	Assignee string `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	// DependsOn lists task ids that must be complete or skipped first.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// StartedAt is when the task was first assigned, if ever.
	StartedAt *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	// Output is the append-only result payload written by workers.
	Output string `json:"output,omitempty" yaml:"-"`
	// Notes is the append-only free-text block written by workers.
	Notes string `json:"notes,omitempty" yaml:"-"`
	// BlockedReason records why a task became blocked, for reporting.
	BlockedReason string `json:"blocked_reason,omitempty" yaml:"blocked_reason,omitempty"`
	// Attempts counts how many times a worker has been spawned for this task.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// Ready returns true if the task is pending and every dependency, looked up
// through byID, is satisfied.
func (t *Task) Ready(byID func(string) *Task) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	for _, depID := range t.DependsOn {
		dep := byID(depID)
		if dep == nil || !dep.Status.Satisfied() {
			return false
		}
	}
	return true
}
