package models

import "time"

// WorkerState represents a worker's position in its lifecycle state machine.
type WorkerState string

const (
	// WorkerInitializing indicates the runtime is creating the worker.
	WorkerInitializing WorkerState = "initializing"
	// WorkerReady indicates the worker started but has not begun its task.
	WorkerReady WorkerState = "ready"
	// WorkerWorking indicates the worker is executing its task.
	WorkerWorking WorkerState = "working"
	// WorkerCompleting indicates the worker is writing its results back.
	WorkerCompleting WorkerState = "completing"
	// WorkerCompleted indicates the worker finished successfully.
	WorkerCompleted WorkerState = "completed"
	// WorkerFailed indicates the worker failed to start or reported failure.
	WorkerFailed WorkerState = "failed"
	// WorkerTimeout indicates the worker exceeded its wall-clock budget.
	WorkerTimeout WorkerState = "timeout"
	// WorkerTerminated indicates an external stop request killed the worker.
	WorkerTerminated WorkerState = "terminated"
	// WorkerCleaned indicates runtime resources have been torn down.
	WorkerCleaned WorkerState = "cleaned"
)

// Valid returns true if the state is a known value.
func (s WorkerState) Valid() bool {
	switch s {
	case WorkerInitializing, WorkerReady, WorkerWorking, WorkerCompleting,
		WorkerCompleted, WorkerFailed, WorkerTimeout, WorkerTerminated, WorkerCleaned:
		return true
	default:
		return false
	}
}

// Terminal returns true for states that admit no further transitions.
// Cleaned is the only fully terminal state; completed/failed/timeout/
// terminated still transition to cleaned once teardown is confirmed.
func (s WorkerState) Terminal() bool {
	return s == WorkerCleaned
}

// Finished returns true for states where the worker is done executing,
// whether or not teardown has happened yet.
func (s WorkerState) Finished() bool {
	switch s {
	case WorkerCompleted, WorkerFailed, WorkerTimeout, WorkerTerminated, WorkerCleaned:
		return true
	default:
		return false
	}
}

// WorkerMetrics holds the latest resource and activity readings for a worker.
type WorkerMetrics struct {
	// MemoryBytes is the most recent memory usage reading.
	MemoryBytes int64 `json:"memory_bytes,omitempty"`
	// CPUPercent is the most recent CPU usage reading.
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	// ErrorCount is the cumulative number of errors the worker reported.
	ErrorCount int `json:"error_count,omitempty"`
	// OutputBytes is the cumulative volume of output the worker produced.
	OutputBytes int64 `json:"output_bytes,omitempty"`
}

// Merge overlays non-zero fields of other onto m. Counters take the larger
// value so stale reports never roll metrics backwards.
func (m *WorkerMetrics) Merge(other WorkerMetrics) {
	if other.MemoryBytes > 0 {
		m.MemoryBytes = other.MemoryBytes
	}
	if other.CPUPercent > 0 {
		m.CPUPercent = other.CPUPercent
	}
	if other.ErrorCount > m.ErrorCount {
		m.ErrorCount = other.ErrorCount
	}
	if other.OutputBytes > m.OutputBytes {
		m.OutputBytes = other.OutputBytes
	}
}

// StateChange records one observed lifecycle transition.
type StateChange struct {
	// From is the state before the transition.
	From WorkerState `json:"from"`
	// To is the state after the transition.
	To WorkerState `json:"to"`
	// At is when the transition was observed.
	At time.Time `json:"at"`
}

// WorkerError records one error reported by or on behalf of a worker.
type WorkerError struct {
	// Message describes the error.
	Message string `json:"message"`
	// Severity is a free-form level such as "warning" or "fatal".
	Severity string `json:"severity"`
	// At is when the error was recorded.
	At time.Time `json:"at"`
}

// WorkerRecord is the lifecycle monitor's view of one spawned worker.
type WorkerRecord struct {
	// ID is the unique worker identifier.
	ID string `json:"id"`
	// TaskID is the task this worker was spawned for.
	TaskID string `json:"task_id"`
	// JobID is the job the task belongs to.
	JobID string `json:"job_id"`
	// State is the current lifecycle state.
	State WorkerState `json:"state"`
	// SpawnedAt is when the spawn was requested.
	SpawnedAt time.Time `json:"spawned_at"`
	// History is the ordered list of observed transitions.
	History []StateChange `json:"history,omitempty"`
	// Metrics holds the latest merged resource readings.
	Metrics WorkerMetrics `json:"metrics"`
	// Errors holds every recorded error, oldest first.
	Errors []WorkerError `json:"errors,omitempty"`
}
