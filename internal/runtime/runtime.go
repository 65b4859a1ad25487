// Package runtime defines the worker runtime boundary: spawning, observing,
// and tearing down isolated worker processes. The orchestrator depends only
// on the Runtime interface; adapters provide docker and local-process
// implementations.
package runtime

import (
	"context"
	"fmt"
	"io"
	"time"
)

// StatusState describes what the runtime knows about a worker process.
type StatusState string

const (
	// StatusRunning means the worker process is alive.
	StatusRunning StatusState = "running"
	// StatusExited means the worker process has exited.
	StatusExited StatusState = "exited"
	// StatusNotFound means the runtime has no record of the worker.
	StatusNotFound StatusState = "not_found"
)

// Status is a point-in-time report on one worker process.
type Status struct {
	// State is the process state.
	State StatusState
	// ExitCode is meaningful only when State is StatusExited.
	ExitCode int
}

// ResourceLimits caps a single worker's resource usage. Zero values mean
// no limit. Enforcement lives in the adapter so exhaustion is detectable
// even when the orchestrator's in-memory view is stale.
type ResourceLimits struct {
	// MemoryBytes caps resident memory.
	MemoryBytes int64
	// CPUs caps CPU usage in whole or fractional cores.
	CPUs float64
}

// Spec describes the worker to spawn.
type Spec struct {
	// WorkerID is the orchestrator-assigned worker identifier.
	WorkerID string
	// JobID is the job the worker belongs to.
	JobID string
	// TaskID is the task the worker is assigned.
	TaskID string
	// DocumentPath is the shared job document the worker reads and writes.
	DocumentPath string
	// Limits caps the worker's resources.
	Limits ResourceLimits
	// Env holds extra environment variables for the worker.
	Env map[string]string
}

// Handle identifies one spawned worker to its runtime.
type Handle struct {
	// WorkerID is the orchestrator-assigned worker identifier.
	WorkerID string
	// JobID is the job the worker belongs to.
	JobID string
	// TaskID is the task the worker is assigned.
	TaskID string
}

// SpawnFailureError indicates the runtime could not create a worker. The
// orchestrator returns the task to pending for one retry before failing it.
type SpawnFailureError struct {
	TaskID string
	Err    error
}

func (e *SpawnFailureError) Error() string {
	return fmt.Sprintf("worker spawn failure for task %s: %v", e.TaskID, e.Err)
}

func (e *SpawnFailureError) Unwrap() error { return e.Err }

// Runtime creates, observes, and tears down isolated workers. All methods
// are safe for concurrent use.
type Runtime interface {
	// Spawn creates and starts a worker for the given spec.
	Spawn(ctx context.Context, spec Spec) (Handle, error)
	// Status reports the worker's process state.
	Status(ctx context.Context, h Handle) (Status, error)
	// Logs streams the worker's output. The caller closes the stream.
	Logs(ctx context.Context, h Handle) (io.ReadCloser, error)
	// Terminate stops the worker, waiting up to grace before forcing a kill,
	// and releases its resources.
	Terminate(ctx context.Context, h Handle, grace time.Duration) error
	// List returns handles for every live or recently exited worker the
	// runtime tracks for the given job.
	List(ctx context.Context, jobID string) ([]Handle, error)
}
