package orchestrator

import (
	"sync"
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventJobStarted indicates the control loop has taken over the job.
	EventJobStarted EventType = "job_started"
	// EventTaskAssigned indicates a task was assigned to a worker.
	EventTaskAssigned EventType = "task_assigned"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed terminally.
	EventTaskFailed EventType = "task_failed"
	// EventTaskRetried indicates a failed task was returned to pending.
	EventTaskRetried EventType = "task_retried"
	// EventTaskBlocked indicates a task was blocked by a failed dependency.
	EventTaskBlocked EventType = "task_blocked"
	// EventWorkerSpawned indicates a worker was created for a task.
	EventWorkerSpawned EventType = "worker_spawned"
	// EventWorkerTimeout indicates a worker exceeded its wall-clock budget.
	EventWorkerTimeout EventType = "worker_timeout"
	// EventJobDone indicates the job reached a terminal status.
	EventJobDone EventType = "job_done"
)

// Event is one observation emitted by the orchestrator. Events feed the
// watch TUI and any registered observers; the durable record stays in the
// job document's event log.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// JobID is the job the event belongs to.
	JobID string
	// TaskID is the related task, if applicable.
	TaskID string
	// WorkerID is the related worker, if applicable.
	WorkerID string
	// Message provides additional context.
	Message string
	// Err holds error details for failure events.
	Err error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Observer receives every event synchronously, in emission order.
// Implementations must return quickly; they run on the control loop.
type Observer interface {
	OnEvent(Event)
}

type emitter struct {
	events    chan Event
	mu        sync.RWMutex
	observers []Observer
}

func newEmitter() *emitter {
	return &emitter{events: make(chan Event, 100)}
}

func (e *emitter) subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// emit delivers the event to observers and the channel. When the channel
// is full the event is dropped rather than blocking the control loop.
func (e *emitter) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()
	for _, o := range observers {
		o.OnEvent(ev)
	}

	select {
	case e.events <- ev:
	default:
		debugLog("[events] dropped %s event for job %s (channel full)", ev.Type, ev.JobID)
	}
}
