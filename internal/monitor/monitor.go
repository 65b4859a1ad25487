// Package monitor tracks the lifecycle of every spawned worker: state
// transitions, timing, resource metrics, and reported errors. It is
// independent of scheduling so the same records serve observability.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/conclave/pkg/models"
)

// InvalidTransitionError indicates a lifecycle transition not permitted by
// the state machine. The caller logs it and treats the worker as failed;
// it never propagates into the control loop as a job failure.
type InvalidTransitionError struct {
	WorkerID string
	From     models.WorkerState
	To       models.WorkerState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for worker %s: %s -> %s", e.WorkerID, e.From, e.To)
}

// allowed is the lifecycle state machine. The success path is
// initializing -> ready -> working -> completing -> completed; spawn
// failures branch to failed, budget overruns branch working to timeout,
// an external stop moves any live state to terminated, and every finished
// state moves to cleaned once teardown is confirmed.
var allowed = map[models.WorkerState][]models.WorkerState{
	models.WorkerInitializing: {models.WorkerReady, models.WorkerFailed, models.WorkerTerminated},
	models.WorkerReady:        {models.WorkerWorking, models.WorkerFailed, models.WorkerTerminated},
	models.WorkerWorking:      {models.WorkerCompleting, models.WorkerFailed, models.WorkerTimeout, models.WorkerTerminated},
	models.WorkerCompleting:   {models.WorkerCompleted, models.WorkerFailed, models.WorkerTerminated},
	models.WorkerCompleted:    {models.WorkerCleaned},
	models.WorkerFailed:       {models.WorkerCleaned},
	models.WorkerTimeout:      {models.WorkerCleaned},
	models.WorkerTerminated:   {models.WorkerCleaned},
	models.WorkerCleaned:      nil,
}

func transitionAllowed(from, to models.WorkerState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EventSink receives a best-effort notification for every transition,
// typically appending to the job document's event log. Sink failures are
// swallowed; they must never block a state transition.
type EventSink func(actor, message string)

// Store optionally mirrors worker records to an external store for
// observability. A nil Store disables persistence.
type Store interface {
	SaveWorkerRecord(record *models.WorkerRecord) error
}

// Monitor tracks worker records for one job.
type Monitor struct {
	// jobID is the job all tracked workers belong to.
	jobID string
	// records maps worker IDs to their records.
	records map[string]*models.WorkerRecord
	// sink receives transition events; may be nil.
	sink EventSink
	// store mirrors records externally; may be nil.
	store Store
	// mu protects records.
	mu sync.RWMutex
}

// New creates a Monitor for the given job. sink and store may be nil.
func New(jobID string, sink EventSink, store Store) *Monitor {
	return &Monitor{
		jobID:   jobID,
		records: make(map[string]*models.WorkerRecord),
		sink:    sink,
		store:   store,
	}
}

// RegisterSpawn creates a record for a newly requested worker in the
// initializing state.
func (m *Monitor) RegisterSpawn(workerID, taskID string) *models.WorkerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &models.WorkerRecord{
		ID:        workerID,
		TaskID:    taskID,
		JobID:     m.jobID,
		State:     models.WorkerInitializing,
		SpawnedAt: time.Now().UTC(),
	}
	m.records[workerID] = rec

	m.notify(fmt.Sprintf("worker %s spawning for task %s", workerID, taskID))
	m.persist(rec)
	return copyRecord(rec)
}

// Adopt registers a record for a worker discovered at resume time, already
// in the given state. Used when a fresh control loop reattaches to live
// workers it did not spawn.
func (m *Monitor) Adopt(workerID, taskID string, state models.WorkerState) *models.WorkerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &models.WorkerRecord{
		ID:        workerID,
		TaskID:    taskID,
		JobID:     m.jobID,
		State:     state,
		SpawnedAt: time.Now().UTC(),
	}
	m.records[workerID] = rec

	m.notify(fmt.Sprintf("worker %s adopted in state %s for task %s", workerID, state, taskID))
	m.persist(rec)
	return copyRecord(rec)
}

// Transition moves a worker to a new lifecycle state. Transitions not in
// the allowed table return *InvalidTransitionError and leave the record
// untouched.
func (m *Monitor) Transition(workerID string, to models.WorkerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[workerID]
	if !ok {
		return fmt.Errorf("transition: unknown worker %s", workerID)
	}
	if !transitionAllowed(rec.State, to) {
		return &InvalidTransitionError{WorkerID: workerID, From: rec.State, To: to}
	}

	from := rec.State
	rec.State = to
	rec.History = append(rec.History, models.StateChange{From: from, To: to, At: time.Now().UTC()})

	m.notify(fmt.Sprintf("worker %s: %s -> %s", workerID, from, to))
	m.persist(rec)
	return nil
}

// RecordMetrics merges a metrics reading into the worker's record.
// Merging never rolls counters backwards.
func (m *Monitor) RecordMetrics(workerID string, metrics models.WorkerMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[workerID]
	if !ok {
		return fmt.Errorf("record metrics: unknown worker %s", workerID)
	}
	rec.Metrics.Merge(metrics)
	m.persist(rec)
	return nil
}

// RecordError attaches an error report to the worker's record and bumps
// its error counter.
func (m *Monitor) RecordError(workerID, message, severity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[workerID]
	if !ok {
		return fmt.Errorf("record error: unknown worker %s", workerID)
	}
	rec.Errors = append(rec.Errors, models.WorkerError{
		Message:  message,
		Severity: severity,
		At:       time.Now().UTC(),
	})
	rec.Metrics.ErrorCount = len(rec.Errors)

	m.notify(fmt.Sprintf("worker %s error (%s): %s", workerID, severity, message))
	m.persist(rec)
	return nil
}

// Record returns a copy of one worker's record, or nil if unknown.
func (m *Monitor) Record(workerID string) *models.WorkerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[workerID]
	if !ok {
		return nil
	}
	return copyRecord(rec)
}

// Records returns copies of all tracked records, ordered by worker id.
func (m *Monitor) Records() []*models.WorkerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.WorkerRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Live returns copies of records whose workers are still executing.
func (m *Monitor) Live() []*models.WorkerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.WorkerRecord
	for _, rec := range m.records {
		if !rec.State.Finished() {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OverBudget returns workers in the working state whose wall-clock time
// since entering it exceeds the budget returned by budgetFor. A zero
// budget means unlimited.
func (m *Monitor) OverBudget(now time.Time, budgetFor func(taskID string) time.Duration) []*models.WorkerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.WorkerRecord
	for _, rec := range m.records {
		if rec.State != models.WorkerWorking {
			continue
		}
		budget := budgetFor(rec.TaskID)
		if budget <= 0 {
			continue
		}
		if now.Sub(workingSince(rec)) > budget {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// workingSince returns when the worker entered the working state, falling
// back to the spawn time when the transition is missing from history.
func workingSince(rec *models.WorkerRecord) time.Time {
	for i := len(rec.History) - 1; i >= 0; i-- {
		if rec.History[i].To == models.WorkerWorking {
			return rec.History[i].At
		}
	}
	return rec.SpawnedAt
}

// notify delivers a transition event to the sink. Caller holds m.mu.
func (m *Monitor) notify(message string) {
	if m.sink == nil {
		return
	}
	m.sink("monitor", message)
}

// persist mirrors the record to the external store. Best effort; failures
// never block the transition. Caller holds m.mu.
func (m *Monitor) persist(rec *models.WorkerRecord) {
	if m.store == nil {
		return
	}
	_ = m.store.SaveWorkerRecord(copyRecord(rec))
}

func copyRecord(rec *models.WorkerRecord) *models.WorkerRecord {
	out := *rec
	out.History = append([]models.StateChange(nil), rec.History...)
	out.Errors = append([]models.WorkerError(nil), rec.Errors...)
	return &out
}
