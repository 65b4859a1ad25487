package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/conclave/internal/config"
	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/internal/graph"
	"github.com/ShayCichocki/conclave/internal/retry"
	"github.com/ShayCichocki/conclave/internal/runtime"
	"github.com/ShayCichocki/conclave/internal/state"
	"github.com/ShayCichocki/conclave/pkg/models"
)

// Orchestrator drives jobs from creation to a terminal status. One
// orchestrator can run multiple jobs; each job gets its own control loop
// goroutine, document accessor, and lifecycle monitor.
type Orchestrator struct {
	cfg     *config.Config
	rt      runtime.Runtime
	db      *state.DB // optional, nil disables the mirror
	logger  *DebugLogger
	emitter *emitter

	mu   sync.RWMutex
	jobs map[string]*JobHandle
}

// JobHandle identifies one running or finished job.
type JobHandle struct {
	// JobID is the job identifier.
	JobID string
	// DocumentPath is where the shared job document lives.
	DocumentPath string

	done chan struct{}
}

// Done is closed when the job's control loop exits.
func (h *JobHandle) Done() <-chan struct{} { return h.done }

// JobSnapshot is a non-blocking view of a job built from the document.
type JobSnapshot struct {
	// Job is the parsed job including every task.
	Job *models.Job
	// Counts is the number of tasks per status.
	Counts map[models.TaskStatus]int
	// FailedTasks lists ids of terminally failed tasks.
	FailedTasks []string
	// BlockedTasks lists ids of tasks blocked by failed dependencies.
	BlockedTasks []string
	// Events is the document's event log, oldest first.
	Events []document.Event
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStateDB enables mirroring worker records and the job index to db.
func WithStateDB(db *state.DB) Option {
	return func(o *Orchestrator) { o.db = db }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator using the given runtime for workers.
func New(cfg *config.Config, rt runtime.Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		rt:      rt,
		logger:  NopLogger(),
		emitter: newEmitter(),
		jobs:    make(map[string]*JobHandle),
	}
	for _, opt := range opts {
		opt(o)
	}
	setPackageLogger(o.logger)
	return o
}

// Events returns the channel of orchestrator events. Events are dropped
// when the channel is full; the document's event log is the durable record.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.events
}

// Subscribe registers a synchronous observer for every event.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.emitter.subscribe(obs)
}

// newJobID returns a fresh short job identifier.
func newJobID() string {
	return "job-" + uuid.New().String()[:8]
}

// newWorkerID returns a fresh short worker identifier.
func newWorkerID() string {
	return "worker-" + uuid.New().String()[:8]
}

// StartJob validates the task graph, creates the shared job document, and
// starts the control loop. It returns as soon as the document exists; the
// loop runs until the job reaches a terminal status. A graph with
// duplicate ids, dangling dependencies, or a cycle fails with
// *graph.InvalidTaskGraphError and no document is created.
func (o *Orchestrator) StartJob(ctx context.Context, tasks []*models.Task, sharedContext map[string]string, intent, initiator string) (*JobHandle, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("start job: no tasks")
	}
	if err := graph.Validate(tasks); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		// Requesters may submit tasks pre-marked skipped; everything else
		// starts pending.
		if t.Status != models.TaskStatusSkipped {
			t.Status = models.TaskStatusPending
		}
		t.Assignee = ""
		if !t.Priority.Valid() {
			t.Priority = models.PriorityMedium
		}
	}

	job := &models.Job{
		ID:            newJobID(),
		Initiator:     initiator,
		Status:        models.JobStatusPreparing,
		CreatedAt:     time.Now().UTC(),
		Intent:        intent,
		SharedContext: sharedContext,
		Tasks:         tasks,
	}

	docPath := filepath.Join(o.cfg.Document.Dir, job.ID+".md")
	doc := document.NewDocument(job)
	doc.AppendEvent("orchestrator", "job %s created by %s with %d tasks", job.ID, initiator, len(tasks))

	acc := o.accessor(docPath)
	if err := acc.Create(doc); err != nil {
		return nil, fmt.Errorf("create job document: %w", err)
	}
	o.saveJobRef(job, docPath)

	h := &JobHandle{JobID: job.ID, DocumentPath: docPath, done: make(chan struct{})}
	o.mu.Lock()
	o.jobs[job.ID] = h
	o.mu.Unlock()

	debugLog("[orchestrator] job %s created at %s", job.ID, docPath)
	go o.runLoop(ctx, h, nil)
	return h, nil
}

// GetStatus returns the job's current truth from the document. It never
// blocks on the document lock.
func (o *Orchestrator) GetStatus(h *JobHandle) (*JobSnapshot, error) {
	doc, err := o.accessor(h.DocumentPath).Read()
	if err != nil {
		return nil, err
	}
	return snapshot(doc), nil
}

// Cancel requests termination of the job. The control loop notices the
// flag on its next pass, terminates in-flight workers, and marks the job
// failed with reason "Cancelled". Cancelling a terminal job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, h *JobHandle) error {
	_, err := o.accessor(h.DocumentPath).Update(ctx, func(d *document.Document) error {
		if d.Job.Status.Terminal() {
			return nil
		}
		if d.Job.CancelRequested {
			return nil
		}
		d.Job.CancelRequested = true
		d.AppendEvent("orchestrator", "cancellation requested")
		return nil
	})
	return err
}

// Job returns the handle for a job this orchestrator is running, or nil.
func (o *Orchestrator) Job(jobID string) *JobHandle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.jobs[jobID]
}

// accessor builds a document accessor with the configured lock policy.
func (o *Orchestrator) accessor(docPath string) *document.Accessor {
	return document.NewAccessor(docPath,
		document.WithLockPolicy(retry.Policy{
			MaxAttempts:    o.cfg.Document.LockAttempts,
			InitialBackoff: o.cfg.Document.LockBackoff,
		}),
		document.WithMaxBytes(o.cfg.Document.MaxBytes),
	)
}

// saveJobRef mirrors the job to the index. Best effort.
func (o *Orchestrator) saveJobRef(job *models.Job, docPath string) {
	if o.db == nil {
		return
	}
	err := o.db.SaveJobRef(&state.JobRef{
		JobID:        job.ID,
		DocumentPath: docPath,
		Initiator:    job.Initiator,
		Status:       job.Status,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	})
	if err != nil {
		debugLog("[orchestrator] save job ref %s: %v", job.ID, err)
	}
}

func snapshot(doc *document.Document) *JobSnapshot {
	snap := &JobSnapshot{
		Job:    doc.Job,
		Counts: doc.Job.Counts(),
		Events: doc.Events,
	}
	for _, t := range doc.Job.Tasks {
		switch t.Status {
		case models.TaskStatusFailed:
			snap.FailedTasks = append(snap.FailedTasks, t.ID)
		case models.TaskStatusBlocked:
			snap.BlockedTasks = append(snap.BlockedTasks, t.ID)
		}
	}
	sort.Strings(snap.FailedTasks)
	sort.Strings(snap.BlockedTasks)
	return snap
}

// failureSummary builds the human-readable reason for a failed job.
func failureSummary(job *models.Job) string {
	var failed, blocked []string
	for _, t := range job.Tasks {
		switch t.Status {
		case models.TaskStatusFailed:
			failed = append(failed, t.ID)
		case models.TaskStatusBlocked:
			blocked = append(blocked, t.ID)
		}
	}
	sort.Strings(failed)
	sort.Strings(blocked)

	parts := []string{fmt.Sprintf("tasks failed: %s", strings.Join(failed, ", "))}
	if len(blocked) > 0 {
		parts = append(parts, fmt.Sprintf("blocked: %s", strings.Join(blocked, ", ")))
	}
	return strings.Join(parts, "; ")
}
