package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/internal/monitor"
	"github.com/ShayCichocki/conclave/internal/retry"
	"github.com/ShayCichocki/conclave/internal/runtime"
	"github.com/ShayCichocki/conclave/internal/scheduler"
	"github.com/ShayCichocki/conclave/pkg/models"
)

// terminateGrace is how long a worker gets to exit after SIGTERM before
// the runtime escalates to a forced kill.
const terminateGrace = 10 * time.Second

// eventBuffer collects event-log entries produced between document writes.
// The monitor's transition events land here and are flushed into the
// document on the next update, so a sink failure can never block a
// lifecycle transition.
type eventBuffer struct {
	mu      sync.Mutex
	pending []document.Event
}

func (b *eventBuffer) add(actor, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, document.Event{
		At:      time.Now().UTC(),
		Actor:   actor,
		Message: message,
	})
}

func (b *eventBuffer) drain() []document.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// jobLoop is the per-job control loop state. Everything here is loop-local
// and reconstructible from the document plus the runtime's worker list.
type jobLoop struct {
	o   *Orchestrator
	h   *JobHandle
	acc *document.Accessor
	mon *monitor.Monitor
	sch *scheduler.Scheduler
	buf *eventBuffer

	// ops tracks in-flight spawn/terminate calls so the loop can wait
	// for them on exit without ever blocking a polling pass.
	ops *errgroup.Group

	// mu guards workers.
	mu sync.Mutex
	// workers maps worker ids to their runtime handles.
	workers map[string]runtime.Handle

	// lockFails counts consecutive document lock timeouts. Reset on any
	// successful update; sustained contention is job-fatal rather than
	// retried forever.
	lockFails atomic.Int32
}

// maxConsecutiveLockFails is how many update passes may time out on the
// document lock before the loop gives up and detaches, leaving the
// document resumable.
const maxConsecutiveLockFails = 5

// runLoop drives one job until it reaches a terminal status. adopted holds
// runtime handles discovered at resume time; it is nil for fresh jobs.
func (o *Orchestrator) runLoop(ctx context.Context, h *JobHandle, adopted []runtime.Handle) {
	defer close(h.done)

	buf := &eventBuffer{}
	var store monitor.Store
	if o.db != nil {
		store = o.db
	}
	l := &jobLoop{
		o:       o,
		h:       h,
		acc:     o.accessor(h.DocumentPath),
		mon:     monitor.New(h.JobID, buf.add, store),
		sch:     scheduler.New(o.cfg.Orchestrator.MaxConcurrent),
		buf:     buf,
		ops:     &errgroup.Group{},
		workers: make(map[string]runtime.Handle),
	}
	defer l.ops.Wait()

	for _, handle := range adopted {
		l.adopt(ctx, handle)
	}

	if err := l.begin(ctx); err != nil {
		debugLog("[loop %s] begin: %v", h.JobID, err)
		return
	}

	for {
		doc, err := l.acc.Read()
		if err != nil {
			var malformed *document.MalformedDocumentError
			if errors.As(err, &malformed) {
				// The document cannot be trusted; freeze the job rather
				// than guess at repairs.
				debugLog("[loop %s] document malformed, freezing job: %v", h.JobID, err)
				l.o.emitter.emit(Event{Type: EventJobDone, JobID: h.JobID, Err: err,
					Message: "job frozen: " + malformed.Reason})
				return
			}
			debugLog("[loop %s] read document: %v", h.JobID, err)
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		if doc.Job.Status.Terminal() {
			l.o.emitter.emit(Event{Type: EventJobDone, JobID: h.JobID,
				Message: string(doc.Job.Status)})
			return
		}
		if doc.Job.CancelRequested {
			l.cancel(ctx)
			return
		}

		l.observeWorkers(ctx, doc.Job)
		l.enforceBudgets(ctx, doc.Job)

		// Re-read: observation and timeouts may have moved task statuses.
		doc, err = l.acc.Read()
		if err != nil {
			debugLog("[loop %s] re-read document: %v", h.JobID, err)
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		l.schedule(ctx, doc.Job)

		doc, err = l.acc.Read()
		if err != nil {
			debugLog("[loop %s] post-schedule read: %v", h.JobID, err)
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		if deadlock := l.sch.CheckDeadlock(doc.Job); deadlock != nil {
			l.fail(ctx, fmt.Sprintf("DependencyDeadlock: %v", deadlock))
			return
		}
		if doc.Job.AllTasksTerminal() {
			l.finalize(ctx, doc.Job)
			return
		}

		if n := l.lockFails.Load(); n >= maxConsecutiveLockFails {
			// The coordination substrate itself is unavailable. Detach
			// rather than spin; the document stays resumable.
			debugLog("[loop %s] %d consecutive lock timeouts, detaching", h.JobID, n)
			l.o.emitter.emit(Event{Type: EventJobDone, JobID: h.JobID,
				Err: document.ErrLockTimeout, Message: "detached: document lock unavailable"})
			return
		}

		if !l.sleep(ctx) {
			return
		}
	}
}

// sleep waits one poll interval. Returns false when the context is done;
// the document is left as-is so a later resume can pick the job up.
func (l *jobLoop) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		debugLog("[loop %s] context done, detaching from job", l.h.JobID)
		return false
	case <-time.After(l.o.cfg.Orchestrator.PollInterval):
		return true
	}
}

// update applies mutate under the document lock, flushing any buffered
// monitor events first so the event log stays chronological.
func (l *jobLoop) update(ctx context.Context, mutate func(*document.Document) error) error {
	_, err := l.acc.Update(ctx, func(d *document.Document) error {
		d.Events = append(d.Events, l.buf.drain()...)
		return mutate(d)
	})
	if errors.Is(err, document.ErrLockTimeout) {
		l.lockFails.Add(1)
	} else if err == nil {
		l.lockFails.Store(0)
	}
	return err
}

// begin moves the job from preparing to in progress.
func (l *jobLoop) begin(ctx context.Context) error {
	err := l.update(ctx, func(d *document.Document) error {
		if d.Job.Status != models.JobStatusPreparing {
			return nil
		}
		d.Job.Status = models.JobStatusInProgress
		d.AppendEvent("orchestrator", "control loop started")
		return nil
	})
	if err != nil {
		return err
	}
	l.o.emitter.emit(Event{Type: EventJobStarted, JobID: l.h.JobID})
	return nil
}

// adopt registers a worker discovered at resume time.
func (l *jobLoop) adopt(ctx context.Context, handle runtime.Handle) {
	st, err := l.o.rt.Status(ctx, handle)
	if err != nil || st.State != runtime.StatusRunning {
		return
	}
	l.mon.Adopt(handle.WorkerID, handle.TaskID, models.WorkerWorking)
	l.mu.Lock()
	l.workers[handle.WorkerID] = handle
	l.mu.Unlock()
	debugLog("[loop %s] adopted live worker %s for task %s", l.h.JobID, handle.WorkerID, handle.TaskID)
}

func (l *jobLoop) currentWorkers() map[string]runtime.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]runtime.Handle, len(l.workers))
	for id, h := range l.workers {
		out[id] = h
	}
	return out
}

func (l *jobLoop) dropWorker(workerID string) {
	l.mu.Lock()
	delete(l.workers, workerID)
	l.mu.Unlock()
}

// observeWorkers reconciles each in-flight worker against the document's
// task status and the runtime's process status.
func (l *jobLoop) observeWorkers(ctx context.Context, job *models.Job) {
	for workerID, handle := range l.currentWorkers() {
		task := job.Task(handle.TaskID)
		if task == nil {
			l.dropWorker(workerID)
			continue
		}
		rec := l.mon.Record(workerID)
		if rec == nil || rec.State.Finished() {
			continue
		}

		st, err := l.o.rt.Status(ctx, handle)
		if err != nil {
			debugLog("[loop %s] status of worker %s: %v", l.h.JobID, workerID, err)
			continue
		}
		if st.State == runtime.StatusExited {
			l.mon.RecordMetrics(workerID, models.WorkerMetrics{OutputBytes: int64(len(task.Output))})
		}

		switch {
		case task.Status == models.TaskStatusComplete:
			l.settleSuccess(ctx, workerID, handle)

		case task.Status == models.TaskStatusFailed:
			l.transitionToFailed(workerID)
			l.teardown(workerID, handle)
			l.handleTaskFailure(ctx, handle.TaskID, workerID, "worker reported failure")

		case st.State != runtime.StatusRunning:
			// The worker exited after our document read; it may have
			// written a result in the gap, so re-check before treating
			// the exit as a crash.
			if latest := l.refreshTask(handle.TaskID); latest != nil {
				if latest.Status == models.TaskStatusComplete {
					l.settleSuccess(ctx, workerID, handle)
					continue
				}
				if latest.Status == models.TaskStatusFailed {
					l.transitionToFailed(workerID)
					l.teardown(workerID, handle)
					l.handleTaskFailure(ctx, handle.TaskID, workerID, "worker reported failure")
					continue
				}
			}
			reason := fmt.Sprintf("worker exited with code %d before reporting a result", st.ExitCode)
			if st.State == runtime.StatusNotFound {
				reason = "worker disappeared from the runtime"
			}
			l.mon.RecordError(workerID, reason, "fatal")
			l.transitionToFailed(workerID)
			l.teardown(workerID, handle)
			l.handleTaskFailure(ctx, handle.TaskID, workerID, reason)

		case task.Status == models.TaskStatusInProgress && rec.State == models.WorkerReady:
			// The worker claimed its task.
			if err := l.mon.Transition(workerID, models.WorkerWorking); err != nil {
				l.monitorFault(ctx, workerID, handle, err)
			}
		}
	}
}

// refreshTask re-reads the document and returns the task's current state,
// or nil if the read fails.
func (l *jobLoop) refreshTask(taskID string) *models.Task {
	doc, err := l.acc.Read()
	if err != nil {
		return nil
	}
	return doc.Job.Task(taskID)
}

// settleSuccess walks the worker through the completion states and tears
// it down.
func (l *jobLoop) settleSuccess(ctx context.Context, workerID string, handle runtime.Handle) {
	steps := []models.WorkerState{models.WorkerWorking, models.WorkerCompleting, models.WorkerCompleted}
	rec := l.mon.Record(workerID)
	for _, next := range steps {
		if rec == nil || rec.State.Finished() {
			break
		}
		if skipStep(rec.State, next) {
			continue
		}
		if err := l.mon.Transition(workerID, next); err != nil {
			// The task result stands regardless of lifecycle bookkeeping.
			debugLog("[loop %s] transition worker %s to %s: %v", l.h.JobID, workerID, next, err)
			break
		}
		rec = l.mon.Record(workerID)
	}
	l.teardown(workerID, handle)
	l.o.emitter.emit(Event{Type: EventTaskCompleted, JobID: l.h.JobID, TaskID: handle.TaskID, WorkerID: workerID})
	debugLog("[loop %s] task %s complete via worker %s", l.h.JobID, handle.TaskID, workerID)
}

// skipStep reports whether the record is already at or past the step.
func skipStep(current, step models.WorkerState) bool {
	order := map[models.WorkerState]int{
		models.WorkerInitializing: 0,
		models.WorkerReady:        1,
		models.WorkerWorking:      2,
		models.WorkerCompleting:   3,
		models.WorkerCompleted:    4,
	}
	c, okC := order[current]
	s, okS := order[step]
	return okC && okS && c >= s
}

// transitionToFailed moves a live worker to failed, tolerating whatever
// live state it is in.
func (l *jobLoop) transitionToFailed(workerID string) {
	rec := l.mon.Record(workerID)
	if rec == nil || rec.State.Finished() {
		return
	}
	if err := l.mon.Transition(workerID, models.WorkerFailed); err != nil {
		debugLog("[loop %s] transition worker %s to failed: %v", l.h.JobID, workerID, err)
	}
}

// monitorFault handles an InvalidTransition from the monitor: log, treat
// the worker as failed, never crash the loop.
func (l *jobLoop) monitorFault(ctx context.Context, workerID string, handle runtime.Handle, err error) {
	debugLog("[loop %s] monitor rejected transition: %v", l.h.JobID, err)
	l.mon.RecordError(workerID, err.Error(), "fatal")
	l.transitionToFailed(workerID)
	l.teardown(workerID, handle)
	l.handleTaskFailure(ctx, handle.TaskID, workerID, "lifecycle tracking fault: "+err.Error())
}

// teardown releases the worker's runtime resources asynchronously and
// marks the record cleaned once the runtime confirms.
func (l *jobLoop) teardown(workerID string, handle runtime.Handle) {
	l.dropWorker(workerID)
	l.ops.Go(func() error {
		if err := l.o.rt.Terminate(context.Background(), handle, terminateGrace); err != nil {
			debugLog("[loop %s] teardown worker %s: %v", l.h.JobID, workerID, err)
			return nil
		}
		if rec := l.mon.Record(workerID); rec != nil && rec.State.Finished() && !rec.State.Terminal() {
			if err := l.mon.Transition(workerID, models.WorkerCleaned); err != nil {
				debugLog("[loop %s] mark worker %s cleaned: %v", l.h.JobID, workerID, err)
			}
		}
		return nil
	})
}

// enforceBudgets times out workers that exceeded their priority tier's
// wall-clock budget.
func (l *jobLoop) enforceBudgets(ctx context.Context, job *models.Job) {
	budgetFor := func(taskID string) time.Duration {
		task := job.Task(taskID)
		if task == nil {
			return 0
		}
		return l.o.cfg.Budgets.For(task.Priority)
	}

	for _, rec := range l.mon.OverBudget(time.Now(), budgetFor) {
		workerID := rec.ID
		l.mu.Lock()
		handle, ok := l.workers[workerID]
		l.mu.Unlock()
		if !ok {
			continue
		}

		debugLog("[loop %s] worker %s exceeded budget on task %s", l.h.JobID, workerID, rec.TaskID)
		l.o.emitter.emit(Event{Type: EventWorkerTimeout, JobID: l.h.JobID, TaskID: rec.TaskID, WorkerID: workerID})
		if err := l.mon.Transition(workerID, models.WorkerTimeout); err != nil {
			debugLog("[loop %s] transition worker %s to timeout: %v", l.h.JobID, workerID, err)
		}
		l.teardown(workerID, handle)
		l.handleTaskFailure(ctx, rec.TaskID, workerID, "WorkerTimeout: wall-clock budget exceeded")
	}
}

// schedule assigns ready tasks and spawns workers for them.
func (l *jobLoop) schedule(ctx context.Context, job *models.Job) {
	for _, task := range l.sch.SelectReady(job) {
		taskID := task.ID
		workerID := newWorkerID()

		err := l.update(ctx, func(d *document.Document) error {
			t := d.Job.Task(taskID)
			if t == nil || t.Status != models.TaskStatusPending {
				return fmt.Errorf("task %s no longer schedulable", taskID)
			}
			t.Status = models.TaskStatusAssigned
			t.Assignee = workerID
			t.Attempts++
			d.AppendEvent("orchestrator", "task %s assigned to %s (attempt %d)", taskID, workerID, t.Attempts)
			return nil
		})
		if err != nil {
			debugLog("[loop %s] assign task %s: %v", l.h.JobID, taskID, err)
			continue
		}

		l.mon.RegisterSpawn(workerID, taskID)
		l.o.emitter.emit(Event{Type: EventTaskAssigned, JobID: l.h.JobID, TaskID: taskID, WorkerID: workerID})
		l.spawn(ctx, taskID, workerID)
	}
}

// spawn creates the worker asynchronously, retrying transient runtime
// failures before giving the task back for a scheduling retry.
func (l *jobLoop) spawn(ctx context.Context, taskID, workerID string) {
	spec := runtime.Spec{
		WorkerID:     workerID,
		JobID:        l.h.JobID,
		TaskID:       taskID,
		DocumentPath: l.h.DocumentPath,
		Limits: runtime.ResourceLimits{
			MemoryBytes: l.o.cfg.Runtime.MemoryLimitMB << 20,
			CPUs:        l.o.cfg.Runtime.CPULimit,
		},
	}
	policy := retry.Policy{
		MaxAttempts:    l.o.cfg.Orchestrator.SpawnAttempts,
		InitialBackoff: l.o.cfg.Orchestrator.SpawnBackoff,
	}

	l.ops.Go(func() error {
		var handle runtime.Handle
		err := policy.Do(ctx, func() error {
			var spawnErr error
			handle, spawnErr = l.o.rt.Spawn(ctx, spec)
			return spawnErr
		})
		if err != nil {
			debugLog("[loop %s] spawn worker %s for task %s: %v", l.h.JobID, workerID, taskID, err)
			l.mon.RecordError(workerID, err.Error(), "fatal")
			l.transitionToFailed(workerID)
			if terr := l.mon.Transition(workerID, models.WorkerCleaned); terr != nil {
				debugLog("[loop %s] mark worker %s cleaned: %v", l.h.JobID, workerID, terr)
			}
			l.handleTaskFailure(ctx, taskID, workerID, "WorkerSpawnFailure: "+err.Error())
			return nil
		}

		if err := l.mon.Transition(workerID, models.WorkerReady); err != nil {
			debugLog("[loop %s] transition worker %s to ready: %v", l.h.JobID, workerID, err)
		}
		l.mu.Lock()
		l.workers[workerID] = handle
		l.mu.Unlock()
		l.o.emitter.emit(Event{Type: EventWorkerSpawned, JobID: l.h.JobID, TaskID: taskID, WorkerID: workerID})
		return nil
	})
}

// cancel terminates every in-flight worker and marks the job failed with
// reason Cancelled.
func (l *jobLoop) cancel(ctx context.Context) {
	debugLog("[loop %s] cancelling job", l.h.JobID)
	live := l.currentWorkers()
	for workerID, handle := range live {
		rec := l.mon.Record(workerID)
		if rec != nil && !rec.State.Finished() {
			if err := l.mon.Transition(workerID, models.WorkerTerminated); err != nil {
				debugLog("[loop %s] transition worker %s to terminated: %v", l.h.JobID, workerID, err)
			}
		}
		l.teardown(workerID, handle)
	}

	err := l.update(ctx, func(d *document.Document) error {
		now := time.Now().UTC()
		for _, t := range d.Job.Tasks {
			if t.Status == models.TaskStatusAssigned || t.Status == models.TaskStatusInProgress {
				t.Status = models.TaskStatusFailed
				t.CompletedAt = &now
				if t.Notes != "" {
					t.Notes += "\n"
				}
				t.Notes += "failure: job cancelled"
			}
		}
		d.Job.Status = models.JobStatusFailed
		d.Job.FailureReason = "Cancelled"
		d.Job.CompletedAt = &now
		d.AppendEvent("orchestrator", "job cancelled, %d workers terminated", len(live))
		return nil
	})
	if err != nil {
		debugLog("[loop %s] write cancellation: %v", l.h.JobID, err)
	}
	l.syncJobRef()
	l.o.emitter.emit(Event{Type: EventJobDone, JobID: l.h.JobID, Message: "cancelled"})
}

// fail marks the whole job failed with the given reason.
func (l *jobLoop) fail(ctx context.Context, reason string) {
	debugLog("[loop %s] job failed: %s", l.h.JobID, reason)
	err := l.update(ctx, func(d *document.Document) error {
		now := time.Now().UTC()
		d.Job.Status = models.JobStatusFailed
		d.Job.FailureReason = reason
		d.Job.CompletedAt = &now
		d.AppendEvent("orchestrator", "job failed: %s", reason)
		return nil
	})
	if err != nil {
		debugLog("[loop %s] write job failure: %v", l.h.JobID, err)
	}
	l.syncJobRef()
	l.o.emitter.emit(Event{Type: EventJobDone, JobID: l.h.JobID, Message: reason})
}

// finalize writes the job's terminal status once every task is terminal.
func (l *jobLoop) finalize(ctx context.Context, job *models.Job) {
	status := models.JobStatusFailed
	reason := failureSummary(job)
	if job.AllTasksSucceeded() {
		status = models.JobStatusComplete
		reason = ""
	}

	err := l.update(ctx, func(d *document.Document) error {
		now := time.Now().UTC()
		d.Job.Status = status
		d.Job.FailureReason = reason
		d.Job.CompletedAt = &now
		counts := d.Job.Counts()
		d.AppendEvent("orchestrator", "job %s: %d complete, %d failed, %d blocked, %d skipped",
			status,
			counts[models.TaskStatusComplete], counts[models.TaskStatusFailed],
			counts[models.TaskStatusBlocked], counts[models.TaskStatusSkipped])
		return nil
	})
	if err != nil {
		debugLog("[loop %s] write terminal status: %v", l.h.JobID, err)
	}
	l.syncJobRef()
	l.o.emitter.emit(Event{Type: EventJobDone, JobID: l.h.JobID, Message: string(status)})
	debugLog("[loop %s] job done: %s", l.h.JobID, status)
}

// syncJobRef refreshes the job index entry from the document. Best effort.
func (l *jobLoop) syncJobRef() {
	if l.o.db == nil {
		return
	}
	doc, err := l.acc.Read()
	if err != nil {
		return
	}
	l.o.saveJobRef(doc.Job, l.h.DocumentPath)
}
