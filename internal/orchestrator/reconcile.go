package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/internal/graph"
	"github.com/ShayCichocki/conclave/pkg/models"
)

// handleTaskFailure records a worker's failure against its task. A task
// with remaining retries goes back to pending for a fresh worker; one
// that is out of retries becomes failed and every task depending on it,
// directly or transitively, becomes blocked.
func (l *jobLoop) handleTaskFailure(ctx context.Context, taskID, workerID, reason string) {
	retried := false
	var blocked []string

	err := l.update(ctx, func(d *document.Document) error {
		t := d.Job.Task(taskID)
		if t == nil {
			return fmt.Errorf("task %s not found", taskID)
		}
		switch t.Status {
		case models.TaskStatusComplete, models.TaskStatusBlocked, models.TaskStatusSkipped:
			// Another pass already settled this task.
			return nil
		case models.TaskStatusFailed:
			// Workers mark their own task failed. The assignee stays on
			// the task until the failure has been through retry
			// accounting here, so a cleared assignee means a previous
			// pass finished the job.
			if t.Assignee == "" {
				return nil
			}
		}

		if t.Notes != "" {
			t.Notes += "\n"
		}
		t.Notes += fmt.Sprintf("attempt %d via %s: %s", t.Attempts, workerID, reason)

		if t.Attempts <= l.o.cfg.Orchestrator.TaskRetries {
			retried = true
			t.Status = models.TaskStatusPending
			t.Assignee = ""
			t.StartedAt = nil
			t.CompletedAt = nil
			d.AppendEvent("orchestrator", "task %s returned to pending for retry (attempt %d of %d): %s",
				taskID, t.Attempts, l.o.cfg.Orchestrator.TaskRetries+1, reason)
			return nil
		}

		now := time.Now().UTC()
		t.Status = models.TaskStatusFailed
		t.Assignee = ""
		t.CompletedAt = &now
		d.AppendEvent("orchestrator", "task %s failed after %d attempts: %s", taskID, t.Attempts, reason)
		blocked = blockDependents(d, taskID)
		return nil
	})
	if err != nil {
		debugLog("[loop %s] record failure of task %s: %v", l.h.JobID, taskID, err)
		return
	}

	if retried {
		l.o.emitter.emit(Event{Type: EventTaskRetried, JobID: l.h.JobID, TaskID: taskID,
			WorkerID: workerID, Message: reason})
		return
	}
	l.o.emitter.emit(Event{Type: EventTaskFailed, JobID: l.h.JobID, TaskID: taskID,
		WorkerID: workerID, Message: reason})
	for _, id := range blocked {
		l.o.emitter.emit(Event{Type: EventTaskBlocked, JobID: l.h.JobID, TaskID: id,
			Message: "dependency_failed:" + taskID})
	}
}

// blockDependents moves every pending task downstream of failedID to
// blocked and returns the affected ids.
func blockDependents(d *document.Document, failedID string) []string {
	g := graph.New()
	if err := g.Build(d.Job.Tasks); err != nil {
		// The graph was valid at creation; a build failure here means the
		// document was edited out from under us. Leave dependents alone,
		// the deadlock check will catch anything stuck.
		debugLog("[reconcile] rebuild graph for job %s: %v", d.Job.ID, err)
		return nil
	}

	var blocked []string
	for _, depID := range g.Dependents(failedID) {
		t := d.Job.Task(depID)
		if t == nil || t.Status != models.TaskStatusPending {
			continue
		}
		t.Status = models.TaskStatusBlocked
		t.BlockedReason = "dependency_failed:" + failedID
		blocked = append(blocked, depID)
	}
	if len(blocked) > 0 {
		d.AppendEvent("orchestrator", "blocked %d tasks downstream of %s", len(blocked), failedID)
	}
	return blocked
}
