package orchestrator

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/internal/runtime"
	"github.com/ShayCichocki/conclave/pkg/models"
)

// Resume reattaches a control loop to a job whose previous orchestrator
// died. The document is the source of truth for task state; the runtime's
// worker list tells us which workers survived the crash. Tasks that were
// assigned or in progress with no surviving worker go back to pending so
// they are scheduled again.
func (o *Orchestrator) Resume(ctx context.Context, docPath string) (*JobHandle, error) {
	acc := o.accessor(docPath)
	doc, err := acc.Read()
	if err != nil {
		return nil, fmt.Errorf("reading job document: %w", err)
	}
	jobID := doc.Job.ID
	if doc.Job.Status.Terminal() {
		return nil, fmt.Errorf("job %s already %s, nothing to resume", jobID, doc.Job.Status)
	}

	o.mu.Lock()
	if _, exists := o.jobs[jobID]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("job %s is already being orchestrated", jobID)
	}
	o.mu.Unlock()

	handles, err := o.rt.List(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing workers for job %s: %w", jobID, err)
	}

	adopted, orphanedTasks := o.splitSurvivors(ctx, doc.Job, handles)

	if len(orphanedTasks) > 0 {
		_, err = acc.Update(ctx, func(d *document.Document) error {
			for _, taskID := range orphanedTasks {
				t := d.Job.Task(taskID)
				if t == nil {
					continue
				}
				if t.Status != models.TaskStatusAssigned && t.Status != models.TaskStatusInProgress {
					continue
				}
				if t.Notes != "" {
					t.Notes += "\n"
				}
				t.Notes += fmt.Sprintf("attempt %d via %s: orphaned, no worker survived restart", t.Attempts, t.Assignee)
				t.Status = models.TaskStatusPending
				t.Assignee = ""
				t.StartedAt = nil
			}
			d.AppendEvent("orchestrator", "resumed with %d surviving workers, %d tasks requeued",
				len(adopted), len(orphanedTasks))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("requeueing orphaned tasks: %w", err)
		}
	}

	h := &JobHandle{
		JobID:        jobID,
		DocumentPath: docPath,
		done:         make(chan struct{}),
	}
	o.mu.Lock()
	o.jobs[jobID] = h
	o.mu.Unlock()

	debugLog("[orchestrator] resuming job %s with %d adopted workers", jobID, len(adopted))
	go o.runLoop(ctx, h, adopted)
	return h, nil
}

// splitSurvivors partitions the job's in-flight tasks into those with a
// live worker (whose handles are returned for adoption) and those whose
// worker is gone.
func (o *Orchestrator) splitSurvivors(ctx context.Context, job *models.Job, handles []runtime.Handle) (adopted []runtime.Handle, orphaned []string) {
	liveByTask := make(map[string]runtime.Handle)
	for _, h := range handles {
		st, err := o.rt.Status(ctx, h)
		if err != nil || st.State != runtime.StatusRunning {
			// Leftover exited container or process record; nothing to adopt.
			continue
		}
		liveByTask[h.TaskID] = h
	}

	for _, t := range job.Tasks {
		if t.Status != models.TaskStatusAssigned && t.Status != models.TaskStatusInProgress {
			continue
		}
		if h, ok := liveByTask[t.ID]; ok && h.WorkerID == t.Assignee {
			adopted = append(adopted, h)
			continue
		}
		orphaned = append(orphaned, t.ID)
	}
	return adopted, orphaned
}
