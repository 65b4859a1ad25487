// Package worker is the worker-side client for the shared job document:
// claiming the assigned task, streaming output and notes back, and
// reporting the final result. Worker binaries use only this package plus
// the document accessor; they never talk to the orchestrator directly.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/pkg/models"
)

// Client performs document operations on behalf of one worker. All writes
// go through the accessor's exclusive lock, so a worker can run alongside
// the orchestrator and its sibling workers.
type Client struct {
	acc      *document.Accessor
	jobID    string
	taskID   string
	workerID string
}

// New creates a client for one worker assignment.
func New(documentPath, jobID, taskID, workerID string) *Client {
	return &Client{
		acc:      document.NewAccessor(documentPath),
		jobID:    jobID,
		taskID:   taskID,
		workerID: workerID,
	}
}

// FromEnv builds a client from the environment the runtime injects at
// spawn: CONCLAVE_DOCUMENT, CONCLAVE_JOB_ID, CONCLAVE_TASK_ID, and
// CONCLAVE_WORKER_ID.
func FromEnv() (*Client, error) {
	docPath := os.Getenv("CONCLAVE_DOCUMENT")
	jobID := os.Getenv("CONCLAVE_JOB_ID")
	taskID := os.Getenv("CONCLAVE_TASK_ID")
	workerID := os.Getenv("CONCLAVE_WORKER_ID")
	if docPath == "" || jobID == "" || taskID == "" || workerID == "" {
		return nil, fmt.Errorf("incomplete worker environment: document=%q job=%q task=%q worker=%q",
			docPath, jobID, taskID, workerID)
	}
	return New(docPath, jobID, taskID, workerID), nil
}

// TaskID returns the task this worker is assigned.
func (c *Client) TaskID() string { return c.taskID }

// WorkerID returns this worker's identifier.
func (c *Client) WorkerID() string { return c.workerID }

// Claim moves the worker's task from assigned to in progress and returns
// it. Claiming fails if the task is not assigned to this worker, which
// keeps two workers from ever working the same task.
func (c *Client) Claim(ctx context.Context) (*models.Task, error) {
	var claimed *models.Task
	_, err := c.acc.Update(ctx, func(d *document.Document) error {
		task := d.Job.Task(c.taskID)
		if task == nil {
			return fmt.Errorf("claim: task %s not in document", c.taskID)
		}
		if task.Status != models.TaskStatusAssigned {
			return fmt.Errorf("claim: task %s is %s, not %s", c.taskID, task.Status, models.TaskStatusAssigned)
		}
		if task.Assignee != c.workerID {
			return fmt.Errorf("claim: task %s is assigned to %s, not %s", c.taskID, task.Assignee, c.workerID)
		}

		now := time.Now().UTC()
		task.Status = models.TaskStatusInProgress
		task.StartedAt = &now
		d.AppendEvent(c.workerID, "task %s claimed", c.taskID)

		copied := *task
		claimed = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Job returns a snapshot of the whole job, for reading shared context and
// dependency outputs.
func (c *Client) Job() (*models.Job, error) {
	doc, err := c.acc.Read()
	if err != nil {
		return nil, err
	}
	return doc.Job, nil
}

// AppendOutput appends text to the task's output block.
func (c *Client) AppendOutput(ctx context.Context, text string) error {
	_, err := c.acc.Update(ctx, func(d *document.Document) error {
		return d.AppendOutput(c.taskID, text)
	})
	return err
}

// AppendNotes appends text to the task's notes block.
func (c *Client) AppendNotes(ctx context.Context, text string) error {
	_, err := c.acc.Update(ctx, func(d *document.Document) error {
		return d.AppendNotes(c.taskID, text)
	})
	return err
}

// AppendSynthesis appends a cross-cutting observation to the shared
// synthesis section.
func (c *Client) AppendSynthesis(ctx context.Context, text string) error {
	_, err := c.acc.Update(ctx, func(d *document.Document) error {
		d.AppendSynthesis(text)
		d.AppendEvent(c.workerID, "synthesis note added")
		return nil
	})
	return err
}

// Complete reports success: appends any final output, marks the task
// complete, and stamps the completion time.
func (c *Client) Complete(ctx context.Context, finalOutput string) error {
	_, err := c.acc.Update(ctx, func(d *document.Document) error {
		task := d.Job.Task(c.taskID)
		if task == nil {
			return fmt.Errorf("complete: task %s not in document", c.taskID)
		}
		if task.Status != models.TaskStatusInProgress {
			return fmt.Errorf("complete: task %s is %s, not %s", c.taskID, task.Status, models.TaskStatusInProgress)
		}
		if finalOutput != "" {
			if err := d.AppendOutput(c.taskID, finalOutput); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		task.Status = models.TaskStatusComplete
		task.CompletedAt = &now
		d.AppendEvent(c.workerID, "task %s complete", c.taskID)
		return nil
	})
	return err
}

// Fail reports failure with a reason. The orchestrator decides whether the
// task gets a retry.
func (c *Client) Fail(ctx context.Context, reason string) error {
	_, err := c.acc.Update(ctx, func(d *document.Document) error {
		task := d.Job.Task(c.taskID)
		if task == nil {
			return fmt.Errorf("fail: task %s not in document", c.taskID)
		}
		if task.Status != models.TaskStatusInProgress && task.Status != models.TaskStatusAssigned {
			return fmt.Errorf("fail: task %s is already %s", c.taskID, task.Status)
		}
		if err := d.AppendNotes(c.taskID, "failure: "+reason); err != nil {
			return err
		}

		now := time.Now().UTC()
		task.Status = models.TaskStatusFailed
		task.CompletedAt = &now
		d.AppendEvent(c.workerID, "task %s failed: %s", c.taskID, reason)
		return nil
	})
	return err
}
