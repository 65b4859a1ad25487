// Package document implements the shared job document: a single markdown
// file with YAML front matter that is the durable state and the only
// communication channel between the orchestrator, its workers, and the
// job requester. The accessor serializes all writers through an exclusive
// advisory file lock.
package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/conclave/pkg/models"
)

// MalformedDocumentError indicates the document failed validation on read.
// Malformed documents are surfaced, never silently repaired.
type MalformedDocumentError struct {
	// Reason describes what is wrong with the document.
	Reason string
}

func (e *MalformedDocumentError) Error() string {
	return "malformed document: " + e.Reason
}

// Event is one entry of the append-only chronological event log.
type Event struct {
	// At is when the event occurred.
	At time.Time
	// Actor identifies who recorded the event (orchestrator, monitor,
	// scheduler, or a worker id).
	Actor string
	// Message describes the state change.
	Message string
}

// String renders the event as a single log line. Newlines in the message
// are flattened; a multi-line entry would not survive a re-parse.
func (e Event) String() string {
	msg := strings.ReplaceAll(e.Message, "\n", " ")
	return fmt.Sprintf("- %s [%s] %s", e.At.UTC().Format(time.RFC3339), e.Actor, msg)
}

// Document is the fully parsed in-memory form of a shared job document.
// Job carries the metadata block and tasks; the remaining fields hold
// sections that have no other home on the model types.
type Document struct {
	// Job holds metadata, intent, shared context, and all tasks.
	Job *models.Job
	// Extra preserves unknown front-matter fields verbatim so readers that
	// do not understand them never drop them.
	Extra map[string]any
	// Synthesis is the free-text area where workers append cross-cutting
	// observations for the job requester.
	Synthesis string
	// Events is the append-only chronological event log.
	Events []Event
}

// NewDocument creates a document for a freshly created job.
func NewDocument(job *models.Job) *Document {
	return &Document{Job: job, Extra: map[string]any{}}
}

// AppendEvent adds one entry to the event log.
func (d *Document) AppendEvent(actor, format string, args ...any) {
	d.Events = append(d.Events, Event{
		At:      time.Now().UTC(),
		Actor:   actor,
		Message: fmt.Sprintf(format, args...),
	})
}

// AppendOutput appends text to a task's output block. Output is never
// overwritten, only extended.
func (d *Document) AppendOutput(taskID, text string) error {
	task := d.Job.Task(taskID)
	if task == nil {
		return fmt.Errorf("append output: unknown task %s", taskID)
	}
	if task.Output != "" {
		task.Output += "\n"
	}
	task.Output += text
	return nil
}

// AppendNotes appends text to a task's notes block.
func (d *Document) AppendNotes(taskID, text string) error {
	task := d.Job.Task(taskID)
	if task == nil {
		return fmt.Errorf("append notes: unknown task %s", taskID)
	}
	if task.Notes != "" {
		task.Notes += "\n"
	}
	task.Notes += text
	return nil
}

// AppendSynthesis appends text to the shared synthesis section.
func (d *Document) AppendSynthesis(text string) {
	if d.Synthesis != "" {
		d.Synthesis += "\n"
	}
	d.Synthesis += text
}

// Validate checks the structural invariants required of every document.
// It returns *MalformedDocumentError on the first violation found.
func (d *Document) Validate() error {
	if d.Job == nil {
		return &MalformedDocumentError{Reason: "missing metadata block"}
	}
	if d.Job.ID == "" {
		return &MalformedDocumentError{Reason: "missing required field job_id"}
	}
	if d.Job.Initiator == "" {
		return &MalformedDocumentError{Reason: "missing required field initiator"}
	}
	if d.Job.CreatedAt.IsZero() {
		return &MalformedDocumentError{Reason: "missing required field created_at"}
	}
	if !d.Job.Status.Valid() {
		return &MalformedDocumentError{Reason: fmt.Sprintf("unknown job status %q", d.Job.Status)}
	}

	ids := make(map[string]bool, len(d.Job.Tasks))
	for _, t := range d.Job.Tasks {
		if t.ID == "" {
			return &MalformedDocumentError{Reason: "task with empty id"}
		}
		if ids[t.ID] {
			return &MalformedDocumentError{Reason: fmt.Sprintf("duplicate task id %s", t.ID)}
		}
		ids[t.ID] = true
		if !t.Status.Valid() {
			return &MalformedDocumentError{Reason: fmt.Sprintf("task %s has unknown status %q", t.ID, t.Status)}
		}
	}
	for _, t := range d.Job.Tasks {
		for _, depID := range t.DependsOn {
			if !ids[depID] {
				return &MalformedDocumentError{Reason: fmt.Sprintf("task %s depends on unknown task %s", t.ID, depID)}
			}
		}
	}
	return nil
}
