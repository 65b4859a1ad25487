package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/pkg/models"
)

func watchDoc() *document.Document {
	job := &models.Job{
		ID:        "job-watch1",
		Initiator: "tester",
		Status:    models.JobStatusInProgress,
		CreatedAt: time.Now().UTC(),
		Intent:    "render things",
		Tasks: []*models.Task{
			{ID: "t1", Name: "first task", Status: models.TaskStatusComplete, Priority: models.PriorityHigh},
			{ID: "t2", Name: "second task", Status: models.TaskStatusInProgress, Priority: models.PriorityMedium,
				Assignee: "worker-abc", Attempts: 1},
		},
	}
	doc := document.NewDocument(job)
	doc.AppendEvent("orchestrator", "task t1 assigned to worker-xyz (attempt 1)")
	return doc
}

func TestViewShowsTasksAndEvents(t *testing.T) {
	m := NewWatchModel("/tmp/job.md", nil)
	m.doc = watchDoc()

	out := m.View()
	for _, want := range []string{"job-watch1", "t1", "t2", "worker-abc", "render things", "task t1 assigned"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewReportsReadError(t *testing.T) {
	m := NewWatchModel("/tmp/missing.md", nil)
	m.readErr = errors.New("no such file")

	out := m.View()
	if !strings.Contains(out, "cannot read") {
		t.Errorf("view = %q, want read error", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 12); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("a-very-long-identifier", 10); got != "a-very-..." {
		t.Errorf("truncate = %q", got)
	}
	if len(truncate("a-very-long-identifier", 10)) != 10 {
		t.Error("truncated length mismatch")
	}
}

func TestEventTailLimited(t *testing.T) {
	m := NewWatchModel("/tmp/job.md", nil)
	m.doc = watchDoc()
	for i := 0; i < eventTail*2; i++ {
		m.doc.AppendEvent("orchestrator", "filler event %d", i)
	}

	out := m.eventLog()
	if strings.Contains(out, "filler event 0") {
		t.Error("oldest events should fall off the tail")
	}
	if !strings.Contains(out, "filler event 23") {
		t.Error("newest event missing from tail")
	}
}
