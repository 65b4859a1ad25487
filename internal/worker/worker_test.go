package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/pkg/models"
)

func setupJob(t *testing.T) (string, *document.Accessor) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.md")
	acc := document.NewAccessor(path)

	job := &models.Job{
		ID:        "job-1",
		Initiator: "test",
		Status:    models.JobStatusInProgress,
		CreatedAt: time.Now().UTC(),
		Tasks: []*models.Task{
			{ID: "t1", Name: "build", Status: models.TaskStatusAssigned, Priority: models.PriorityHigh, Assignee: "w1"},
			{ID: "t2", Name: "test", Status: models.TaskStatusPending, Priority: models.PriorityMedium, DependsOn: []string{"t1"}},
		},
	}
	if err := acc.Create(document.NewDocument(job)); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return path, acc
}

func TestClaimMovesTaskToInProgress(t *testing.T) {
	path, acc := setupJob(t)
	c := New(path, "job-1", "t1", "w1")

	task, err := c.Claim(context.Background())
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if task.Status != models.TaskStatusInProgress {
		t.Errorf("claimed status = %s", task.Status)
	}
	if task.StartedAt == nil {
		t.Error("claim must set started_at")
	}

	doc, err := acc.Read()
	if err != nil {
		t.Fatal(err)
	}
	got := doc.Job.Task("t1")
	if got.Status != models.TaskStatusInProgress || got.Assignee != "w1" {
		t.Errorf("persisted task = %+v", got)
	}
	if len(doc.Events) == 0 {
		t.Error("claim must log an event")
	}
}

func TestClaimRejectsWrongWorker(t *testing.T) {
	path, _ := setupJob(t)
	c := New(path, "job-1", "t1", "intruder")

	if _, err := c.Claim(context.Background()); err == nil {
		t.Fatal("claim by non-assignee must fail")
	}
}

func TestClaimRejectsUnassignedTask(t *testing.T) {
	path, _ := setupJob(t)
	c := New(path, "job-1", "t2", "w1")

	if _, err := c.Claim(context.Background()); err == nil {
		t.Fatal("claiming a pending task must fail")
	}
}

func TestCompleteWritesOutputAndStatus(t *testing.T) {
	path, acc := setupJob(t)
	c := New(path, "job-1", "t1", "w1")
	ctx := context.Background()

	if _, err := c.Claim(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.AppendOutput(ctx, "partial progress"); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(ctx, "final result"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	doc, err := acc.Read()
	if err != nil {
		t.Fatal(err)
	}
	task := doc.Job.Task("t1")
	if task.Status != models.TaskStatusComplete {
		t.Errorf("status = %s", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("complete must set completed_at")
	}
	if task.Output != "partial progress\nfinal result" {
		t.Errorf("output = %q", task.Output)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	path, _ := setupJob(t)
	c := New(path, "job-1", "t1", "w1")

	if err := c.Complete(context.Background(), "result"); err == nil {
		t.Fatal("completing an unclaimed task must fail")
	}
}

func TestFailRecordsReason(t *testing.T) {
	path, acc := setupJob(t)
	c := New(path, "job-1", "t1", "w1")
	ctx := context.Background()

	if _, err := c.Claim(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Fail(ctx, "compile error"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	doc, err := acc.Read()
	if err != nil {
		t.Fatal(err)
	}
	task := doc.Job.Task("t1")
	if task.Status != models.TaskStatusFailed {
		t.Errorf("status = %s", task.Status)
	}
	if task.Notes == "" {
		t.Error("failure reason missing from notes")
	}
}

func TestAppendSynthesis(t *testing.T) {
	path, acc := setupJob(t)
	c := New(path, "job-1", "t1", "w1")

	if err := c.AppendSynthesis(context.Background(), "the build cache is stale everywhere"); err != nil {
		t.Fatal(err)
	}

	doc, err := acc.Read()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Synthesis == "" {
		t.Error("synthesis not persisted")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CONCLAVE_DOCUMENT", "/tmp/job.md")
	t.Setenv("CONCLAVE_JOB_ID", "job-1")
	t.Setenv("CONCLAVE_TASK_ID", "t1")
	t.Setenv("CONCLAVE_WORKER_ID", "w1")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if c.TaskID() != "t1" || c.WorkerID() != "w1" {
		t.Errorf("client = %s/%s", c.TaskID(), c.WorkerID())
	}

	t.Setenv("CONCLAVE_TASK_ID", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("incomplete environment must fail")
	}
}
