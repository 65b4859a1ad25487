package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/conclave/internal/config"
	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/internal/graph"
	"github.com/ShayCichocki/conclave/internal/runtime"
	"github.com/ShayCichocki/conclave/internal/worker"
	"github.com/ShayCichocki/conclave/pkg/models"
)

// behavior simulates one worker's life. It runs in its own goroutine with
// a client already pointed at the worker's task; returning ends the
// worker, after which the fake runtime reports it exited.
type behavior func(ctx context.Context, c *worker.Client)

// fakeRuntime is an in-memory runtime whose workers are goroutines
// driving real worker clients against the job document.
type fakeRuntime struct {
	behave   behavior
	spawnErr error

	mu      sync.Mutex
	workers map[string]*fakeWorker
}

type fakeWorker struct {
	handle runtime.Handle
	stop   chan struct{}
	done   chan struct{}
}

func newFakeRuntime(b behavior) *fakeRuntime {
	return &fakeRuntime{behave: b, workers: make(map[string]*fakeWorker)}
}

func (f *fakeRuntime) Spawn(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if f.spawnErr != nil {
		return runtime.Handle{}, &runtime.SpawnFailureError{TaskID: spec.TaskID, Err: f.spawnErr}
	}
	w := &fakeWorker{
		handle: runtime.Handle{WorkerID: spec.WorkerID, JobID: spec.JobID, TaskID: spec.TaskID},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	f.mu.Lock()
	f.workers[spec.WorkerID] = w
	f.mu.Unlock()

	go func() {
		defer close(w.done)
		wctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-w.stop
			cancel()
		}()
		c := worker.New(spec.DocumentPath, spec.JobID, spec.TaskID, spec.WorkerID)
		f.behave(wctx, c)
	}()
	return w.handle, nil
}

func (f *fakeRuntime) Status(ctx context.Context, h runtime.Handle) (runtime.Status, error) {
	f.mu.Lock()
	w, ok := f.workers[h.WorkerID]
	f.mu.Unlock()
	if !ok {
		return runtime.Status{State: runtime.StatusNotFound}, nil
	}
	select {
	case <-w.done:
		return runtime.Status{State: runtime.StatusExited}, nil
	default:
		return runtime.Status{State: runtime.StatusRunning}, nil
	}
}

func (f *fakeRuntime) Logs(ctx context.Context, h runtime.Handle) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeRuntime) Terminate(ctx context.Context, h runtime.Handle, grace time.Duration) error {
	f.mu.Lock()
	w, ok := f.workers[h.WorkerID]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
	return nil
}

func (f *fakeRuntime) List(ctx context.Context, jobID string) ([]runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtime.Handle
	for _, w := range f.workers {
		if w.handle.JobID == jobID {
			out = append(out, w.handle)
		}
	}
	return out, nil
}

// completeAll is the happy-path worker: claim, write output, complete.
func completeAll(ctx context.Context, c *worker.Client) {
	if _, err := c.Claim(ctx); err != nil {
		return
	}
	_ = c.AppendOutput(ctx, "progress on "+c.TaskID())
	_ = c.Complete(ctx, "done: "+c.TaskID())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Document.Dir = t.TempDir()
	cfg.Orchestrator.PollInterval = 10 * time.Millisecond
	cfg.Orchestrator.SpawnAttempts = 1
	cfg.Orchestrator.SpawnBackoff = time.Millisecond
	cfg.Document.LockAttempts = 50
	cfg.Document.LockBackoff = 2 * time.Millisecond
	return cfg
}

func waitDone(t *testing.T, h *JobHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("control loop did not finish in time")
	}
}

func readJob(t *testing.T, path string) *document.Document {
	t.Helper()
	doc, err := document.NewAccessor(path).Read()
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	return doc
}

func chainTasks() []*models.Task {
	return []*models.Task{
		{ID: "t1", Name: "first", Priority: models.PriorityHigh},
		{ID: "t2", Name: "second", DependsOn: []string{"t1"}},
		{ID: "t3", Name: "third", DependsOn: []string{"t1"}, Priority: models.PriorityLow},
	}
}

func TestStartJobRejectsBadGraph(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, newFakeRuntime(completeAll))

	tasks := []*models.Task{
		{ID: "a", Name: "a", DependsOn: []string{"b"}},
		{ID: "b", Name: "b", DependsOn: []string{"a"}},
	}
	_, err := o.StartJob(context.Background(), tasks, nil, "intent", "tester")
	var graphErr *graph.InvalidTaskGraphError
	if !errors.As(err, &graphErr) {
		t.Fatalf("err = %v, want InvalidTaskGraphError", err)
	}

	entries, readErr := os.ReadDir(cfg.Document.Dir)
	if readErr != nil {
		t.Fatalf("read dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("document created for rejected job: %v", entries)
	}
}

func TestStartJobRejectsEmpty(t *testing.T) {
	o := New(testConfig(t), newFakeRuntime(completeAll))
	if _, err := o.StartJob(context.Background(), nil, nil, "intent", "tester"); err == nil {
		t.Fatal("expected error for empty task list")
	}
}

func TestJobRunsToCompletion(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, newFakeRuntime(completeAll))

	h, err := o.StartJob(context.Background(), chainTasks(), map[string]string{"repo": "/src"}, "ship it", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, h.DocumentPath)
	if doc.Job.Status != models.JobStatusComplete {
		t.Fatalf("job status = %s, want complete (reason %q)", doc.Job.Status, doc.Job.FailureReason)
	}
	if doc.Job.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	for _, tk := range doc.Job.Tasks {
		if tk.Status != models.TaskStatusComplete {
			t.Errorf("task %s status = %s, want complete", tk.ID, tk.Status)
		}
		if !strings.Contains(tk.Output, "done: "+tk.ID) {
			t.Errorf("task %s output = %q, missing final result", tk.ID, tk.Output)
		}
		if tk.Attempts != 1 {
			t.Errorf("task %s attempts = %d, want 1", tk.ID, tk.Attempts)
		}
	}
}

func TestSkippedTasksSatisfyDependents(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, newFakeRuntime(completeAll))

	tasks := []*models.Task{
		{ID: "t0", Name: "not needed this run", Status: models.TaskStatusSkipped},
		{ID: "t1", Name: "real work", DependsOn: []string{"t0"}},
	}
	h, err := o.StartJob(context.Background(), tasks, nil, "partial rerun", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, h.DocumentPath)
	if doc.Job.Status != models.JobStatusComplete {
		t.Fatalf("job status = %s, want complete (reason %q)", doc.Job.Status, doc.Job.FailureReason)
	}
	if st := doc.Job.Task("t0").Status; st != models.TaskStatusSkipped {
		t.Errorf("t0 status = %s, want skipped preserved", st)
	}
	if st := doc.Job.Task("t1").Status; st != models.TaskStatusComplete {
		t.Errorf("t1 status = %s, want complete", st)
	}
}

func TestDependentsWaitForDependencies(t *testing.T) {
	cfg := testConfig(t)

	var mu sync.Mutex
	var order []string
	b := func(ctx context.Context, c *worker.Client) {
		if _, err := c.Claim(ctx); err != nil {
			return
		}
		mu.Lock()
		order = append(order, c.TaskID())
		mu.Unlock()
		_ = c.Complete(ctx, "ok")
	}

	o := New(cfg, newFakeRuntime(b))
	h, err := o.StartJob(context.Background(), chainTasks(), nil, "ordered", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("ran %d tasks, want 3: %v", len(order), order)
	}
	if order[0] != "t1" {
		t.Errorf("t1 must run first, got order %v", order)
	}
}

func TestFailureBlocksDependents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.TaskRetries = 0

	b := func(ctx context.Context, c *worker.Client) {
		if _, err := c.Claim(ctx); err != nil {
			return
		}
		if c.TaskID() == "t1" {
			_ = c.Fail(ctx, "simulated break")
			return
		}
		_ = c.Complete(ctx, "ok")
	}

	o := New(cfg, newFakeRuntime(b))
	h, err := o.StartJob(context.Background(), chainTasks(), nil, "doomed", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, h.DocumentPath)
	if doc.Job.Status != models.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", doc.Job.Status)
	}
	if !strings.Contains(doc.Job.FailureReason, "t1") {
		t.Errorf("failure reason %q does not name t1", doc.Job.FailureReason)
	}
	for _, id := range []string{"t2", "t3"} {
		tk := doc.Job.Task(id)
		if tk.Status != models.TaskStatusBlocked {
			t.Errorf("task %s status = %s, want blocked", id, tk.Status)
		}
		if tk.BlockedReason != "dependency_failed:t1" {
			t.Errorf("task %s blocked_reason = %q", id, tk.BlockedReason)
		}
	}
}

// Workers mark their own task failed in the document, so by the time the
// loop observes the exit the status is already terminal. That status is
// the failure signal to process, not evidence a previous pass handled it:
// retry accounting and dependent blocking must still run, exactly once.
func TestWorkerMarkedFailureStillProcessed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.TaskRetries = 1

	o := New(cfg, newFakeRuntime(nil))
	docPath := filepath.Join(cfg.Document.Dir, "marked.md")
	now := time.Now().UTC()
	job := &models.Job{
		ID:        "marked",
		Initiator: "tester",
		Intent:    "retry accounting",
		Status:    models.JobStatusInProgress,
		CreatedAt: now,
		Tasks: []*models.Task{
			{ID: "t1", Name: "first", Status: models.TaskStatusFailed,
				Assignee: "worker-1", Attempts: 1, CompletedAt: &now},
			{ID: "t2", Name: "second", Status: models.TaskStatusPending, DependsOn: []string{"t1"}},
		},
	}
	acc := o.accessor(docPath)
	if err := acc.Create(document.NewDocument(job)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	l := &jobLoop{
		o:   o,
		h:   &JobHandle{JobID: job.ID, DocumentPath: docPath, done: make(chan struct{})},
		acc: acc,
		buf: &eventBuffer{},
	}

	l.handleTaskFailure(context.Background(), "t1", "worker-1", "worker reported failure")

	doc := readJob(t, docPath)
	t1 := doc.Job.Task("t1")
	if t1.Status != models.TaskStatusPending {
		t.Fatalf("t1 status = %s, want pending for retry", t1.Status)
	}
	if t1.Assignee != "" || t1.CompletedAt != nil {
		t.Errorf("t1 assignment not cleared: assignee %q, completed_at %v", t1.Assignee, t1.CompletedAt)
	}

	// Second attempt fails too; this one is final and must block t2.
	_, err := acc.Update(context.Background(), func(d *document.Document) error {
		tk := d.Job.Task("t1")
		tk.Status = models.TaskStatusFailed
		tk.Assignee = "worker-2"
		tk.Attempts = 2
		tk.CompletedAt = &now
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	l.handleTaskFailure(context.Background(), "t1", "worker-2", "worker reported failure")

	doc = readJob(t, docPath)
	t1 = doc.Job.Task("t1")
	if t1.Status != models.TaskStatusFailed {
		t.Fatalf("t1 status = %s, want failed after retries exhausted", t1.Status)
	}
	if t2 := doc.Job.Task("t2"); t2.Status != models.TaskStatusBlocked ||
		t2.BlockedReason != "dependency_failed:t1" {
		t.Errorf("t2 = %s (%q), want blocked by t1", t2.Status, t2.BlockedReason)
	}
	notes := t1.Notes

	// A settled failure is not reprocessed by a later pass.
	l.handleTaskFailure(context.Background(), "t1", "worker-2", "worker reported failure")
	doc = readJob(t, docPath)
	if got := doc.Job.Task("t1").Notes; got != notes {
		t.Errorf("settled failure reprocessed, notes grew:\n%q\nvs\n%q", got, notes)
	}
}

func TestFailedTaskRetriesOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.TaskRetries = 1

	var mu sync.Mutex
	attempts := 0
	b := func(ctx context.Context, c *worker.Client) {
		if _, err := c.Claim(ctx); err != nil {
			return
		}
		if c.TaskID() != "t1" {
			_ = c.Complete(ctx, "ok")
			return
		}
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			_ = c.Fail(ctx, "flaky once")
			return
		}
		_ = c.Complete(ctx, "ok")
	}

	o := New(cfg, newFakeRuntime(b))
	h, err := o.StartJob(context.Background(), chainTasks(), nil, "flaky", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, h.DocumentPath)
	if doc.Job.Status != models.JobStatusComplete {
		t.Fatalf("job status = %s, want complete (reason %q)", doc.Job.Status, doc.Job.FailureReason)
	}
	t1 := doc.Job.Task("t1")
	if t1.Attempts != 2 {
		t.Errorf("t1 attempts = %d, want 2", t1.Attempts)
	}
	if !strings.Contains(t1.Notes, "flaky once") {
		t.Errorf("t1 notes = %q, missing first failure", t1.Notes)
	}
}

func TestSpawnFailureFailsTask(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.TaskRetries = 0

	rt := newFakeRuntime(completeAll)
	rt.spawnErr = errors.New("no capacity")

	o := New(cfg, rt)
	h, err := o.StartJob(context.Background(), []*models.Task{{ID: "t1", Name: "only"}}, nil, "doomed", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, h.DocumentPath)
	if doc.Job.Status != models.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", doc.Job.Status)
	}
	t1 := doc.Job.Task("t1")
	if t1.Status != models.TaskStatusFailed {
		t.Fatalf("t1 status = %s, want failed", t1.Status)
	}
	if !strings.Contains(t1.Notes, "WorkerSpawnFailure") {
		t.Errorf("t1 notes = %q, missing spawn failure", t1.Notes)
	}
}

func TestCancelTerminatesWorkers(t *testing.T) {
	cfg := testConfig(t)

	claimed := make(chan struct{}, 4)
	b := func(ctx context.Context, c *worker.Client) {
		if _, err := c.Claim(ctx); err != nil {
			return
		}
		claimed <- struct{}{}
		<-ctx.Done()
	}

	o := New(cfg, newFakeRuntime(b))
	h, err := o.StartJob(context.Background(), chainTasks(), nil, "long running", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	select {
	case <-claimed:
	case <-time.After(10 * time.Second):
		t.Fatal("no worker claimed a task")
	}

	if err := o.Cancel(context.Background(), h); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, h.DocumentPath)
	if doc.Job.Status != models.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", doc.Job.Status)
	}
	if doc.Job.FailureReason != "Cancelled" {
		t.Errorf("failure reason = %q, want Cancelled", doc.Job.FailureReason)
	}
	t1 := doc.Job.Task("t1")
	if t1.Status != models.TaskStatusFailed {
		t.Errorf("t1 status = %s, want failed", t1.Status)
	}
	if !strings.Contains(t1.Notes, "job cancelled") {
		t.Errorf("t1 notes = %q, missing cancellation", t1.Notes)
	}
}

func TestWorkerTimeoutRetriesThenFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.TaskRetries = 1
	cfg.Budgets.Critical = 30 * time.Millisecond
	cfg.Budgets.High = 30 * time.Millisecond
	cfg.Budgets.Medium = 30 * time.Millisecond
	cfg.Budgets.Low = 30 * time.Millisecond

	b := func(ctx context.Context, c *worker.Client) {
		if _, err := c.Claim(ctx); err != nil {
			return
		}
		<-ctx.Done()
	}

	o := New(cfg, newFakeRuntime(b))
	h, err := o.StartJob(context.Background(), []*models.Task{{ID: "t1", Name: "slow"}}, nil, "stuck", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, h.DocumentPath)
	if doc.Job.Status != models.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", doc.Job.Status)
	}
	t1 := doc.Job.Task("t1")
	if t1.Status != models.TaskStatusFailed {
		t.Fatalf("t1 status = %s, want failed", t1.Status)
	}
	if t1.Attempts != 2 {
		t.Errorf("t1 attempts = %d, want 2 (initial plus one retry)", t1.Attempts)
	}
	if !strings.Contains(t1.Notes, "WorkerTimeout") {
		t.Errorf("t1 notes = %q, missing timeout reason", t1.Notes)
	}
}

func TestConcurrencyCapHolds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.MaxConcurrent = 2

	var mu sync.Mutex
	running, peak := 0, 0
	b := func(ctx context.Context, c *worker.Client) {
		if _, err := c.Claim(ctx); err != nil {
			return
		}
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		_ = c.Complete(ctx, "ok")
	}

	var tasks []*models.Task
	for i := 1; i <= 6; i++ {
		tasks = append(tasks, &models.Task{ID: fmt.Sprintf("t%d", i), Name: fmt.Sprintf("task %d", i)})
	}

	o := New(cfg, newFakeRuntime(b))
	h, err := o.StartJob(context.Background(), tasks, nil, "parallel", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, h.DocumentPath)
	if doc.Job.Status != models.JobStatusComplete {
		t.Fatalf("job status = %s, want complete (reason %q)", doc.Job.Status, doc.Job.FailureReason)
	}
	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestResumeRequeuesOrphanedTasks(t *testing.T) {
	cfg := testConfig(t)

	// Handcraft a document that looks like a crash mid-job: t1 was
	// assigned to a worker that no longer exists.
	now := time.Now().UTC()
	job := &models.Job{
		ID:        "job-resume1",
		Initiator: "tester",
		Status:    models.JobStatusInProgress,
		CreatedAt: now,
		Tasks: []*models.Task{
			{ID: "t1", Name: "first", Status: models.TaskStatusAssigned, Assignee: "worker-gone", Attempts: 1},
			{ID: "t2", Name: "second", Status: models.TaskStatusPending, DependsOn: []string{"t1"}},
		},
	}
	docPath := filepath.Join(cfg.Document.Dir, job.ID+".md")
	if err := document.NewAccessor(docPath).Create(document.NewDocument(job)); err != nil {
		t.Fatalf("create document: %v", err)
	}

	o := New(cfg, newFakeRuntime(completeAll))
	h, err := o.Resume(context.Background(), docPath)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, docPath)
	if doc.Job.Status != models.JobStatusComplete {
		t.Fatalf("job status = %s, want complete (reason %q)", doc.Job.Status, doc.Job.FailureReason)
	}
	t1 := doc.Job.Task("t1")
	if !strings.Contains(t1.Notes, "no worker survived restart") {
		t.Errorf("t1 notes = %q, missing orphan note", t1.Notes)
	}
	if t1.Attempts != 2 {
		t.Errorf("t1 attempts = %d, want 2", t1.Attempts)
	}
}

func TestResumeRejectsTerminalJob(t *testing.T) {
	cfg := testConfig(t)

	now := time.Now().UTC()
	job := &models.Job{
		ID:          "job-done1",
		Initiator:   "tester",
		Status:      models.JobStatusComplete,
		CreatedAt:   now,
		CompletedAt: &now,
		Tasks: []*models.Task{
			{ID: "t1", Name: "first", Status: models.TaskStatusComplete},
		},
	}
	docPath := filepath.Join(cfg.Document.Dir, job.ID+".md")
	if err := document.NewAccessor(docPath).Create(document.NewDocument(job)); err != nil {
		t.Fatalf("create document: %v", err)
	}

	o := New(cfg, newFakeRuntime(completeAll))
	if _, err := o.Resume(context.Background(), docPath); err == nil {
		t.Fatal("expected error resuming a terminal job")
	}
}

func TestResumeDetectsDeadlock(t *testing.T) {
	cfg := testConfig(t)

	// A document written by an older tool: t1 failed but t2 was never
	// blocked, so nothing can ever run.
	now := time.Now().UTC()
	job := &models.Job{
		ID:        "job-stuck1",
		Initiator: "tester",
		Status:    models.JobStatusInProgress,
		CreatedAt: now,
		Tasks: []*models.Task{
			{ID: "t1", Name: "first", Status: models.TaskStatusFailed, CompletedAt: &now},
			{ID: "t2", Name: "second", Status: models.TaskStatusPending, DependsOn: []string{"t1"}},
		},
	}
	docPath := filepath.Join(cfg.Document.Dir, job.ID+".md")
	if err := document.NewAccessor(docPath).Create(document.NewDocument(job)); err != nil {
		t.Fatalf("create document: %v", err)
	}

	o := New(cfg, newFakeRuntime(completeAll))
	h, err := o.Resume(context.Background(), docPath)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitDone(t, h)

	doc := readJob(t, docPath)
	if doc.Job.Status != models.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", doc.Job.Status)
	}
	if !strings.Contains(doc.Job.FailureReason, "DependencyDeadlock") {
		t.Errorf("failure reason = %q, want DependencyDeadlock", doc.Job.FailureReason)
	}
	if !strings.Contains(doc.Job.FailureReason, "t2") {
		t.Errorf("failure reason = %q does not name t2", doc.Job.FailureReason)
	}
}

func TestGetStatusSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Orchestrator.TaskRetries = 0

	b := func(ctx context.Context, c *worker.Client) {
		if _, err := c.Claim(ctx); err != nil {
			return
		}
		if c.TaskID() == "t1" {
			_ = c.Fail(ctx, "nope")
			return
		}
		_ = c.Complete(ctx, "ok")
	}

	o := New(cfg, newFakeRuntime(b))
	h, err := o.StartJob(context.Background(), chainTasks(), nil, "snapshot", "tester")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitDone(t, h)

	snap, err := o.GetStatus(h)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got := snap.Counts[models.TaskStatusFailed]; got != 1 {
		t.Errorf("failed count = %d, want 1", got)
	}
	if got := snap.Counts[models.TaskStatusBlocked]; got != 2 {
		t.Errorf("blocked count = %d, want 2", got)
	}
	if len(snap.FailedTasks) != 1 || snap.FailedTasks[0] != "t1" {
		t.Errorf("failed tasks = %v, want [t1]", snap.FailedTasks)
	}
	if len(snap.Events) == 0 {
		t.Error("snapshot has no events")
	}
}
