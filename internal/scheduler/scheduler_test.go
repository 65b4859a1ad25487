package scheduler

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/conclave/pkg/models"
)

func jobWith(tasks ...*models.Task) *models.Job {
	return &models.Job{
		ID:        "job-test",
		Initiator: "test",
		Status:    models.JobStatusInProgress,
		Tasks:     tasks,
	}
}

func task(id string, status models.TaskStatus, priority models.Priority, deps ...string) *models.Task {
	return &models.Task{
		ID:        id,
		Name:      id,
		Status:    status,
		Priority:  priority,
		DependsOn: deps,
	}
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestSelectReadyRespectsDependencies(t *testing.T) {
	// Diamond: t1 feeds t2 and t3, which both feed t4.
	job := jobWith(
		task("t1", models.TaskStatusPending, models.PriorityMedium),
		task("t2", models.TaskStatusPending, models.PriorityMedium, "t1"),
		task("t3", models.TaskStatusPending, models.PriorityMedium, "t1"),
		task("t4", models.TaskStatusPending, models.PriorityMedium, "t2", "t3"),
	)
	s := New(4)

	got := ids(s.SelectReady(job))
	if !reflect.DeepEqual(got, []string{"t1"}) {
		t.Fatalf("only t1 should be ready, got %v", got)
	}

	job.Task("t1").Status = models.TaskStatusComplete
	got = ids(s.SelectReady(job))
	if !reflect.DeepEqual(got, []string{"t2", "t3"}) {
		t.Fatalf("t2 and t3 should be ready after t1, got %v", got)
	}
}

func TestSelectReadyOrdersByPriorityThenID(t *testing.T) {
	job := jobWith(
		task("b", models.TaskStatusPending, models.PriorityLow),
		task("a", models.TaskStatusPending, models.PriorityLow),
		task("c", models.TaskStatusPending, models.PriorityCritical),
		task("d", models.TaskStatusPending, models.PriorityHigh),
	)
	got := ids(New(10).SelectReady(job))
	want := []string{"c", "d", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestSelectReadyHonorsConcurrencyCap(t *testing.T) {
	job := jobWith(
		task("t1", models.TaskStatusInProgress, models.PriorityMedium),
		task("t2", models.TaskStatusAssigned, models.PriorityMedium),
		task("t3", models.TaskStatusPending, models.PriorityHigh),
		task("t4", models.TaskStatusPending, models.PriorityMedium),
	)
	s := New(3)

	got := ids(s.SelectReady(job))
	if !reflect.DeepEqual(got, []string{"t3"}) {
		t.Fatalf("one slot free, highest priority first: got %v", got)
	}

	if got := New(2).SelectReady(job); got != nil {
		t.Fatalf("no free slots, got %v", ids(got))
	}
}

func TestSkippedDependencySatisfies(t *testing.T) {
	job := jobWith(
		task("t1", models.TaskStatusSkipped, models.PriorityMedium),
		task("t2", models.TaskStatusPending, models.PriorityMedium, "t1"),
	)
	got := ids(New(1).SelectReady(job))
	if !reflect.DeepEqual(got, []string{"t2"}) {
		t.Fatalf("skipped dependency should satisfy, got %v", got)
	}
}

func TestCheckDeadlock(t *testing.T) {
	t.Run("running task means no deadlock", func(t *testing.T) {
		job := jobWith(
			task("t1", models.TaskStatusInProgress, models.PriorityMedium),
			task("t2", models.TaskStatusPending, models.PriorityMedium, "t1"),
		)
		if err := New(2).CheckDeadlock(job); err != nil {
			t.Fatalf("unexpected deadlock: %v", err)
		}
	})

	t.Run("ready task means no deadlock", func(t *testing.T) {
		job := jobWith(task("t1", models.TaskStatusPending, models.PriorityMedium))
		if err := New(2).CheckDeadlock(job); err != nil {
			t.Fatalf("unexpected deadlock: %v", err)
		}
	})

	t.Run("pending behind failed dependency is stuck", func(t *testing.T) {
		job := jobWith(
			task("t1", models.TaskStatusFailed, models.PriorityMedium),
			task("t3", models.TaskStatusPending, models.PriorityMedium, "t1"),
			task("t2", models.TaskStatusPending, models.PriorityMedium, "t1"),
		)
		err := New(2).CheckDeadlock(job)
		var dl *DependencyDeadlockError
		if !errors.As(err, &dl) {
			t.Fatalf("expected DependencyDeadlockError, got %v", err)
		}
		if !reflect.DeepEqual(dl.TaskIDs, []string{"t2", "t3"}) {
			t.Fatalf("stuck tasks = %v", dl.TaskIDs)
		}
	})

	t.Run("all terminal means no deadlock", func(t *testing.T) {
		job := jobWith(
			task("t1", models.TaskStatusComplete, models.PriorityMedium),
			task("t2", models.TaskStatusBlocked, models.PriorityMedium, "t1"),
		)
		if err := New(2).CheckDeadlock(job); err != nil {
			t.Fatalf("unexpected deadlock: %v", err)
		}
	})
}
