// Package scheduler selects which pending tasks may run next, honoring
// dependency order, priority, and the concurrency cap.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/ShayCichocki/conclave/pkg/models"
)

// DependencyDeadlockError indicates no task can make progress: nothing is
// running, nothing is ready, yet pending tasks remain.
type DependencyDeadlockError struct {
	// TaskIDs lists the stuck tasks, sorted.
	TaskIDs []string
}

func (e *DependencyDeadlockError) Error() string {
	return fmt.Sprintf("dependency deadlock: tasks %v cannot make progress", e.TaskIDs)
}

// Scheduler decides which tasks to hand to workers. It is stateless across
// calls; every decision is derived from the job it is given, so a resumed
// orchestrator schedules identically to the one that crashed.
type Scheduler struct {
	// maxConcurrent is the maximum number of tasks in flight at once.
	maxConcurrent int
}

// New creates a Scheduler with the given concurrency cap.
// A cap below 1 is treated as 1.
func New(maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{maxConcurrent: maxConcurrent}
}

// MaxConcurrent returns the concurrency cap.
func (s *Scheduler) MaxConcurrent() int {
	return s.maxConcurrent
}

// Running counts tasks currently assigned to or being worked by a worker.
func Running(job *models.Job) int {
	n := 0
	for _, t := range job.Tasks {
		if t.Status == models.TaskStatusAssigned || t.Status == models.TaskStatusInProgress {
			n++
		}
	}
	return n
}

// SelectReady returns the tasks to start now: pending tasks whose
// dependencies have all completed or been skipped, ordered by priority
// (highest first) then by id for a deterministic tie-break, truncated to
// the free concurrency slots.
func (s *Scheduler) SelectReady(job *models.Job) []*models.Task {
	slots := s.maxConcurrent - Running(job)
	if slots <= 0 {
		return nil
	}

	var ready []*models.Task
	for _, t := range job.Tasks {
		if t.Status != models.TaskStatusPending {
			continue
		}
		if t.Ready(job.Task) {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	sort.SliceStable(ready, func(i, j int) bool {
		ri, rj := ready[i].Priority.Rank(), ready[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return ready[i].ID < ready[j].ID
	})

	if len(ready) > slots {
		ready = ready[:slots]
	}
	return ready
}

// CheckDeadlock reports whether the job is stuck. A deadlock exists when
// no task is running, no task is ready, and pending tasks remain. The
// dependency graph is validated acyclic up front, so in practice this
// surfaces pending tasks gated on dependencies that failed without their
// dependents being blocked yet.
func (s *Scheduler) CheckDeadlock(job *models.Job) error {
	if Running(job) > 0 {
		return nil
	}

	var stuck []string
	for _, t := range job.Tasks {
		if t.Status != models.TaskStatusPending {
			continue
		}
		if t.Ready(job.Task) {
			return nil
		}
		stuck = append(stuck, t.ID)
	}
	if len(stuck) == 0 {
		return nil
	}
	sort.Strings(stuck)
	return &DependencyDeadlockError{TaskIDs: stuck}
}
