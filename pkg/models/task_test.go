package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusAssigned, TaskStatusInProgress,
		TaskStatusComplete, TaskStatusFailed, TaskStatusBlocked, TaskStatusSkipped,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if TaskStatus("bogus").Valid() {
		t.Error("expected bogus status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
	}{
		{TaskStatusPending, false},
		{TaskStatusAssigned, false},
		{TaskStatusInProgress, false},
		{TaskStatusComplete, true},
		{TaskStatusFailed, true},
		{TaskStatusBlocked, true},
		{TaskStatusSkipped, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestPriorityRank(t *testing.T) {
	if PriorityCritical.Rank() <= PriorityHigh.Rank() {
		t.Error("critical should outrank high")
	}
	if PriorityHigh.Rank() <= PriorityMedium.Rank() {
		t.Error("high should outrank medium")
	}
	if PriorityMedium.Rank() <= PriorityLow.Rank() {
		t.Error("medium should outrank low")
	}
	if Priority("bogus").Rank() != 0 {
		t.Error("unknown priority should rank 0")
	}
}

func TestTaskReady(t *testing.T) {
	tasks := map[string]*Task{
		"t1": {ID: "t1", Status: TaskStatusComplete},
		"t2": {ID: "t2", Status: TaskStatusSkipped},
		"t3": {ID: "t3", Status: TaskStatusPending, DependsOn: []string{"t1", "t2"}},
		"t4": {ID: "t4", Status: TaskStatusPending, DependsOn: []string{"t5"}},
		"t5": {ID: "t5", Status: TaskStatusInProgress},
	}
	byID := func(id string) *Task { return tasks[id] }

	if !tasks["t3"].Ready(byID) {
		t.Error("t3 should be ready: all deps complete or skipped")
	}
	if tasks["t4"].Ready(byID) {
		t.Error("t4 should not be ready: t5 is in progress")
	}
	if tasks["t5"].Ready(byID) {
		t.Error("t5 should not be ready: not pending")
	}
}

func TestTaskReadyMissingDependency(t *testing.T) {
	task := &Task{ID: "t1", Status: TaskStatusPending, DependsOn: []string{"ghost"}}
	if task.Ready(func(string) *Task { return nil }) {
		t.Error("task with unknown dependency must not be ready")
	}
}
