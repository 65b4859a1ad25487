package models

import "testing"

func TestWorkerStateFinished(t *testing.T) {
	finished := []WorkerState{WorkerCompleted, WorkerFailed, WorkerTimeout, WorkerTerminated, WorkerCleaned}
	for _, s := range finished {
		if !s.Finished() {
			t.Errorf("expected %q to be finished", s)
		}
	}
	running := []WorkerState{WorkerInitializing, WorkerReady, WorkerWorking, WorkerCompleting}
	for _, s := range running {
		if s.Finished() {
			t.Errorf("expected %q to not be finished", s)
		}
	}
	if WorkerCompleted.Terminal() {
		t.Error("completed still transitions to cleaned")
	}
	if !WorkerCleaned.Terminal() {
		t.Error("cleaned is terminal")
	}
}

func TestWorkerMetricsMerge(t *testing.T) {
	m := WorkerMetrics{MemoryBytes: 100, CPUPercent: 50, ErrorCount: 2, OutputBytes: 1000}

	// Gauges follow the latest non-zero reading.
	m.Merge(WorkerMetrics{MemoryBytes: 80, CPUPercent: 10})
	if m.MemoryBytes != 80 || m.CPUPercent != 10 {
		t.Errorf("gauges not updated: %+v", m)
	}

	// Counters never roll backwards.
	m.Merge(WorkerMetrics{ErrorCount: 1, OutputBytes: 500})
	if m.ErrorCount != 2 || m.OutputBytes != 1000 {
		t.Errorf("counters rolled back: %+v", m)
	}
	m.Merge(WorkerMetrics{ErrorCount: 5, OutputBytes: 2000})
	if m.ErrorCount != 5 || m.OutputBytes != 2000 {
		t.Errorf("counters not advanced: %+v", m)
	}

	// Zero readings leave gauges alone.
	m.Merge(WorkerMetrics{})
	if m.MemoryBytes != 80 || m.CPUPercent != 10 {
		t.Errorf("zero merge clobbered gauges: %+v", m)
	}
}
