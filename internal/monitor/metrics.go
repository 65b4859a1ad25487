package monitor

import (
	"time"

	"github.com/ShayCichocki/conclave/pkg/models"
)

// Summary aggregates worker records for one job, for status displays.
type Summary struct {
	// Total is the number of workers spawned for the job.
	Total int
	// Live is the number still executing.
	Live int
	// ByState counts workers per lifecycle state.
	ByState map[models.WorkerState]int
	// Errors is the total number of errors reported across workers.
	Errors int
	// MemoryBytes is the sum of the latest memory readings of live workers.
	MemoryBytes int64
	// OutputBytes is the total output volume across all workers.
	OutputBytes int64
	// OldestLive is the spawn time of the longest-running live worker.
	OldestLive time.Time
}

// Summarize builds a Summary from the monitor's current records.
func (m *Monitor) Summarize() Summary {
	s := Summary{ByState: make(map[models.WorkerState]int)}
	for _, rec := range m.Records() {
		s.Total++
		s.ByState[rec.State]++
		s.Errors += len(rec.Errors)
		s.OutputBytes += rec.Metrics.OutputBytes
		if !rec.State.Finished() {
			s.Live++
			s.MemoryBytes += rec.Metrics.MemoryBytes
			if s.OldestLive.IsZero() || rec.SpawnedAt.Before(s.OldestLive) {
				s.OldestLive = rec.SpawnedAt
			}
		}
	}
	return s
}
