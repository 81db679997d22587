package scheduler

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/fentz26/taskhive/internal/models"
)

// latencyCeiling bounds the latency histogram; longer latencies are clamped.
const latencyCeiling = 24 * time.Hour

// StatusSummary aggregates task counts, worker liveness and timing metrics.
//
// Latency is measured from the final lease grant to completion over Done
// tasks. Makespan runs from the first lease grant to the last completion once
// nothing is queued or leased; while work is outstanding it reports the time
// elapsed since the first grant.
func (s *Scheduler) StatusSummary() models.StatusSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	counts := s.tasks.Counts()
	sum := models.StatusSummary{
		Total:    s.tasks.Len(),
		Queued:   counts[models.TaskStateQueued],
		Leased:   counts[models.TaskStateLeased],
		Done:     counts[models.TaskStateDone],
		Failed:   counts[models.TaskStateFailed],
		Workers:  s.workersLocked(),
		Requeues: s.requeues,
	}
	for _, w := range sum.Workers {
		if w.Alive {
			sum.AliveWorkers++
		}
	}

	hist := hdrhistogram.New(1, int64(latencyCeiling/time.Microsecond), 3)
	var total time.Duration
	var n int
	s.tasks.each(func(t *models.Task) {
		if t.State != models.TaskStateDone {
			return
		}
		d, ok := t.Latency()
		if !ok {
			return
		}
		total += d
		n++
		us := int64(d / time.Microsecond)
		if us < 1 {
			us = 1
		}
		if us > hist.HighestTrackableValue() {
			us = hist.HighestTrackableValue()
		}
		_ = hist.RecordValue(us)
	})
	if n > 0 {
		sum.AvgLatencySec = (total / time.Duration(n)).Seconds()
		sum.LatencyP50Sec = microsToSeconds(hist.ValueAtQuantile(50))
		sum.LatencyP95Sec = microsToSeconds(hist.ValueAtQuantile(95))
		sum.LatencyMaxSec = microsToSeconds(hist.Max())
	}

	sum.MakespanSec = s.makespanLocked(now, sum.Queued+sum.Leased > 0).Seconds()

	if sum.Total > 0 {
		sum.SuccessRate = float64(sum.Done) / float64(sum.Total) * 100
		sum.FailureRate = float64(sum.Failed) / float64(sum.Total) * 100
	}
	return sum
}

func (s *Scheduler) makespanLocked(now time.Time, outstanding bool) time.Duration {
	if s.firstLeaseAt.IsZero() {
		return 0
	}
	if outstanding {
		return now.Sub(s.firstLeaseAt)
	}
	if s.lastCompletionAt.IsZero() {
		return 0
	}
	return s.lastCompletionAt.Sub(s.firstLeaseAt)
}

func microsToSeconds(us int64) float64 {
	return float64(us) / float64(time.Second/time.Microsecond)
}
