package pipeline

import (
	"sync"
	"time"
)

// StageStats summarizes the observed durations of one pipeline stage.
type StageStats struct {
	Count int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Mean returns the average stage duration.
func (s StageStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// stageTimer collects per-stage wall-clock timings (preprocess, estimate,
// resolve) across the run. Safe for concurrent use by per-cell workers.
type stageTimer struct {
	mu     sync.Mutex
	stages map[string]*StageStats
}

func newStageTimer() *stageTimer {
	return &stageTimer{stages: map[string]*StageStats{}}
}

// observe records one duration for a stage.
func (t *stageTimer) observe(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stages[stage]
	if !ok {
		s = &StageStats{Min: d, Max: d}
		t.stages[stage] = s
	}
	s.Count++
	s.Total += d
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

// snapshot copies the accumulated stats.
func (t *stageTimer) snapshot() map[string]StageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]StageStats, len(t.stages))
	for name, s := range t.stages {
		out[name] = *s
	}
	return out
}
