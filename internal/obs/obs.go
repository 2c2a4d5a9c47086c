// Package obs collects pipeline run counters through a sink injected into
// each pipeline, so core logic never reaches into process-global state.
package obs

import (
	"sync"
	"time"
)

// Result is the outcome of one pipeline pass.
type Result struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Sink receives pipeline run outcomes.
type Sink interface {
	RecordRun(job string, res Result)
	RecordSkipped(job string)
}

// JobCounters is the accumulated view of one job's runs.
type JobCounters struct {
	Runs         int64     `json:"runs"`
	Skipped      int64     `json:"skipped"`
	UpdatedTotal int64     `json:"updated_total"`
	FailedTotal  int64     `json:"failed_total"`
	LastRunAt    time.Time `json:"last_run_at"`
}

// Snapshot is a point-in-time copy of all job counters.
type Snapshot struct {
	Jobs        map[string]JobCounters `json:"jobs"`
	GeneratedAt time.Time              `json:"generated_at"`
}

// Registry is the Sink used in production.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobCounters
	now  func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*JobCounters),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) RecordRun(job string, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counters := r.counters(job)
	counters.Runs++
	counters.UpdatedTotal += int64(res.Updated)
	counters.FailedTotal += int64(res.Failed)
	counters.LastRunAt = r.now()
}

func (r *Registry) RecordSkipped(job string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters(job).Skipped++
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := Snapshot{
		Jobs:        make(map[string]JobCounters, len(r.jobs)),
		GeneratedAt: r.now(),
	}
	for name, counters := range r.jobs {
		snapshot.Jobs[name] = *counters
	}
	return snapshot
}

func (r *Registry) counters(job string) *JobCounters {
	counters, ok := r.jobs[job]
	if !ok {
		counters = &JobCounters{}
		r.jobs[job] = counters
	}
	return counters
}

// NopSink discards everything; it keeps tests and optional wiring simple.
type NopSink struct{}

func (NopSink) RecordRun(string, Result) {}
func (NopSink) RecordSkipped(string)     {}
