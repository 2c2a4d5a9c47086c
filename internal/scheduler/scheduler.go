// Package scheduler runs the pipelines on fixed schedules behind a
// single-leader gate, so side-effecting jobs execute on exactly one replica.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/navikt/isaktivitetskrav/internal/obs"
)

const defaultRunTimeout = 5 * time.Minute

// Job is one periodic pipeline pass.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) (obs.Result, error)
}

// LeaderChecker answers whether this replica currently leads. It is
// consulted before every run; leadership can change between runs, so the
// answer is never cached.
type LeaderChecker interface {
	IsLeader(ctx context.Context) (bool, error)
}

// AlwaysLeader is a LeaderChecker for single-replica deployments and tests.
type AlwaysLeader struct{}

func (AlwaysLeader) IsLeader(context.Context) (bool, error) { return true, nil }

// Scheduler owns the cron engine and the leader gate around every job.
type Scheduler struct {
	cronEngine *cron.Cron
	leader     LeaderChecker
	sink       obs.Sink
	logf       func(string, ...any)
	runTimeout time.Duration
}

type Option func(*Scheduler)

func WithSink(sink obs.Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithLogf(logf func(string, ...any)) Option {
	return func(s *Scheduler) {
		if logf != nil {
			s.logf = logf
		}
	}
}

func WithRunTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.runTimeout = timeout
		}
	}
}

func New(leader LeaderChecker, options ...Option) *Scheduler {
	s := &Scheduler{
		cronEngine: cron.New(cron.WithLocation(time.UTC)),
		leader:     leader,
		sink:       obs.NopSink{},
		logf:       func(string, ...any) {},
		runTimeout: defaultRunTimeout,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Register schedules a job. The spec is a cron expression or an "@every"
// interval; with "@every" the first run waits one full interval, which gives
// each job its initial delay.
func (s *Scheduler) Register(spec string, job Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if _, err := s.cronEngine.AddFunc(spec, func() { s.runGated(job) }); err != nil {
		return fmt.Errorf("schedule job %s with spec %q: %w", job.Name(), spec, err)
	}
	return nil
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.cronEngine.Start()
}

// Stop halts scheduling and waits for in-flight runs to finish their current
// item, bounded by the given context. A submission already sent must not end
// up cancelled mid-flight with its result unrecorded.
func (s *Scheduler) Stop(ctx context.Context) error {
	drained := s.cronEngine.Stop()
	select {
	case <-drained.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) runGated(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	isLeader, err := s.leader.IsLeader(ctx)
	if err != nil {
		s.logf("ERROR: leader check for job %s failed, skipping run: %v", job.Name(), err)
		s.sink.RecordSkipped(job.Name())
		return
	}
	if !isLeader {
		s.sink.RecordSkipped(job.Name())
		return
	}

	if _, err := job.RunOnce(ctx); err != nil {
		// Errors never escape the job boundary.
		s.logf("ERROR: job %s run failed: %v", job.Name(), err)
	}
}
