// Package closer force-closes assessment cases that were never decided
// before their due date fell too far in the past.
package closer

import (
	"context"
	"fmt"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/assessment"
	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/obs"
)

// JobName identifies the outdated-case closer in logs and counters.
const JobName = "case-closer"

const defaultBatchLimit = 100

// CaseSource lists outdated cases. *store.CaseStore satisfies it.
type CaseSource interface {
	ListOutdated(ctx context.Context, cutoff time.Time, limit int) ([]models.Case, error)
}

// CaseCloser runs the system-closure transition. *assessment.Service
// satisfies it.
type CaseCloser interface {
	SystemClose(ctx context.Context, c *models.Case) (*models.Decision, error)
}

// Config tunes the closer.
type Config struct {
	// CutoffMonths is how many months past its due date a still-open case
	// may linger before it is closed.
	CutoffMonths int
	BatchLimit   int
}

// Pipeline closes outdated cases through the state machine, so downstream
// consumers see an ordinary decision-changed event and cannot distinguish
// closure origin.
type Pipeline struct {
	cfg    Config
	cases  CaseSource
	closer CaseCloser
	sink   obs.Sink
	logf   func(string, ...any)
	now    func() time.Time
}

type Option func(*Pipeline)

func WithSink(sink obs.Sink) Option {
	return func(p *Pipeline) {
		if sink != nil {
			p.sink = sink
		}
	}
}

func WithLogf(logf func(string, ...any)) Option {
	return func(p *Pipeline) {
		if logf != nil {
			p.logf = logf
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPipeline(cfg Config, cases CaseSource, closer CaseCloser, options ...Option) *Pipeline {
	if cfg.CutoffMonths <= 0 {
		cfg.CutoffMonths = 6
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	p := &Pipeline{
		cfg:    cfg,
		cases:  cases,
		closer: closer,
		sink:   obs.NopSink{},
		logf:   func(string, ...any) {},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *Pipeline) Name() string { return JobName }

// RunOnce closes every case whose due date precedes the cutoff.
func (p *Pipeline) RunOnce(ctx context.Context) (obs.Result, error) {
	cutoff := assessment.OutdatedCutoff(p.now(), p.cfg.CutoffMonths)
	outdated, err := p.cases.ListOutdated(ctx, cutoff, p.cfg.BatchLimit)
	if err != nil {
		return obs.Result{}, fmt.Errorf("list outdated cases: %w", err)
	}

	var res obs.Result
	for i := range outdated {
		c := outdated[i]
		if _, err := p.closer.SystemClose(ctx, &c); err != nil {
			res.Failed++
			p.logf("ERROR: closing outdated case %s failed: %v", c.ID, err)
			continue
		}
		res.Updated++
	}

	p.sink.RecordRun(JobName, res)
	if res.Updated > 0 || res.Failed > 0 {
		p.logf("INFO: closer pass done: %d closed, %d failed", res.Updated, res.Failed)
	}
	return res, nil
}
