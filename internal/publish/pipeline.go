package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/obs"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

// PublicationJobName identifies the publication pipeline in logs and
// counters.
const PublicationJobName = "publication"

// NoticeSource is the store surface the publication pipeline needs.
// *store.NoticeStore satisfies it.
type NoticeSource interface {
	ListPendingPublication(ctx context.Context) ([]store.PendingNotice, error)
	SetPublishedAt(ctx context.Context, noticeID string, publishedAt time.Time) error
}

// NoticeProducer emits notice-issued events. *Producer satisfies it.
type NoticeProducer interface {
	NoticeIssued(ctx context.Context, ev NoticeIssuedEvent) error
}

// Pipeline publishes archived notices downstream. Nothing is persisted
// before the bus acknowledges, so a crash mid-publish only causes a
// redelivery, which consumers handle idempotently keyed by notice id.
type Pipeline struct {
	notices  NoticeSource
	producer NoticeProducer
	sink     obs.Sink
	logf     func(string, ...any)
	now      func() time.Time
}

type PipelineOption func(*options)

type options struct {
	sink obs.Sink
	logf func(string, ...any)
	now  func() time.Time
}

func WithSink(sink obs.Sink) PipelineOption {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

func WithLogf(logf func(string, ...any)) PipelineOption {
	return func(o *options) {
		if logf != nil {
			o.logf = logf
		}
	}
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []PipelineOption) options {
	o := options{
		sink: obs.NopSink{},
		logf: func(string, ...any) {},
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewPipeline(notices NoticeSource, producer NoticeProducer, opts ...PipelineOption) *Pipeline {
	o := newOptions(opts)
	return &Pipeline{
		notices:  notices,
		producer: producer,
		sink:     o.sink,
		logf:     o.logf,
		now:      o.now,
	}
}

func (p *Pipeline) Name() string { return PublicationJobName }

// RunOnce publishes every archived-but-unpublished notice. Per-item publish
// failures are counted and retried on the next pass.
func (p *Pipeline) RunOnce(ctx context.Context) (obs.Result, error) {
	pending, err := p.notices.ListPendingPublication(ctx)
	if err != nil {
		return obs.Result{}, fmt.Errorf("list notices pending publication: %w", err)
	}

	var res obs.Result
	for _, item := range pending {
		ev := NoticeIssuedEvent{
			SubjectID:        item.SubjectID,
			CaseID:           item.CaseID,
			DecisionID:       item.DecisionID,
			NoticeID:         item.Notice.ID,
			Type:             item.Notice.Type,
			Document:         item.Notice.Document,
			ResponseDeadline: item.Notice.ResponseDeadline,
			OccurredAt:       p.now(),
		}
		if err := p.producer.NoticeIssued(ctx, ev); err != nil {
			res.Failed++
			p.logf("ERROR: publication of notice %s failed: %v", item.Notice.ID, err)
			continue
		}
		if err := p.notices.SetPublishedAt(ctx, item.Notice.ID, p.now()); err != nil {
			// Published but not recorded: the next pass redelivers, which
			// consumers deduplicate on notice id.
			res.Failed++
			p.logf("ERROR: notice %s published but not marked: %v", item.Notice.ID, err)
			continue
		}
		res.Updated++
	}

	p.sink.RecordRun(PublicationJobName, res)
	if res.Updated > 0 || res.Failed > 0 {
		p.logf("INFO: publication pass done: %d published, %d failed", res.Updated, res.Failed)
	}
	return res, nil
}
