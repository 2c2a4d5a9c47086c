package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/notice"
	"github.com/navikt/isaktivitetskrav/internal/obs"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

// JobName identifies the archival pipeline in logs and counters.
const JobName = "archival"

// titles maps notice types to the archive document title.
var titles = map[models.NoticeType]string{
	models.NoticeAdvanceWarning: "Forhåndsvarsel om stans av sykepenger",
	models.NoticeExemption:      "Unntak fra aktivitetskravet",
	models.NoticeFulfilled:      "Aktivitetskravet er oppfylt",
	models.NoticeNotApplicable:  "Aktivitetskravet er ikke aktuelt",
	models.NoticeRecommendStop:  "Innstilling om stans av sykepenger",
}

// NoticeSource is the store surface the pipeline needs. *store.NoticeStore
// satisfies it.
type NoticeSource interface {
	ListPendingArchival(ctx context.Context) ([]store.PendingNotice, error)
	SetArchiveID(ctx context.Context, noticeID string, archiveID int64) error
}

// NameResolver resolves the subject's display name. *identity.Client
// satisfies it.
type NameResolver interface {
	ResolveDisplayName(ctx context.Context, subjectID string) (string, error)
}

// DocumentBuilder renders the notice document. *notice.Builder satisfies it.
type DocumentBuilder interface {
	Build(ctx context.Context, noticeType models.NoticeType, document []models.DocumentBlock, subjectName string) (notice.Rendered, error)
}

// Archiver submits documents to the system of record. *Client satisfies it.
type Archiver interface {
	Submit(ctx context.Context, sub Submission) (int64, error)
}

// PipelineConfig tunes the archival pipeline.
type PipelineConfig struct {
	// RetryDisabled marks notices whose submission keeps failing with the
	// sentinel archive id instead of leaving them pending forever. Meant
	// for environments where the archive system rejects indefinitely, not
	// as a general recovery strategy.
	RetryDisabled bool
}

// Pipeline finds unarchived notices and journals them. Safe under
// at-least-once re-delivery: the archive system deduplicates on the notice
// id reference and answers with the existing archive id, which the pipeline
// adopts as success.
type Pipeline struct {
	cfg      PipelineConfig
	notices  NoticeSource
	names    NameResolver
	builder  DocumentBuilder
	archiver Archiver
	sink     obs.Sink
	logf     func(string, ...any)
	now      func() time.Time
}

type PipelineOption func(*Pipeline)

func WithLogf(logf func(string, ...any)) PipelineOption {
	return func(p *Pipeline) {
		if logf != nil {
			p.logf = logf
		}
	}
}

func WithSink(sink obs.Sink) PipelineOption {
	return func(p *Pipeline) {
		if sink != nil {
			p.sink = sink
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPipeline(
	cfg PipelineConfig,
	notices NoticeSource,
	names NameResolver,
	builder DocumentBuilder,
	archiver Archiver,
	options ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		notices:  notices,
		names:    names,
		builder:  builder,
		archiver: archiver,
		sink:     obs.NopSink{},
		logf:     func(string, ...any) {},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(p)
	}
	return p
}

func (p *Pipeline) Name() string { return JobName }

// RunOnce processes every pending notice. A failing item is counted and
// skipped; it never aborts the rest of the pass.
func (p *Pipeline) RunOnce(ctx context.Context) (obs.Result, error) {
	pending, err := p.notices.ListPendingArchival(ctx)
	if err != nil {
		return obs.Result{}, fmt.Errorf("list notices pending archival: %w", err)
	}

	var res obs.Result
	for _, item := range pending {
		if err := p.archiveOne(ctx, item); err != nil {
			res.Failed++
			p.logf("ERROR: archival of notice %s failed: %v", item.Notice.ID, err)
			continue
		}
		res.Updated++
	}

	p.sink.RecordRun(JobName, res)
	if res.Updated > 0 || res.Failed > 0 {
		p.logf("INFO: archival pass done: %d archived, %d failed", res.Updated, res.Failed)
	}
	return res, nil
}

func (p *Pipeline) archiveOne(ctx context.Context, item store.PendingNotice) error {
	name, err := p.names.ResolveDisplayName(ctx, item.SubjectID)
	if err != nil {
		return fmt.Errorf("resolve subject display name: %w", err)
	}

	rendered, err := p.builder.Build(ctx, item.Notice.Type, item.Notice.Document, name)
	if err != nil {
		return fmt.Errorf("build notice document: %w", err)
	}

	archiveID, err := p.archiver.Submit(ctx, Submission{
		Reference:   item.Notice.ID,
		Title:       titles[item.Notice.Type],
		SubjectID:   item.SubjectID,
		SubjectName: name,
		Type:        item.Notice.Type,
		Document:    rendered.Document,
		PDF:         rendered.PDF,
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			// The reference was journalled on an earlier pass whose
			// confirmation we never recorded. Adopt the existing id.
			archiveID = conflict.ExistingID
		} else if p.cfg.RetryDisabled {
			p.logf("ERROR: giving up on notice %s, marking with sentinel archive id: %v", item.Notice.ID, err)
			archiveID = models.SentinelArchiveID
		} else {
			return fmt.Errorf("submit to archive: %w", err)
		}
	}

	if err := p.notices.SetArchiveID(ctx, item.Notice.ID, archiveID); err != nil {
		return fmt.Errorf("record archive id %d: %w", archiveID, err)
	}
	return nil
}
