package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/obs"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

// ExpiryJobName identifies the expiry detector in logs and counters.
const ExpiryJobName = "expiry"

// ExpirySource is the store surface the expiry detector needs.
// *store.NoticeStore satisfies it.
type ExpirySource interface {
	ListPendingExpiry(ctx context.Context, today time.Time) ([]store.PendingNotice, error)
	SetExpiryPublishedAt(ctx context.Context, noticeID string, publishedAt time.Time) error
}

// ExpiryProducer emits notice-expired events. *Producer satisfies it.
type ExpiryProducer interface {
	NoticeExpired(ctx context.Context, ev NoticeExpiredEvent) error
}

// ExpiryDetector fires the one-time expiry signal for advance-warning
// notices whose response deadline has passed. The flag is written only after
// the bus acknowledgment; once set, the notice is excluded from every later
// pass, so a second successful expiry event is impossible by construction.
type ExpiryDetector struct {
	notices  ExpirySource
	producer ExpiryProducer
	sink     obs.Sink
	logf     func(string, ...any)
	now      func() time.Time
}

func NewExpiryDetector(notices ExpirySource, producer ExpiryProducer, opts ...PipelineOption) *ExpiryDetector {
	o := newOptions(opts)
	return &ExpiryDetector{
		notices:  notices,
		producer: producer,
		sink:     o.sink,
		logf:     o.logf,
		now:      o.now,
	}
}

func (d *ExpiryDetector) Name() string { return ExpiryJobName }

// RunOnce emits an expiry event for every overdue advance warning without
// one. A flag write that fails after the ack leaves the expiry outstanding;
// it is retried, not skipped, which is the accepted at-least-once behavior.
func (d *ExpiryDetector) RunOnce(ctx context.Context) (obs.Result, error) {
	// A notice expires only once its deadline day has fully passed, so the
	// query gets the start of today, never a mid-day timestamp.
	pending, err := d.notices.ListPendingExpiry(ctx, startOfDayUTC(d.now()))
	if err != nil {
		return obs.Result{}, fmt.Errorf("list notices pending expiry: %w", err)
	}

	var res obs.Result
	for _, item := range pending {
		ev := NoticeExpiredEvent{
			SubjectID:        item.SubjectID,
			CaseID:           item.CaseID,
			NoticeID:         item.Notice.ID,
			Type:             item.Notice.Type,
			ResponseDeadline: item.Notice.ResponseDeadline,
			OccurredAt:       d.now(),
		}
		if err := d.producer.NoticeExpired(ctx, ev); err != nil {
			res.Failed++
			d.logf("ERROR: expiry event for notice %s failed: %v", item.Notice.ID, err)
			continue
		}
		if err := d.notices.SetExpiryPublishedAt(ctx, item.Notice.ID, d.now()); err != nil {
			res.Failed++
			d.logf("ERROR: expiry of notice %s published but not marked: %v", item.Notice.ID, err)
			continue
		}
		res.Updated++
	}

	d.sink.RecordRun(ExpiryJobName, res)
	if res.Updated > 0 || res.Failed > 0 {
		d.logf("INFO: expiry pass done: %d expired, %d failed", res.Updated, res.Failed)
	}
	return res, nil
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
