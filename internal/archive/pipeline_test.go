package archive

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/notice"
	"github.com/navikt/isaktivitetskrav/internal/obs"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

type fakeNoticeSource struct {
	pending    []store.PendingNotice
	listErr    error
	archiveIDs map[string]int64
	setErr     error
}

func (s *fakeNoticeSource) ListPendingArchival(ctx context.Context) ([]store.PendingNotice, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.pending, nil
}

func (s *fakeNoticeSource) SetArchiveID(ctx context.Context, noticeID string, archiveID int64) error {
	if s.setErr != nil {
		return s.setErr
	}
	if s.archiveIDs == nil {
		s.archiveIDs = make(map[string]int64)
	}
	s.archiveIDs[noticeID] = archiveID
	return nil
}

type fakeNames struct {
	name string
	err  error
}

func (n *fakeNames) ResolveDisplayName(ctx context.Context, subjectID string) (string, error) {
	return n.name, n.err
}

type fakeBuilder struct {
	err error
}

func (b *fakeBuilder) Build(ctx context.Context, noticeType models.NoticeType, document []models.DocumentBlock, subjectName string) (notice.Rendered, error) {
	if b.err != nil {
		return notice.Rendered{}, b.err
	}
	return notice.Rendered{Document: document, PDF: []byte("%PDF-1.7")}, nil
}

type fakeArchiver struct {
	submissions []Submission
	results     map[string]int64
	errs        map[string]error
}

func (a *fakeArchiver) Submit(ctx context.Context, sub Submission) (int64, error) {
	a.submissions = append(a.submissions, sub)
	if err, ok := a.errs[sub.Reference]; ok {
		return 0, err
	}
	return a.results[sub.Reference], nil
}

func pendingItem(noticeID string) store.PendingNotice {
	return store.PendingNotice{
		Notice: models.Notice{
			ID:       noticeID,
			Type:     models.NoticeAdvanceWarning,
			Document: []models.DocumentBlock{{Kind: models.BlockParagraph, Texts: []string{"Varsel"}}},
		},
		CaseID:     "case-1",
		DecisionID: "decision-1",
		SubjectID:  "12345678901",
	}
}

func TestArchivalRunOnceJournalsPendingNotices(t *testing.T) {
	source := &fakeNoticeSource{pending: []store.PendingNotice{pendingItem("n1"), pendingItem("n2")}}
	archiver := &fakeArchiver{results: map[string]int64{"n1": 100, "n2": 200}}
	sink := obs.NewRegistry()

	p := NewPipeline(PipelineConfig{}, source, &fakeNames{name: "Ola Nordmann"}, &fakeBuilder{}, archiver,
		WithSink(sink),
	)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, obs.Result{Updated: 2}, res)
	require.Equal(t, int64(100), source.archiveIDs["n1"])
	require.Equal(t, int64(200), source.archiveIDs["n2"])

	require.Len(t, archiver.submissions, 2)
	require.Equal(t, "Forhåndsvarsel om stans av sykepenger", archiver.submissions[0].Title)
	require.Equal(t, "Ola Nordmann", archiver.submissions[0].SubjectName)
	require.Equal(t, []byte("%PDF-1.7"), archiver.submissions[0].PDF)

	snapshot := sink.Snapshot()
	require.Equal(t, int64(1), snapshot.Jobs[JobName].Runs)
	require.Equal(t, int64(2), snapshot.Jobs[JobName].UpdatedTotal)
}

func TestArchivalConflictAdoptsExistingID(t *testing.T) {
	source := &fakeNoticeSource{pending: []store.PendingNotice{pendingItem("n1")}}
	archiver := &fakeArchiver{errs: map[string]error{"n1": &ConflictError{ExistingID: 555}}}

	p := NewPipeline(PipelineConfig{}, source, &fakeNames{name: "Ola Nordmann"}, &fakeBuilder{}, archiver)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, obs.Result{Updated: 1}, res)
	require.Equal(t, int64(555), source.archiveIDs["n1"])
}

func TestArchivalFailedItemDoesNotAbortPass(t *testing.T) {
	source := &fakeNoticeSource{pending: []store.PendingNotice{pendingItem("n1"), pendingItem("n2")}}
	archiver := &fakeArchiver{
		results: map[string]int64{"n2": 200},
		errs:    map[string]error{"n1": ErrUnavailable},
	}

	var logged []string
	p := NewPipeline(PipelineConfig{}, source, &fakeNames{name: "Ola Nordmann"}, &fakeBuilder{}, archiver,
		WithLogf(func(format string, args ...any) {
			logged = append(logged, fmt.Sprintf(format, args...))
		}),
	)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, obs.Result{Updated: 1, Failed: 1}, res)

	_, recorded := source.archiveIDs["n1"]
	require.False(t, recorded)
	require.Equal(t, int64(200), source.archiveIDs["n2"])
	require.NotEmpty(t, logged)
}

func TestArchivalRetryDisabledMarksSentinel(t *testing.T) {
	source := &fakeNoticeSource{pending: []store.PendingNotice{pendingItem("n1")}}
	archiver := &fakeArchiver{errs: map[string]error{"n1": ErrUnavailable}}

	p := NewPipeline(PipelineConfig{RetryDisabled: true}, source, &fakeNames{name: "Ola Nordmann"}, &fakeBuilder{}, archiver)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, obs.Result{Updated: 1}, res)
	require.Equal(t, models.SentinelArchiveID, source.archiveIDs["n1"])
}

func TestArchivalRetryDisabledStillAdoptsConflictID(t *testing.T) {
	source := &fakeNoticeSource{pending: []store.PendingNotice{pendingItem("n1")}}
	archiver := &fakeArchiver{errs: map[string]error{"n1": &ConflictError{ExistingID: 321}}}

	p := NewPipeline(PipelineConfig{RetryDisabled: true}, source, &fakeNames{name: "Ola Nordmann"}, &fakeBuilder{}, archiver)

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(321), source.archiveIDs["n1"])
}

func TestArchivalNameResolutionFailureFailsItem(t *testing.T) {
	source := &fakeNoticeSource{pending: []store.PendingNotice{pendingItem("n1")}}
	archiver := &fakeArchiver{}

	p := NewPipeline(PipelineConfig{}, source, &fakeNames{err: errors.New("registry down")}, &fakeBuilder{}, archiver)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, obs.Result{Failed: 1}, res)
	require.Empty(t, archiver.submissions)
}

func TestArchivalBuildFailureFailsItem(t *testing.T) {
	source := &fakeNoticeSource{pending: []store.PendingNotice{pendingItem("n1")}}
	archiver := &fakeArchiver{}

	p := NewPipeline(PipelineConfig{}, source, &fakeNames{name: "Ola Nordmann"}, &fakeBuilder{err: notice.ErrRenderingFailed}, archiver)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, obs.Result{Failed: 1}, res)
	require.Empty(t, archiver.submissions)
}

func TestArchivalListFailureAbortsRun(t *testing.T) {
	source := &fakeNoticeSource{listErr: errors.New("db down")}
	p := NewPipeline(PipelineConfig{}, source, &fakeNames{}, &fakeBuilder{}, &fakeArchiver{})

	_, err := p.RunOnce(context.Background())
	require.Error(t, err)
}

func TestArchivalRecordFailureCountsAsFailed(t *testing.T) {
	source := &fakeNoticeSource{
		pending: []store.PendingNotice{pendingItem("n1")},
		setErr:  errors.New("db down"),
	}
	archiver := &fakeArchiver{results: map[string]int64{"n1": 100}}

	p := NewPipeline(PipelineConfig{}, source, &fakeNames{name: "Ola Nordmann"}, &fakeBuilder{}, archiver)

	res, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, obs.Result{Failed: 1}, res)
}
