package assessment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/publish"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

// fakeCaseStore implements CaseStore in memory for service tests.
type fakeCaseStore struct {
	cases map[string]*models.Case

	created     []store.CreateCaseInput
	applied     []store.ApplyDecisionInput
	dueUpdates  map[string]time.Time
	createErr   error
	applyErr    error
	decisionSeq int
}

func newFakeCaseStore(cases ...*models.Case) *fakeCaseStore {
	s := &fakeCaseStore{
		cases:      make(map[string]*models.Case),
		dueUpdates: make(map[string]time.Time),
	}
	for _, c := range cases {
		s.cases[c.ID] = c
	}
	return s
}

func (s *fakeCaseStore) Create(ctx context.Context, input store.CreateCaseInput) (*models.Case, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, input)
	c := &models.Case{
		ID:              fmt.Sprintf("case-%d", len(s.created)),
		SubjectID:       input.SubjectID,
		Status:          models.StatusNew,
		AssessmentDueAt: input.AssessmentDueAt,
		PreviousCaseID:  input.PreviousCaseID,
	}
	s.cases[c.ID] = c
	return c, nil
}

func (s *fakeCaseStore) GetByID(ctx context.Context, caseID string) (*models.Case, error) {
	c, ok := s.cases[caseID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (s *fakeCaseStore) CurrentBySubject(ctx context.Context, subjectID string) (*models.Case, error) {
	for _, c := range s.cases {
		if c.SubjectID == subjectID && !c.Status.Final() {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeCaseStore) HistoryBySubject(ctx context.Context, subjectID string) ([]models.Case, error) {
	var history []models.Case
	for _, c := range s.cases {
		if c.SubjectID == subjectID && c.Status.Final() {
			history = append(history, *c)
		}
	}
	return history, nil
}

func (s *fakeCaseStore) UpdateAssessmentDueAt(ctx context.Context, caseID string, dueAt time.Time) (bool, error) {
	c, ok := s.cases[caseID]
	if !ok || c.Status != models.StatusNew {
		return false, nil
	}
	c.AssessmentDueAt = dueAt
	s.dueUpdates[caseID] = dueAt
	return true, nil
}

func (s *fakeCaseStore) ApplyDecision(ctx context.Context, input store.ApplyDecisionInput) (*models.Decision, *models.Notice, error) {
	if s.applyErr != nil {
		return nil, nil, s.applyErr
	}
	c, ok := s.cases[input.CaseID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if c.Status != input.ExpectedStatus {
		return nil, nil, store.ErrStaleCase
	}
	s.applied = append(s.applied, input)
	c.Status = input.Status

	s.decisionSeq++
	decision := &models.Decision{
		ID:        fmt.Sprintf("decision-%d", s.decisionSeq),
		CaseID:    c.ID,
		Status:    input.Status,
		CreatedBy: input.CreatedBy,
		Rationale: input.Rationale,
		Reasons:   input.Reasons,
		Deadline:  input.Deadline,
		CreatedAt: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}

	var n *models.Notice
	if input.Notice != nil {
		n = &models.Notice{
			ID:               fmt.Sprintf("notice-%d", s.decisionSeq),
			DecisionID:       decision.ID,
			Type:             input.Notice.Type,
			Document:         input.Notice.Document,
			ResponseDeadline: input.Notice.ResponseDeadline,
		}
	}
	return decision, n, nil
}

// fakeProducer records decision-changed events.
type fakeProducer struct {
	events []publish.DecisionChangedEvent
	err    error
}

func (p *fakeProducer) DecisionChanged(ctx context.Context, ev publish.DecisionChangedEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func newTestService(cases *fakeCaseStore, producer *fakeProducer) *Service {
	return NewService(NewMachine(DefaultConfig()), cases, producer,
		WithServiceClock(func() time.Time { return machineNow }),
	)
}

func TestSubmitDecisionPersistsAndEmits(t *testing.T) {
	c := newCase(models.StatusNew)
	cases := newFakeCaseStore(c)
	producer := &fakeProducer{}
	svc := newTestService(cases, producer)

	decision, err := svc.SubmitDecision(context.Background(), c.ID, DecisionInput{
		Status:    models.StatusAwaiting,
		CreatedBy: "Z999999",
		Rationale: "waiting on employer follow-up plan",
		Reasons:   []models.ReasonCode{models.ReasonFollowUpPlanEmployer},
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaiting, decision.Status)
	require.Equal(t, models.StatusAwaiting, c.Status)

	require.Len(t, cases.applied, 1)
	require.Equal(t, models.StatusNew, cases.applied[0].ExpectedStatus)
	require.Nil(t, cases.applied[0].Notice)

	require.Len(t, producer.events, 1)
	ev := producer.events[0]
	require.Equal(t, c.SubjectID, ev.SubjectID)
	require.Equal(t, c.ID, ev.CaseID)
	require.Equal(t, decision.ID, ev.DecisionID)
	require.Equal(t, models.StatusAwaiting, ev.Status)
	require.Equal(t, "Z999999", ev.CreatedBy)
}

func TestSubmitDecisionCreatesNoticeInput(t *testing.T) {
	c := newCase(models.StatusNew)
	cases := newFakeCaseStore(c)
	svc := newTestService(cases, &fakeProducer{})

	_, err := svc.SubmitDecision(context.Background(), c.ID, DecisionInput{
		Status:    models.StatusAdvanceWarning,
		CreatedBy: "Z999999",
		Document:  []models.DocumentBlock{{Kind: models.BlockParagraph, Texts: []string{"Varsel"}}},
	})
	require.NoError(t, err)

	require.Len(t, cases.applied, 1)
	noticeInput := cases.applied[0].Notice
	require.NotNil(t, noticeInput)
	require.Equal(t, models.NoticeAdvanceWarning, noticeInput.Type)
	require.NotNil(t, noticeInput.ResponseDeadline)
	require.Equal(t, machineNow.AddDate(0, 0, 21), *noticeInput.ResponseDeadline)
}

func TestSubmitDecisionValidationErrorDoesNotPersist(t *testing.T) {
	c := newCase(models.StatusFulfilled)
	cases := newFakeCaseStore(c)
	producer := &fakeProducer{}
	svc := newTestService(cases, producer)

	_, err := svc.SubmitDecision(context.Background(), c.ID, DecisionInput{
		Status:    models.StatusAwaiting,
		CreatedBy: "Z999999",
	})
	require.Error(t, err)

	var validationErr *models.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Empty(t, cases.applied)
	require.Empty(t, producer.events)
}

func TestSubmitDecisionUnknownCase(t *testing.T) {
	svc := newTestService(newFakeCaseStore(), &fakeProducer{})

	_, err := svc.SubmitDecision(context.Background(), "missing", DecisionInput{
		Status:    models.StatusAwaiting,
		CreatedBy: "Z999999",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmitDecisionStaleCase(t *testing.T) {
	c := newCase(models.StatusNew)
	cases := newFakeCaseStore(c)
	cases.applyErr = store.ErrStaleCase
	svc := newTestService(cases, &fakeProducer{})

	_, err := svc.SubmitDecision(context.Background(), c.ID, DecisionInput{
		Status:    models.StatusAwaiting,
		CreatedBy: "Z999999",
	})
	require.ErrorIs(t, err, store.ErrStaleCase)
}

func TestPublishFailureDoesNotFailDecision(t *testing.T) {
	c := newCase(models.StatusNew)
	cases := newFakeCaseStore(c)
	producer := &fakeProducer{err: errors.New("bus down")}

	var logged []string
	svc := NewService(NewMachine(DefaultConfig()), cases, producer,
		WithServiceClock(func() time.Time { return machineNow }),
		WithServiceLogf(func(format string, args ...any) {
			logged = append(logged, fmt.Sprintf(format, args...))
		}),
	)

	decision, err := svc.SubmitDecision(context.Background(), c.ID, DecisionInput{
		Status:    models.StatusAwaiting,
		CreatedBy: "Z999999",
	})
	require.NoError(t, err)
	require.NotNil(t, decision)
	require.Equal(t, models.StatusAwaiting, c.Status)
	require.NotEmpty(t, logged)
}

func TestAutoFulfillRecordsSystemUser(t *testing.T) {
	c := newCase(models.StatusNew)
	cases := newFakeCaseStore(c)
	producer := &fakeProducer{}
	svc := newTestService(cases, producer)

	decision, err := svc.AutoFulfill(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, models.StatusAutoFulfilled, decision.Status)
	require.Equal(t, SystemUser, decision.CreatedBy)
	require.Len(t, producer.events, 1)
	require.Equal(t, SystemUser, producer.events[0].CreatedBy)
}

func TestSystemCloseEmitsOrdinaryEvent(t *testing.T) {
	c := newCase(models.StatusAwaiting)
	cases := newFakeCaseStore(c)
	producer := &fakeProducer{}
	svc := newTestService(cases, producer)

	decision, err := svc.SystemClose(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, models.StatusClosed, decision.Status)
	require.Equal(t, models.StatusClosed, producer.events[0].Status)
}
