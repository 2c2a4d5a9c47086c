package assessment

import (
	"context"
	"fmt"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/publish"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

// CaseStore is the persistence surface the assessment service needs.
// *store.CaseStore satisfies it.
type CaseStore interface {
	Create(ctx context.Context, input store.CreateCaseInput) (*models.Case, error)
	GetByID(ctx context.Context, caseID string) (*models.Case, error)
	CurrentBySubject(ctx context.Context, subjectID string) (*models.Case, error)
	HistoryBySubject(ctx context.Context, subjectID string) ([]models.Case, error)
	UpdateAssessmentDueAt(ctx context.Context, caseID string, dueAt time.Time) (bool, error)
	ApplyDecision(ctx context.Context, input store.ApplyDecisionInput) (*models.Decision, *models.Notice, error)
}

// EventProducer emits decision-changed events after the store transaction
// commits. *publish.Producer satisfies it.
type EventProducer interface {
	DecisionChanged(ctx context.Context, ev publish.DecisionChangedEvent) error
}

// Service applies decisions to cases: it runs the state machine, persists the
// transition atomically, and emits the decision-changed event after commit.
type Service struct {
	machine  *Machine
	cases    CaseStore
	producer EventProducer
	now      func() time.Time
	logf     func(string, ...any)
}

type ServiceOption func(*Service)

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithServiceLogf(logf func(string, ...any)) ServiceOption {
	return func(s *Service) {
		if logf != nil {
			s.logf = logf
		}
	}
}

func NewService(machine *Machine, cases CaseStore, producer EventProducer, options ...ServiceOption) *Service {
	s := &Service{
		machine:  machine,
		cases:    cases,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
		logf:     func(string, ...any) {},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// SubmitDecision applies a case worker's decision. Validation errors are
// returned to the caller unwrapped; they are never retried.
func (s *Service) SubmitDecision(ctx context.Context, caseID string, in DecisionInput) (*models.Decision, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	applied, err := s.machine.Apply(c, in, s.now())
	if err != nil {
		return nil, err
	}

	return s.persist(ctx, c, applied, in.CreatedBy, in.Rationale, in.Reasons)
}

// AutoFulfill resolves a NEW case without human involvement.
func (s *Service) AutoFulfill(ctx context.Context, c *models.Case) (*models.Decision, error) {
	applied, err := s.machine.AutoFulfill(c)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, c, applied, SystemUser, "", nil)
}

// SystemClose force-closes an outdated case. Downstream consumers receive
// the same decision-changed event as for a human transition.
func (s *Service) SystemClose(ctx context.Context, c *models.Case) (*models.Decision, error) {
	applied, err := s.machine.SystemClose(c)
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, c, applied, SystemUser, "", nil)
}

func (s *Service) persist(
	ctx context.Context,
	c *models.Case,
	applied Applied,
	createdBy, rationale string,
	reasons []models.ReasonCode,
) (*models.Decision, error) {
	input := store.ApplyDecisionInput{
		CaseID:         c.ID,
		ExpectedStatus: c.Status,
		Status:         applied.Status,
		CreatedBy:      createdBy,
		Rationale:      rationale,
		Reasons:        reasons,
		Deadline:       applied.Deadline,
	}
	if applied.Notice != nil {
		input.Notice = &store.CreateNoticeInput{
			Type:             applied.Notice.Type,
			Document:         applied.Notice.Document,
			ResponseDeadline: applied.Notice.ResponseDeadline,
		}
	}

	decision, _, err := s.cases.ApplyDecision(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("apply decision to case %s: %w", c.ID, err)
	}

	// Emission after commit. A crash in the window between commit and
	// publish loses the event; that at-least-once gap is accepted, so a
	// publish failure here is logged, not propagated.
	ev := publish.DecisionChangedEvent{
		SubjectID:  c.SubjectID,
		CaseID:     c.ID,
		DecisionID: decision.ID,
		Status:     decision.Status,
		Reasons:    decision.Reasons,
		CreatedBy:  decision.CreatedBy,
		OccurredAt: decision.CreatedAt,
	}
	if err := s.producer.DecisionChanged(ctx, ev); err != nil {
		s.logf("ERROR: decision-changed event for decision %s not published: %v", decision.ID, err)
	}

	return decision, nil
}
