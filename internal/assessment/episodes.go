package assessment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/models"
	"github.com/navikt/isaktivitetskrav/internal/store"
)

// EpisodeService consumes episode facts from the inbound feed and keeps
// cases in step with them: it opens a case when an episode crosses the
// assessment threshold, recomputes the due date while the case is still NEW,
// and auto-resolves cases whose episode fell back below the threshold or
// went inactive.
type EpisodeService struct {
	cfg     Config
	cases   CaseStore
	service *Service
	now     func() time.Time
	logf    func(string, ...any)
}

type EpisodeOption func(*EpisodeService)

func WithEpisodeClock(now func() time.Time) EpisodeOption {
	return func(s *EpisodeService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithEpisodeLogf(logf func(string, ...any)) EpisodeOption {
	return func(s *EpisodeService) {
		if logf != nil {
			s.logf = logf
		}
	}
}

func NewEpisodeService(cfg Config, cases CaseStore, service *Service, options ...EpisodeOption) *EpisodeService {
	if cfg.DueWeeks <= 0 {
		cfg.DueWeeks = DefaultConfig().DueWeeks
	}
	s := &EpisodeService{
		cfg:     cfg,
		cases:   cases,
		service: service,
		now:     func() time.Time { return time.Now().UTC() },
		logf:    func(string, ...any) {},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// HandleEpisode processes one episode fact.
func (s *EpisodeService) HandleEpisode(ctx context.Context, ep models.Episode) error {
	if ep.SubjectID == "" {
		return fmt.Errorf("%w: episode without subject id", store.ErrValidation)
	}

	current, err := s.cases.CurrentBySubject(ctx, ep.SubjectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load current case for episode: %w", err)
	}

	if current == nil {
		return s.maybeOpenCase(ctx, ep)
	}

	// Once the first decision moved the case out of NEW, episode updates no
	// longer touch it: the due date is immutable and resolution is in the
	// case worker's hands.
	if current.Status != models.StatusNew {
		return nil
	}

	if s.resolved(ep) {
		if _, err := s.service.AutoFulfill(ctx, current); err != nil {
			return fmt.Errorf("auto-fulfil case %s: %w", current.ID, err)
		}
		s.logf("INFO: case %s auto-fulfilled, episode under threshold", current.ID)
		return nil
	}

	dueAt := DueDate(ep.Start, s.cfg.DueWeeks)
	if dueAt.Equal(current.AssessmentDueAt) {
		return nil
	}
	updated, err := s.cases.UpdateAssessmentDueAt(ctx, current.ID, dueAt)
	if err != nil {
		return fmt.Errorf("update due date for case %s: %w", current.ID, err)
	}
	if updated {
		s.logf("INFO: case %s assessment due date moved to %s", current.ID, dueAt.Format("2006-01-02"))
	}
	return nil
}

func (s *EpisodeService) maybeOpenCase(ctx context.Context, ep models.Episode) error {
	if !s.qualifies(ep) {
		return nil
	}

	var previousCaseID *string
	history, err := s.cases.HistoryBySubject(ctx, ep.SubjectID)
	if err != nil {
		return fmt.Errorf("load case history: %w", err)
	}
	if len(history) > 0 {
		previousCaseID = &history[0].ID
	}

	created, err := s.cases.Create(ctx, store.CreateCaseInput{
		SubjectID:       ep.SubjectID,
		AssessmentDueAt: DueDate(ep.Start, s.cfg.DueWeeks),
		PreviousCaseID:  previousCaseID,
	})
	if err != nil {
		// A concurrent feed delivery may have created the case already.
		if errors.Is(err, store.ErrOpenCaseExists) {
			return nil
		}
		return fmt.Errorf("create case for episode: %w", err)
	}
	s.logf("INFO: case %s opened, assessment due %s", created.ID, created.AssessmentDueAt.Format("2006-01-02"))
	return nil
}

// qualifies reports whether an episode warrants opening an assessment case:
// still active and at least the due-week threshold long.
func (s *EpisodeService) qualifies(ep models.Episode) bool {
	if ep.Inactive {
		return false
	}
	today := s.now()
	if ep.End.Before(time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)) {
		return false
	}
	return episodeWeeks(ep.Start, ep.End) >= s.cfg.DueWeeks
}

// resolved reports whether the episode no longer supports an open NEW case.
func (s *EpisodeService) resolved(ep models.Episode) bool {
	return ep.Inactive || episodeWeeks(ep.Start, ep.End) < s.cfg.DueWeeks
}
