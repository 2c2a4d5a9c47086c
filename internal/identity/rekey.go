package identity

import (
	"context"
	"errors"
	"fmt"
)

// ErrInactiveIdent is the consistency violation raised when an
// identity-change event names a new identifier that the identity service
// does not report as active. Case data is left untouched.
var ErrInactiveIdent = errors.New("new subject identifier is not active")

// ChangeEvent is one event from the inbound identity-change feed.
type ChangeEvent struct {
	OldSubjectIDs []string `json:"old_subject_ids"`
	NewSubjectID  string   `json:"new_subject_id"`
}

// CaseRekeyer relabels cases from old subject identifiers to a new one.
// *store.CaseStore satisfies it.
type CaseRekeyer interface {
	RekeySubject(ctx context.Context, oldIDs []string, newID string) (int64, error)
}

// ActiveChecker verifies an identifier against the identity source of truth.
// *Client satisfies it.
type ActiveChecker interface {
	IsActive(ctx context.Context, subjectID string) (bool, error)
}

// RekeyService applies identity-change events to the case store, but only
// after independently confirming the new identifier is the active one. A
// stale or incorrect event must never relabel cases.
type RekeyService struct {
	cases   CaseRekeyer
	checker ActiveChecker
	logf    func(string, ...any)
}

func NewRekeyService(cases CaseRekeyer, checker ActiveChecker, logf func(string, ...any)) *RekeyService {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &RekeyService{cases: cases, checker: checker, logf: logf}
}

// HandleChange re-keys all cases owned by the old identifiers. Returns the
// number of cases updated.
func (s *RekeyService) HandleChange(ctx context.Context, ev ChangeEvent) (int64, error) {
	if ev.NewSubjectID == "" || len(ev.OldSubjectIDs) == 0 {
		return 0, nil
	}

	active, err := s.checker.IsActive(ctx, ev.NewSubjectID)
	if err != nil {
		return 0, fmt.Errorf("verify new subject identifier: %w", err)
	}
	if !active {
		s.logf("WARN: identity change skipped, new identifier not active; manual follow-up needed")
		return 0, ErrInactiveIdent
	}

	updated, err := s.cases.RekeySubject(ctx, ev.OldSubjectIDs, ev.NewSubjectID)
	if err != nil {
		return 0, fmt.Errorf("rekey cases: %w", err)
	}
	if updated > 0 {
		s.logf("INFO: re-keyed %d case(s) to new subject identifier", updated)
	}
	return updated, nil
}
