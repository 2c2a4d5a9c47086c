// Package assessment implements the decision state machine for
// activity-requirement cases: which status transitions a case worker may
// make, which reason codes and documents they require, and the two
// system-initiated paths (automatic fulfilment and outdated-case closure).
package assessment

import (
	"time"

	"github.com/navikt/isaktivitetskrav/internal/models"
)

// SystemUser is the author identity recorded on system-initiated decisions.
const SystemUser = "system"

// transitions is the legal case-worker transition table. System-only targets
// (AUTO_FULFILLED, CLOSED) are deliberately absent; they are reachable only
// through AutoFulfill and SystemClose.
var transitions = map[models.CaseStatus]map[models.CaseStatus]bool{
	models.StatusNew: {
		models.StatusAwaiting:       true,
		models.StatusExempt:         true,
		models.StatusAdvanceWarning: true,
		models.StatusFulfilled:      true,
		models.StatusNotFulfilled:   true,
		models.StatusNotApplicable:  true,
	},
	models.StatusAwaiting: {
		models.StatusAwaiting:       true,
		models.StatusExempt:         true,
		models.StatusAdvanceWarning: true,
		models.StatusFulfilled:      true,
		models.StatusNotFulfilled:   true,
		models.StatusNotApplicable:  true,
	},
	models.StatusAdvanceWarning: {
		models.StatusRecommendStop: true,
		models.StatusFulfilled:     true,
		models.StatusExempt:        true,
		models.StatusNotApplicable: true,
	},
}

// CanTransition reports whether a case worker may move a case from one status
// to another.
func CanTransition(from, to models.CaseStatus) bool {
	return transitions[from][to]
}

// Config holds the tunable parts of the state machine.
type Config struct {
	// DueWeeks is the number of weeks of sick leave after which an
	// assessment falls due.
	DueWeeks int
	// ResponseDeadlineDays is the advance-warning response window.
	ResponseDeadlineDays int
	// RequireDocument controls which notice types insist on an explicit
	// document. Types mapped to false fall back to the decision rationale.
	RequireDocument map[models.NoticeType]bool
}

// DefaultConfig returns the production defaults: assessments fall due after
// eight weeks, advance warnings give three weeks to respond, and only the
// advance warning strictly requires an explicit document.
func DefaultConfig() Config {
	return Config{
		DueWeeks:             8,
		ResponseDeadlineDays: 21,
		RequireDocument: map[models.NoticeType]bool{
			models.NoticeAdvanceWarning: true,
		},
	}
}

// DecisionInput is a case worker's submitted decision.
type DecisionInput struct {
	Status    models.CaseStatus
	CreatedBy string
	Rationale string
	Reasons   []models.ReasonCode
	Document  []models.DocumentBlock
}

// NoticeDraft describes the notice a decision produces, before persistence.
type NoticeDraft struct {
	Type             models.NoticeType
	Document         []models.DocumentBlock
	ResponseDeadline *time.Time
}

// Applied is the validated outcome of a decision: the next case status, the
// decision deadline (advance warnings only) and the notice to create, if any.
type Applied struct {
	Status   models.CaseStatus
	Deadline *time.Time
	Notice   *NoticeDraft
}

// Machine validates and applies decisions.
type Machine struct {
	cfg Config
}

func NewMachine(cfg Config) *Machine {
	if cfg.DueWeeks <= 0 {
		cfg.DueWeeks = DefaultConfig().DueWeeks
	}
	if cfg.ResponseDeadlineDays <= 0 {
		cfg.ResponseDeadlineDays = DefaultConfig().ResponseDeadlineDays
	}
	if cfg.RequireDocument == nil {
		cfg.RequireDocument = DefaultConfig().RequireDocument
	}
	return &Machine{cfg: cfg}
}

// Apply validates a case worker's decision against the current case status
// and returns the resulting transition. It mutates nothing; persistence and
// event emission are the caller's responsibility.
func (m *Machine) Apply(c *models.Case, in DecisionInput, now time.Time) (Applied, error) {
	if !CanTransition(c.Status, in.Status) {
		return Applied{}, models.NewValidationError(
			models.InvalidTransition,
			"cannot transition case from %s to %s", c.Status, in.Status,
		)
	}

	for _, code := range in.Reasons {
		if !models.ValidReason(in.Status, code) {
			return Applied{}, models.NewValidationError(
				models.InvalidReason,
				"reason code %s is not valid for status %s", code, in.Status,
			)
		}
	}

	applied := Applied{Status: in.Status}

	noticeType, needsNotice := models.NoticeTypeFor(in.Status)
	if !needsNotice {
		return applied, nil
	}

	document := in.Document
	if documentEmpty(document) {
		if m.cfg.RequireDocument[noticeType] || in.Rationale == "" {
			return Applied{}, models.NewValidationError(
				models.EmptyDocument,
				"a non-empty document is required for status %s", in.Status,
			)
		}
		document = []models.DocumentBlock{
			{Kind: models.BlockParagraph, Texts: []string{in.Rationale}},
		}
	}

	draft := &NoticeDraft{Type: noticeType, Document: document}
	if noticeType == models.NoticeAdvanceWarning {
		deadline := now.UTC().AddDate(0, 0, m.cfg.ResponseDeadlineDays)
		draft.ResponseDeadline = &deadline
		applied.Deadline = &deadline
	}
	applied.Notice = draft

	return applied, nil
}

// AutoFulfill is the system-initiated fulfilment of a case that never needed
// a decision, reachable only from NEW. It bypasses reason and document
// validation.
func (m *Machine) AutoFulfill(c *models.Case) (Applied, error) {
	if c.Status != models.StatusNew {
		return Applied{}, models.NewValidationError(
			models.InvalidTransition,
			"cannot auto-fulfil case in status %s", c.Status,
		)
	}
	return Applied{Status: models.StatusAutoFulfilled}, nil
}

// SystemClose is the forced closure of an outdated case, the only
// externally-triggered transition. Legal from any non-final status.
func (m *Machine) SystemClose(c *models.Case) (Applied, error) {
	if c.Status.Final() {
		return Applied{}, models.NewValidationError(
			models.InvalidTransition,
			"cannot close case in final status %s", c.Status,
		)
	}
	return Applied{Status: models.StatusClosed}, nil
}

func documentEmpty(document []models.DocumentBlock) bool {
	for _, block := range document {
		for _, text := range block.Texts {
			if text != "" {
				return false
			}
		}
	}
	return true
}
