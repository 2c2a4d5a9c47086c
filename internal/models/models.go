// Package models defines the domain records for activity-requirement
// assessment: cases, decisions, and notices, together with the status and
// reason-code vocabulary they are validated against.
package models

import (
	"fmt"
	"time"
)

// CaseStatus is the assessment status of a case. Decisions carry the same
// vocabulary minus StatusNew.
type CaseStatus string

const (
	StatusNew            CaseStatus = "NEW"
	StatusAwaiting       CaseStatus = "AWAITING"
	StatusExempt         CaseStatus = "EXEMPT"
	StatusAdvanceWarning CaseStatus = "ADVANCE_WARNING"
	StatusRecommendStop  CaseStatus = "RECOMMEND_STOP"
	StatusFulfilled      CaseStatus = "FULFILLED"
	StatusAutoFulfilled  CaseStatus = "AUTO_FULFILLED"
	StatusNotFulfilled   CaseStatus = "NOT_FULFILLED"
	StatusNotApplicable  CaseStatus = "NOT_APPLICABLE"
	StatusClosed         CaseStatus = "CLOSED"
)

// Final reports whether no further decisions are accepted on a case in this
// status.
func (s CaseStatus) Final() bool {
	switch s {
	case StatusNew, StatusAwaiting, StatusAdvanceWarning:
		return false
	}
	return true
}

// OpenStatuses lists the non-final statuses, in the form the store needs for
// "current case" and outdated-case queries.
func OpenStatuses() []string {
	return []string{string(StatusNew), string(StatusAwaiting), string(StatusAdvanceWarning)}
}

// ReasonCode is a structured justification attached to a decision. The set of
// valid codes is a closed function of the decision status.
type ReasonCode string

const (
	ReasonFollowUpPlanEmployer ReasonCode = "OPPFOLGINGSPLAN_ARBEIDSGIVER"
	ReasonInfoPractitioner     ReasonCode = "INFORMASJON_BEHANDLER"
	ReasonInfoSubject          ReasonCode = "INFORMASJON_SYKMELDT"
	ReasonDiscussWithROL       ReasonCode = "DROFTES_MED_ROL"
	ReasonDiscussInternally    ReasonCode = "DROFTES_INTERNT"
	ReasonOther                ReasonCode = "ANNET"

	ReasonMedicalGrounds          ReasonCode = "MEDISINSKE_GRUNNER"
	ReasonAccommodationImpossible ReasonCode = "TILRETTELEGGING_IKKE_MULIG"
	ReasonSeafarersAbroad         ReasonCode = "SJOMENN_UTENRIKS"

	ReasonBackAtWork ReasonCode = "FRISKMELDT"
	ReasonGraded     ReasonCode = "GRADERT"
	ReasonMeasures   ReasonCode = "TILTAK"
)

// reasonTable is the closed status → allowed-reason-codes mapping. Statuses
// absent from the table accept no reason codes at all.
var reasonTable = map[CaseStatus]map[ReasonCode]bool{
	StatusAwaiting: {
		ReasonFollowUpPlanEmployer: true,
		ReasonInfoPractitioner:     true,
		ReasonInfoSubject:          true,
		ReasonDiscussWithROL:       true,
		ReasonDiscussInternally:    true,
		ReasonOther:                true,
	},
	StatusExempt: {
		ReasonMedicalGrounds:          true,
		ReasonAccommodationImpossible: true,
		ReasonSeafarersAbroad:         true,
	},
	StatusFulfilled: {
		ReasonBackAtWork: true,
		ReasonGraded:     true,
		ReasonMeasures:   true,
	},
}

// ValidReason reports whether code is allowed for decisions with the given
// status.
func ValidReason(status CaseStatus, code ReasonCode) bool {
	return reasonTable[status][code]
}

// NoticeType identifies which formal notice a decision produces, and thereby
// which renderer template applies.
type NoticeType string

const (
	NoticeAdvanceWarning NoticeType = "ADVANCE_WARNING"
	NoticeExemption      NoticeType = "EXEMPTION"
	NoticeFulfilled      NoticeType = "FULFILLED"
	NoticeNotApplicable  NoticeType = "NOT_APPLICABLE"
	NoticeRecommendStop  NoticeType = "RECOMMEND_STOP"
)

// noticeTypes maps decision statuses that produce a formal notice to the
// notice type. Statuses absent from the map produce no notice.
var noticeTypes = map[CaseStatus]NoticeType{
	StatusAdvanceWarning: NoticeAdvanceWarning,
	StatusExempt:         NoticeExemption,
	StatusFulfilled:      NoticeFulfilled,
	StatusNotApplicable:  NoticeNotApplicable,
	StatusRecommendStop:  NoticeRecommendStop,
}

// NoticeTypeFor returns the notice type produced by a decision with the given
// status, if any.
func NoticeTypeFor(status CaseStatus) (NoticeType, bool) {
	t, ok := noticeTypes[status]
	return t, ok
}

// Block kinds for notice documents.
const (
	BlockHeading   = "HEADING"
	BlockParagraph = "PARAGRAPH"
	BlockLink      = "LINK"
)

// DocumentBlock is one typed element of a notice document.
type DocumentBlock struct {
	Kind  string   `json:"kind"`
	Texts []string `json:"texts"`
	Href  *string  `json:"href,omitempty"`
}

// Case is one cycle of activity-requirement assessment for a subject.
type Case struct {
	ID              string     `json:"id"`
	SubjectID       string     `json:"subject_id"`
	Status          CaseStatus `json:"status"`
	AssessmentDueAt time.Time  `json:"assessment_due_at"`
	PreviousCaseID  *string    `json:"previous_case_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Decisions is ordered most recent first, append-only.
	Decisions []Decision `json:"decisions,omitempty"`
}

// Decision is a ruling on a case, created atomically with the case status
// transition it caused and never mutated afterwards.
type Decision struct {
	ID        string       `json:"id"`
	CaseID    string       `json:"case_id"`
	Status    CaseStatus   `json:"status"`
	CreatedBy string       `json:"created_by"`
	Rationale string       `json:"rationale"`
	Reasons   []ReasonCode `json:"reasons"`
	Deadline  *time.Time   `json:"deadline,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// SentinelArchiveID marks a notice whose archival was abandoned under the
// retry-disabled escape hatch. It never collides with a real archive id.
const SentinelArchiveID int64 = -1

// Notice is the formal document produced by a decision, subject to archival,
// publication and (for advance warnings) expiry.
type Notice struct {
	ID                string          `json:"id"`
	DecisionID        string          `json:"decision_id"`
	Type              NoticeType      `json:"type"`
	Document          []DocumentBlock `json:"document"`
	ResponseDeadline  *time.Time      `json:"response_deadline,omitempty"`
	ArchiveID         *int64          `json:"archive_id,omitempty"`
	PublishedAt       *time.Time      `json:"published_at,omitempty"`
	ExpiryPublishedAt *time.Time      `json:"expiry_published_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Validation error kinds.
const (
	InvalidTransition = "INVALID_TRANSITION"
	InvalidReason     = "INVALID_REASON"
	EmptyDocument     = "EMPTY_DOCUMENT"
)

// ValidationError rejects a decision input synchronously; it is never retried.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Episode is a read-only fact about the subject's current sick-leave episode,
// consumed from the inbound feed.
type Episode struct {
	SubjectID    string    `json:"subject_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	SickDayCount int       `json:"sick_day_count"`
	Inactive     bool      `json:"inactive"`
}
