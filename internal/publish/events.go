// Package publish carries assessment outcomes to downstream consumers: the
// outbound event bus client, the typed event producers, and the publication
// and expiry pipelines.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/navikt/isaktivitetskrav/internal/models"
)

// Outbound topics. Consumers are idempotent, keyed by decision or notice id.
const (
	TopicDecisionChanged = "assessment-decision-changed"
	TopicNoticeIssued    = "assessment-notice-issued"
	TopicNoticeExpired   = "assessment-notice-expired"
)

// Bus is the outbound event bus: publish returns once the bus has
// acknowledged the event.
type Bus interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// DecisionChangedEvent is emitted after every committed case status
// transition, system-initiated or not.
type DecisionChangedEvent struct {
	SubjectID  string              `json:"subject_id"`
	CaseID     string              `json:"case_id"`
	DecisionID string              `json:"decision_id"`
	Status     models.CaseStatus   `json:"status"`
	Reasons    []models.ReasonCode `json:"reasons"`
	CreatedBy  string              `json:"created_by"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// NoticeIssuedEvent is emitted once per archived notice.
type NoticeIssuedEvent struct {
	SubjectID        string                 `json:"subject_id"`
	CaseID           string                 `json:"case_id"`
	DecisionID       string                 `json:"decision_id"`
	NoticeID         string                 `json:"notice_id"`
	Type             models.NoticeType      `json:"type"`
	Document         []models.DocumentBlock `json:"document"`
	ResponseDeadline *time.Time             `json:"response_deadline,omitempty"`
	OccurredAt       time.Time              `json:"occurred_at"`
}

// NoticeExpiredEvent is emitted at most once per advance-warning notice whose
// response deadline passed unanswered.
type NoticeExpiredEvent struct {
	SubjectID        string            `json:"subject_id"`
	CaseID           string            `json:"case_id"`
	NoticeID         string            `json:"notice_id"`
	Type             models.NoticeType `json:"type"`
	ResponseDeadline *time.Time        `json:"response_deadline,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

// SubjectKey derives the partition key for subject-ordered topics. Events for
// the same subject always share a key, without exposing the identifier.
func SubjectKey(subjectID string) string {
	sum := sha256.Sum256([]byte(subjectID))
	return hex.EncodeToString(sum[:16])
}

// RandomKey returns a partition key for topics where ordering is irrelevant.
func RandomKey() string {
	return uuid.NewString()
}

// Producer is the typed wrapper around the bus.
type Producer struct {
	bus Bus
	now func() time.Time
}

func NewProducer(bus Bus) *Producer {
	return &Producer{bus: bus, now: func() time.Time { return time.Now().UTC() }}
}

func (p *Producer) DecisionChanged(ctx context.Context, ev DecisionChangedEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now()
	}
	return p.bus.Publish(ctx, TopicDecisionChanged, SubjectKey(ev.SubjectID), ev)
}

func (p *Producer) NoticeIssued(ctx context.Context, ev NoticeIssuedEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now()
	}
	return p.bus.Publish(ctx, TopicNoticeIssued, SubjectKey(ev.SubjectID), ev)
}

func (p *Producer) NoticeExpired(ctx context.Context, ev NoticeExpiredEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.now()
	}
	return p.bus.Publish(ctx, TopicNoticeExpired, RandomKey(), ev)
}
