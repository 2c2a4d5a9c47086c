package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/navikt/isaktivitetskrav/internal/models"
)

const noticeColumns = `
	id,
	decision_id,
	type,
	document,
	response_deadline,
	archive_id,
	published_at,
	expiry_published_at,
	created_at,
	updated_at
`

type CreateNoticeInput struct {
	Type             models.NoticeType
	Document         []models.DocumentBlock
	ResponseDeadline *time.Time
}

// PendingNotice is a notice joined with the identifiers the pipelines need to
// archive and publish it.
type PendingNotice struct {
	Notice     models.Notice
	CaseID     string
	DecisionID string
	SubjectID  string
}

// NoticeStore serves the pipeline queries and the single-shot conditional
// updates on notices.
type NoticeStore struct {
	db *sql.DB
}

func NewNoticeStore(db *sql.DB) *NoticeStore {
	return &NoticeStore{db: db}
}

const pendingNoticeSelect = `
	SELECT
		n.id,
		n.decision_id,
		n.type,
		n.document,
		n.response_deadline,
		n.archive_id,
		n.published_at,
		n.expiry_published_at,
		n.created_at,
		n.updated_at,
		d.case_id,
		c.subject_id
	FROM notices n
	JOIN decisions d ON d.id = n.decision_id
	JOIN cases c ON c.id = d.case_id
`

// ListPendingArchival returns notices that have not been archived yet, oldest
// first. Notices with an archive id set, including the failure sentinel, are
// excluded, which is what makes re-running the archival pass a no-op for
// already handled notices.
func (s *NoticeStore) ListPendingArchival(ctx context.Context) ([]PendingNotice, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("notice store is not configured")
	}
	return s.listPending(ctx, pendingNoticeSelect+`
		WHERE n.archive_id IS NULL
		ORDER BY n.created_at ASC`)
}

// ListPendingPublication returns archived notices that have not been
// published, oldest first.
func (s *NoticeStore) ListPendingPublication(ctx context.Context) ([]PendingNotice, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("notice store is not configured")
	}
	return s.listPending(ctx, pendingNoticeSelect+`
		WHERE n.archive_id IS NOT NULL AND n.published_at IS NULL
		ORDER BY n.created_at ASC`)
}

// ListPendingExpiry returns advance-warning notices whose response deadline
// has passed without an expiry event having been recorded.
func (s *NoticeStore) ListPendingExpiry(ctx context.Context, today time.Time) ([]PendingNotice, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("notice store is not configured")
	}
	// response_deadline is a DATE; binding a mid-day timestamp would match a
	// deadline of today, which has not passed yet. Compare date against date.
	return s.listPending(ctx, pendingNoticeSelect+`
		WHERE n.type = $1
		  AND n.response_deadline < $2::date
		  AND n.expiry_published_at IS NULL
		ORDER BY n.response_deadline ASC`,
		models.NoticeAdvanceWarning,
		today.UTC().Format("2006-01-02"),
	)
}

// SetArchiveID records the archive id for a notice, once. The null guard
// makes a replayed write a no-op instead of an overwrite.
func (s *NoticeStore) SetArchiveID(ctx context.Context, noticeID string, archiveID int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("notice store is not configured")
	}
	if !uuidRegex.MatchString(noticeID) {
		return fmt.Errorf("%w: invalid notice id", ErrValidation)
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE notices
		 SET archive_id = $2, updated_at = NOW()
		 WHERE id = $1 AND archive_id IS NULL`,
		noticeID,
		archiveID,
	)
	if err != nil {
		return fmt.Errorf("failed to set archive id: %w", err)
	}
	return nil
}

// SetPublishedAt marks a notice published, once.
func (s *NoticeStore) SetPublishedAt(ctx context.Context, noticeID string, publishedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("notice store is not configured")
	}
	if !uuidRegex.MatchString(noticeID) {
		return fmt.Errorf("%w: invalid notice id", ErrValidation)
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE notices
		 SET published_at = $2, updated_at = NOW()
		 WHERE id = $1 AND published_at IS NULL`,
		noticeID,
		publishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set published_at: %w", err)
	}
	return nil
}

// SetExpiryPublishedAt records that the one-time expiry event for an
// advance-warning notice was acknowledged by the bus.
func (s *NoticeStore) SetExpiryPublishedAt(ctx context.Context, noticeID string, publishedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("notice store is not configured")
	}
	if !uuidRegex.MatchString(noticeID) {
		return fmt.Errorf("%w: invalid notice id", ErrValidation)
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE notices
		 SET expiry_published_at = $2, updated_at = NOW()
		 WHERE id = $1 AND expiry_published_at IS NULL`,
		noticeID,
		publishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set expiry_published_at: %w", err)
	}
	return nil
}

// GetByDecisionID loads the notice owned by a decision.
func (s *NoticeStore) GetByDecisionID(ctx context.Context, decisionID string) (*models.Notice, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("notice store is not configured")
	}
	if !uuidRegex.MatchString(decisionID) {
		return nil, fmt.Errorf("%w: invalid decision id", ErrValidation)
	}

	n, err := scanNotice(s.db.QueryRowContext(
		ctx,
		`SELECT`+noticeColumns+`FROM notices WHERE decision_id = $1`,
		decisionID,
	))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load notice: %w", err)
	}
	return &n, nil
}

func (s *NoticeStore) listPending(ctx context.Context, query string, args ...any) ([]PendingNotice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending notices: %w", err)
	}
	defer rows.Close()

	var out []PendingNotice
	for rows.Next() {
		p, scanErr := scanPendingNotice(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan pending notice: %w", scanErr)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending notices: %w", err)
	}
	return out, nil
}

func insertNotice(ctx context.Context, tx *sql.Tx, decisionID string, input CreateNoticeInput) (*models.Notice, error) {
	document, err := json.Marshal(input.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notice document: %w", err)
	}

	n, err := scanNotice(tx.QueryRowContext(
		ctx,
		`INSERT INTO notices (decision_id, type, document, response_deadline)
		 VALUES ($1, $2, $3, $4)
		 RETURNING`+noticeColumns,
		decisionID,
		input.Type,
		document,
		nullableTime(input.ResponseDeadline),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert notice: %w", err)
	}
	return &n, nil
}

func scanNotice(scanner interface{ Scan(...any) error }) (models.Notice, error) {
	var n models.Notice
	var document []byte
	var responseDeadline sql.NullTime
	var archiveID sql.NullInt64
	var publishedAt sql.NullTime
	var expiryPublishedAt sql.NullTime
	if err := scanner.Scan(
		&n.ID,
		&n.DecisionID,
		&n.Type,
		&document,
		&responseDeadline,
		&archiveID,
		&publishedAt,
		&expiryPublishedAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return models.Notice{}, err
	}
	if err := json.Unmarshal(document, &n.Document); err != nil {
		return models.Notice{}, fmt.Errorf("failed to decode notice document: %w", err)
	}
	if responseDeadline.Valid {
		t := responseDeadline.Time
		n.ResponseDeadline = &t
	}
	if archiveID.Valid {
		v := archiveID.Int64
		n.ArchiveID = &v
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		n.PublishedAt = &t
	}
	if expiryPublishedAt.Valid {
		t := expiryPublishedAt.Time
		n.ExpiryPublishedAt = &t
	}
	return n, nil
}

func scanPendingNotice(scanner interface{ Scan(...any) error }) (PendingNotice, error) {
	var p PendingNotice
	var document []byte
	var responseDeadline sql.NullTime
	var archiveID sql.NullInt64
	var publishedAt sql.NullTime
	var expiryPublishedAt sql.NullTime
	if err := scanner.Scan(
		&p.Notice.ID,
		&p.Notice.DecisionID,
		&p.Notice.Type,
		&document,
		&responseDeadline,
		&archiveID,
		&publishedAt,
		&expiryPublishedAt,
		&p.Notice.CreatedAt,
		&p.Notice.UpdatedAt,
		&p.CaseID,
		&p.SubjectID,
	); err != nil {
		return PendingNotice{}, err
	}
	if err := json.Unmarshal(document, &p.Notice.Document); err != nil {
		return PendingNotice{}, fmt.Errorf("failed to decode notice document: %w", err)
	}
	if responseDeadline.Valid {
		t := responseDeadline.Time
		p.Notice.ResponseDeadline = &t
	}
	if archiveID.Valid {
		v := archiveID.Int64
		p.Notice.ArchiveID = &v
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		p.Notice.PublishedAt = &t
	}
	if expiryPublishedAt.Valid {
		t := expiryPublishedAt.Time
		p.Notice.ExpiryPublishedAt = &t
	}
	p.DecisionID = p.Notice.DecisionID
	return p, nil
}
