package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/navikt/isaktivitetskrav/internal/models"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ErrStaleCase is returned when a decision is applied against a case whose
// status changed since it was read.
var ErrStaleCase = errors.New("case status changed concurrently")

const caseColumns = `
	id,
	subject_id,
	status,
	assessment_due_at,
	previous_case_id,
	created_at,
	updated_at
`

const decisionColumns = `
	id,
	case_id,
	status,
	created_by,
	rationale,
	reasons,
	deadline,
	created_at
`

// CaseStore persists cases and their append-only decision lists.
type CaseStore struct {
	db *sql.DB
}

func NewCaseStore(db *sql.DB) *CaseStore {
	return &CaseStore{db: db}
}

type CreateCaseInput struct {
	SubjectID       string
	AssessmentDueAt time.Time
	PreviousCaseID  *string
}

type ApplyDecisionInput struct {
	CaseID         string
	ExpectedStatus models.CaseStatus
	Status         models.CaseStatus
	CreatedBy      string
	Rationale      string
	Reasons        []models.ReasonCode
	Deadline       *time.Time
	Notice         *CreateNoticeInput
}

// Create inserts a new case in status NEW. The partial unique index on open
// cases enforces the one-open-case-per-subject invariant; a violation is
// surfaced as ErrOpenCaseExists.
func (s *CaseStore) Create(ctx context.Context, input CreateCaseInput) (*models.Case, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store is not configured")
	}
	subjectID := strings.TrimSpace(input.SubjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrValidation)
	}
	if input.AssessmentDueAt.IsZero() {
		return nil, fmt.Errorf("%w: assessment_due_at is required", ErrValidation)
	}
	if input.PreviousCaseID != nil && !uuidRegex.MatchString(*input.PreviousCaseID) {
		return nil, fmt.Errorf("%w: invalid previous_case_id", ErrValidation)
	}

	c, err := scanCase(s.db.QueryRowContext(
		ctx,
		`INSERT INTO cases (subject_id, assessment_due_at, previous_case_id)
		 VALUES ($1, $2, $3)
		 RETURNING`+caseColumns,
		subjectID,
		input.AssessmentDueAt.UTC(),
		nullableString(input.PreviousCaseID),
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrOpenCaseExists
		}
		return nil, fmt.Errorf("failed to create case: %w", err)
	}
	return &c, nil
}

// GetByID loads a case with its decisions, most recent first.
func (s *CaseStore) GetByID(ctx context.Context, caseID string) (*models.Case, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store is not configured")
	}
	if !uuidRegex.MatchString(caseID) {
		return nil, fmt.Errorf("%w: invalid case id", ErrValidation)
	}

	c, err := scanCase(s.db.QueryRowContext(
		ctx,
		`SELECT`+caseColumns+`FROM cases WHERE id = $1`,
		caseID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load case: %w", err)
	}

	if err := s.loadDecisions(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CurrentBySubject returns the subject's case in a non-final status, with
// decisions loaded. ErrNotFound when the subject has no open case.
func (s *CaseStore) CurrentBySubject(ctx context.Context, subjectID string) (*models.Case, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store is not configured")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrValidation)
	}

	c, err := scanCase(s.db.QueryRowContext(
		ctx,
		`SELECT`+caseColumns+`
		 FROM cases
		 WHERE subject_id = $1 AND status = ANY($2)`,
		subjectID,
		pq.Array(models.OpenStatuses()),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load current case: %w", err)
	}

	if err := s.loadDecisions(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// HistoryBySubject returns the subject's cases in a final status, newest
// first, with decisions loaded.
func (s *CaseStore) HistoryBySubject(ctx context.Context, subjectID string) ([]models.Case, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store is not configured")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject_id is required", ErrValidation)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT`+caseColumns+`
		 FROM cases
		 WHERE subject_id = $1 AND NOT (status = ANY($2))
		 ORDER BY created_at DESC`,
		subjectID,
		pq.Array(models.OpenStatuses()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list case history: %w", err)
	}
	defer rows.Close()

	var out []models.Case
	for rows.Next() {
		c, scanErr := scanCase(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan case: %w", scanErr)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read case history: %w", err)
	}

	for i := range out {
		if err := s.loadDecisions(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateAssessmentDueAt recomputes the due date of a case that is still in
// status NEW. Once any decision exists the status has left NEW and the due
// date is immutable, which the WHERE clause enforces. Returns whether a row
// was updated.
func (s *CaseStore) UpdateAssessmentDueAt(ctx context.Context, caseID string, dueAt time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("case store is not configured")
	}
	if !uuidRegex.MatchString(caseID) {
		return false, fmt.Errorf("%w: invalid case id", ErrValidation)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE cases
		 SET assessment_due_at = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3`,
		caseID,
		dueAt.UTC(),
		models.StatusNew,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update assessment due date: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return affected > 0, nil
}

// ApplyDecision performs the case status transition, the decision insert and
// the optional notice insert in one transaction. A reader never observes a
// case whose status reflects a decision that is not yet visible.
func (s *CaseStore) ApplyDecision(ctx context.Context, input ApplyDecisionInput) (*models.Decision, *models.Notice, error) {
	if s == nil || s.db == nil {
		return nil, nil, fmt.Errorf("case store is not configured")
	}
	if !uuidRegex.MatchString(input.CaseID) {
		return nil, nil, fmt.Errorf("%w: invalid case id", ErrValidation)
	}
	if input.Status == "" || input.Status == models.StatusNew {
		return nil, nil, fmt.Errorf("%w: invalid decision status %q", ErrValidation, input.Status)
	}
	if strings.TrimSpace(input.CreatedBy) == "" {
		return nil, nil, fmt.Errorf("%w: created_by is required", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE cases SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		input.CaseID,
		input.Status,
		input.ExpectedStatus,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update case status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read status update result: %w", err)
	}
	if affected == 0 {
		return nil, nil, ErrStaleCase
	}

	reasons := make([]string, 0, len(input.Reasons))
	for _, r := range input.Reasons {
		reasons = append(reasons, string(r))
	}

	decision, err := scanDecision(tx.QueryRowContext(
		ctx,
		`INSERT INTO decisions (case_id, status, created_by, rationale, reasons, deadline)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING`+decisionColumns,
		input.CaseID,
		input.Status,
		strings.TrimSpace(input.CreatedBy),
		input.Rationale,
		pq.Array(reasons),
		nullableTime(input.Deadline),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert decision: %w", err)
	}

	var notice *models.Notice
	if input.Notice != nil {
		n, noticeErr := insertNotice(ctx, tx, decision.ID, *input.Notice)
		if noticeErr != nil {
			return nil, nil, noticeErr
		}
		notice = n
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit decision: %w", err)
	}
	return &decision, notice, nil
}

// ListOutdated returns cases in a non-final status whose assessment due date
// precedes the cutoff.
func (s *CaseStore) ListOutdated(ctx context.Context, cutoff time.Time, limit int) ([]models.Case, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store is not configured")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT`+caseColumns+`
		 FROM cases
		 WHERE status = ANY($1) AND assessment_due_at < $2
		 ORDER BY assessment_due_at ASC
		 LIMIT $3`,
		pq.Array(models.OpenStatuses()),
		cutoff.UTC(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outdated cases: %w", err)
	}
	defer rows.Close()

	var out []models.Case
	for rows.Next() {
		c, scanErr := scanCase(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan outdated case: %w", scanErr)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outdated cases: %w", err)
	}
	return out, nil
}

// RekeySubject relabels every case owned by any of the old subject ids to the
// new id. Returns the number of cases updated.
func (s *CaseStore) RekeySubject(ctx context.Context, oldIDs []string, newID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("case store is not configured")
	}
	newID = strings.TrimSpace(newID)
	if newID == "" {
		return 0, fmt.Errorf("%w: new subject id is required", ErrValidation)
	}
	trimmed := make([]string, 0, len(oldIDs))
	for _, id := range oldIDs {
		if id = strings.TrimSpace(id); id != "" {
			trimmed = append(trimmed, id)
		}
	}
	if len(trimmed) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE cases SET subject_id = $1, updated_at = NOW() WHERE subject_id = ANY($2)`,
		newID,
		pq.Array(trimmed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to rekey cases: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rekey result: %w", err)
	}
	return affected, nil
}

func (s *CaseStore) loadDecisions(ctx context.Context, c *models.Case) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT`+decisionColumns+`
		 FROM decisions
		 WHERE case_id = $1
		 ORDER BY created_at DESC`,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, scanErr := scanDecision(rows)
		if scanErr != nil {
			return fmt.Errorf("failed to scan decision: %w", scanErr)
		}
		c.Decisions = append(c.Decisions, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read decisions: %w", err)
	}
	return nil
}

func scanCase(scanner interface{ Scan(...any) error }) (models.Case, error) {
	var c models.Case
	var previousCaseID sql.NullString
	if err := scanner.Scan(
		&c.ID,
		&c.SubjectID,
		&c.Status,
		&c.AssessmentDueAt,
		&previousCaseID,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return models.Case{}, err
	}
	if previousCaseID.Valid {
		c.PreviousCaseID = &previousCaseID.String
	}
	return c, nil
}

func scanDecision(scanner interface{ Scan(...any) error }) (models.Decision, error) {
	var d models.Decision
	var reasons pq.StringArray
	var deadline sql.NullTime
	if err := scanner.Scan(
		&d.ID,
		&d.CaseID,
		&d.Status,
		&d.CreatedBy,
		&d.Rationale,
		&reasons,
		&deadline,
		&d.CreatedAt,
	); err != nil {
		return models.Decision{}, err
	}
	d.Reasons = make([]models.ReasonCode, 0, len(reasons))
	for _, r := range reasons {
		d.Reasons = append(d.Reasons, models.ReasonCode(r))
	}
	if deadline.Valid {
		t := deadline.Time
		d.Deadline = &t
	}
	return d, nil
}
