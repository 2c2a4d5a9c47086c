package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/navikt/isaktivitetskrav/internal/models"
)

func createTestNotice(t *testing.T, cases *CaseStore, subjectID string, noticeType models.NoticeType, responseDeadline *time.Time) (*models.Case, *models.Notice) {
	t.Helper()
	c := createTestCase(t, cases, subjectID)

	status := models.StatusExempt
	if noticeType == models.NoticeAdvanceWarning {
		status = models.StatusAdvanceWarning
	}
	_, notice := applyTestDecision(t, cases, c, ApplyDecisionInput{
		Status:   status,
		Deadline: responseDeadline,
		Notice: &CreateNoticeInput{
			Type: noticeType,
			Document: []models.DocumentBlock{
				{Kind: models.BlockParagraph, Texts: []string{"Vedtak om aktivitetskrav."}},
			},
			ResponseDeadline: responseDeadline,
		},
	})
	require.NotNil(t, notice)
	return c, notice
}

func TestListPendingArchival(t *testing.T) {
	db := setupTestDatabase(t)
	cases := NewCaseStore(db)
	notices := NewNoticeStore(db)

	c, notice := createTestNotice(t, cases, "12345678901", models.NoticeExemption, nil)

	pending, err := notices.ListPendingArchival(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, notice.ID, pending[0].Notice.ID)
	require.Equal(t, c.ID, pending[0].CaseID)
	require.Equal(t, "12345678901", pending[0].SubjectID)
	require.Equal(t, notice.DecisionID, pending[0].DecisionID)

	require.NoError(t, notices.SetArchiveID(context.Background(), notice.ID, 424242))

	pending, err = notices.ListPendingArchival(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestListPendingArchivalExcludesSentinel(t *testing.T) {
	db := setupTestDatabase(t)
	cases := NewCaseStore(db)
	notices := NewNoticeStore(db)

	_, notice := createTestNotice(t, cases, "12345678901", models.NoticeExemption, nil)

	require.NoError(t, notices.SetArchiveID(context.Background(), notice.ID, models.SentinelArchiveID))

	pending, err := notices.ListPendingArchival(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSetArchiveIDIsWriteOnce(t *testing.T) {
	db := setupTestDatabase(t)
	cases := NewCaseStore(db)
	notices := NewNoticeStore(db)

	_, notice := createTestNotice(t, cases, "12345678901", models.NoticeExemption, nil)

	require.NoError(t, notices.SetArchiveID(context.Background(), notice.ID, 424242))
	require.NoError(t, notices.SetArchiveID(context.Background(), notice.ID, 999999))

	got, err := notices.GetByDecisionID(context.Background(), notice.DecisionID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchiveID)
	require.Equal(t, int64(424242), *got.ArchiveID)
}

func TestListPendingPublication(t *testing.T) {
	db := setupTestDatabase(t)
	cases := NewCaseStore(db)
	notices := NewNoticeStore(db)

	_, unarchived := createTestNotice(t, cases, "12345678901", models.NoticeExemption, nil)
	_, archived := createTestNotice(t, cases, "10987654321", models.NoticeExemption, nil)

	require.NoError(t, notices.SetArchiveID(context.Background(), archived.ID, 424242))

	pending, err := notices.ListPendingPublication(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, archived.ID, pending[0].Notice.ID)
	require.NotEqual(t, unarchived.ID, pending[0].Notice.ID)

	require.NoError(t, notices.SetPublishedAt(context.Background(), archived.ID, time.Now()))

	pending, err = notices.ListPendingPublication(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestSetPublishedAtIsWriteOnce(t *testing.T) {
	db := setupTestDatabase(t)
	cases := NewCaseStore(db)
	notices := NewNoticeStore(db)

	_, notice := createTestNotice(t, cases, "12345678901", models.NoticeExemption, nil)

	first := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	require.NoError(t, notices.SetPublishedAt(context.Background(), notice.ID, first))
	require.NoError(t, notices.SetPublishedAt(context.Background(), notice.ID, first.Add(time.Hour)))

	got, err := notices.GetByDecisionID(context.Background(), notice.DecisionID)
	require.NoError(t, err)
	require.NotNil(t, got.PublishedAt)
	require.True(t, got.PublishedAt.Equal(first))
}

func TestListPendingExpiry(t *testing.T) {
	db := setupTestDatabase(t)
	cases := NewCaseStore(db)
	notices := NewNoticeStore(db)

	past := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	_, overdue := createTestNotice(t, cases, "12345678901", models.NoticeAdvanceWarning, &past)
	createTestNotice(t, cases, "10987654321", models.NoticeAdvanceWarning, &future)
	createTestNotice(t, cases, "11111111111", models.NoticeExemption, nil)

	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	pending, err := notices.ListPendingExpiry(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, overdue.ID, pending[0].Notice.ID)

	require.NoError(t, notices.SetExpiryPublishedAt(context.Background(), overdue.ID, today))

	pending, err = notices.ListPendingExpiry(context.Background(), today)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestListPendingExpiryExcludesDeadlineToday(t *testing.T) {
	db := setupTestDatabase(t)
	cases := NewCaseStore(db)
	notices := NewNoticeStore(db)

	deadline := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_, notice := createTestNotice(t, cases, "12345678901", models.NoticeAdvanceWarning, &deadline)

	// Mid-day on the deadline day: the day has not passed, nothing expires.
	onDeadlineDay := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	pending, err := notices.ListPendingExpiry(context.Background(), onDeadlineDay)
	require.NoError(t, err)
	require.Empty(t, pending)

	nextDay := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	pending, err = notices.ListPendingExpiry(context.Background(), nextDay)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, notice.ID, pending[0].Notice.ID)
}

func TestGetByDecisionID(t *testing.T) {
	db := setupTestDatabase(t)
	cases := NewCaseStore(db)
	notices := NewNoticeStore(db)

	_, notice := createTestNotice(t, cases, "12345678901", models.NoticeExemption, nil)

	got, err := notices.GetByDecisionID(context.Background(), notice.DecisionID)
	require.NoError(t, err)
	require.Equal(t, notice.ID, got.ID)
	require.Equal(t, models.NoticeExemption, got.Type)

	_, err = notices.GetByDecisionID(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = notices.GetByDecisionID(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, ErrValidation)
}
