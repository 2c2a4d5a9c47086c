package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/navikt/isaktivitetskrav/internal/models"
)

const testDBURLKey = "AKTIVITETSKRAV_TEST_DATABASE_URL"

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	connStr := os.Getenv(testDBURLKey)
	if connStr == "" {
		t.Skipf("set %s to a dedicated test database", testDBURLKey)
	}
	return connStr
}

func getMigrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	return dir
}

func setupTestDatabase(t *testing.T) *sql.DB {
	t.Helper()
	connStr := getTestDatabaseURL(t)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)

	_, err = db.Exec("CREATE EXTENSION IF NOT EXISTS pgcrypto")
	require.NoError(t, err)

	m, err := migrate.New("file://"+getMigrationsDir(t), connStr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = m.Close()
	})

	err = m.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func createTestCase(t *testing.T, store *CaseStore, subjectID string) *models.Case {
	t.Helper()
	c, err := store.Create(context.Background(), CreateCaseInput{
		SubjectID:       subjectID,
		AssessmentDueAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return c
}

func applyTestDecision(t *testing.T, store *CaseStore, c *models.Case, input ApplyDecisionInput) (*models.Decision, *models.Notice) {
	t.Helper()
	input.CaseID = c.ID
	if input.ExpectedStatus == "" {
		input.ExpectedStatus = c.Status
	}
	if input.CreatedBy == "" {
		input.CreatedBy = "Z999999"
	}
	decision, notice, err := store.ApplyDecision(context.Background(), input)
	require.NoError(t, err)
	return decision, notice
}
