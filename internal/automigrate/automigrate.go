// Package automigrate applies pending schema migrations on startup.
//
// It shares the schema_migrations table with the golang-migrate tooling used
// by cmd/migrate and the store test harness, so a database prepared by either
// path is recognized by the other.
package automigrate

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type migration struct {
	name    string
	version int
}

// Run applies all pending up migrations from the given directory.
func Run(db *sql.DB, migrationsDir string) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	pending, err := pendingMigrations(migrationsDir, applied)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Printf("✅ Database up to date (%d migrations applied)", len(applied))
		return nil
	}

	// golang-migrate's table carries a dirty column; a table we created
	// ourselves does not. Insert accordingly so both tools agree.
	recordStmt := "INSERT INTO schema_migrations (version) VALUES ($1)"
	if dirty, err := hasDirtyColumn(db); err != nil {
		return err
	} else if dirty {
		recordStmt = "INSERT INTO schema_migrations (version, dirty) VALUES ($1, false)"
	}

	log.Printf("📦 Applying %d pending migration(s)...", len(pending))
	for _, m := range pending {
		if err := applyMigration(db, migrationsDir, m, recordStmt); err != nil {
			return err
		}
	}

	log.Printf("✅ All migrations applied (%d new, %d total)", len(pending), len(applied)+len(pending))
	return nil
}

func applyMigration(db *sql.DB, migrationsDir string, m migration, recordStmt string) error {
	sqlBytes, err := os.ReadFile(filepath.Join(migrationsDir, m.name))
	if err != nil {
		return fmt.Errorf("read %s: %w", m.name, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", m.name, err)
	}

	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		tx.Rollback()
		// A schema object that already exists means the migration ran
		// before version tracking did. Record it and move on.
		errStr := err.Error()
		if strings.Contains(errStr, "already exists") || strings.Contains(errStr, "duplicate key") {
			log.Printf("  ⏭️  Skipped (already applied): %d", m.version)
			if _, err := db.Exec(recordStmt, m.version); err != nil {
				return fmt.Errorf("record %s: %w", m.name, err)
			}
			return nil
		}
		return fmt.Errorf("apply %s: %w", m.name, err)
	}

	if _, err := tx.Exec(recordStmt, m.version); err != nil {
		tx.Rollback()
		return fmt.Errorf("record %s: %w", m.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", m.name, err)
	}

	log.Printf("  ✅ Applied: %d", m.version)
	return nil
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	applied := make(map[int]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func pendingMigrations(migrationsDir string, applied map[int]bool) ([]migration, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var pending []migration
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		ver, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		if !applied[ver] {
			pending = append(pending, migration{name: name, version: ver})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })
	return pending, nil
}

func hasDirtyColumn(db *sql.DB) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'schema_migrations' AND column_name = 'dirty'
		)
	`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe schema_migrations.dirty: %w", err)
	}
	return exists, nil
}
