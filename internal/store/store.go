// Package store provides raw-SQL Postgres persistence for cases, decisions
// and notices. It is the single writer of record: the pipelines mutate
// notices through it, never directly.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrValidation is returned for malformed store inputs.
	ErrValidation = errors.New("validation failed")
	// ErrOpenCaseExists is returned when creating a case for a subject that
	// already has one in a non-final status.
	ErrOpenCaseExists = errors.New("subject already has an open case")
)

// Open connects to the given database URL and verifies the connection.
func Open(dbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", strings.TrimSpace(dbURL))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func nullableString(value *string) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) interface{} {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.UTC()
}
