package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore implements Store using SQLite for persistence
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the settings tables and seeds the bot state row
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	// Single-row table; the CHECK keeps it that way
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bot_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			is_enabled INTEGER NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create bot_state table: %w", err)
	}

	if _, err := db.Exec("INSERT OR IGNORE INTO bot_state (id, is_enabled) VALUES (1, 1)"); err != nil {
		return nil, fmt.Errorf("seed bot_state: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS job_state (
			job_name TEXT PRIMARY KEY,
			is_enabled INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create job_state table: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// IsBotEnabled reads the singleton flag
func (s *SQLiteStore) IsBotEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx, "SELECT is_enabled FROM bot_state WHERE id = 1").Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("query bot state: %w", err)
	}
	return enabled, nil
}

// SetBotEnabled updates the singleton flag
func (s *SQLiteStore) SetBotEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_state (id, is_enabled) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET is_enabled = excluded.is_enabled
	`, enabled)
	if err != nil {
		return fmt.Errorf("save bot state: %w", err)
	}
	return nil
}

// JobEnabled returns the persisted flag, or true for unknown jobs
func (s *SQLiteStore) JobEnabled(ctx context.Context, jobName string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		"SELECT is_enabled FROM job_state WHERE job_name = ?",
		normalize(jobName),
	).Scan(&enabled)

	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("query job state: %w", err)
	}
	return enabled, nil
}

// SetJobEnabled persists a job flag using upsert
func (s *SQLiteStore) SetJobEnabled(ctx context.Context, jobName string, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_state (job_name, is_enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(job_name) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at
	`, normalize(jobName), enabled, s.now())
	if err != nil {
		return fmt.Errorf("save job state: %w", err)
	}
	return nil
}

// JobStates lists persisted job flags by name
func (s *SQLiteStore) JobStates(ctx context.Context) ([]JobState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT job_name, is_enabled, updated_at FROM job_state ORDER BY job_name")
	if err != nil {
		return nil, fmt.Errorf("list job states: %w", err)
	}
	defer rows.Close()

	var states []JobState
	for rows.Next() {
		var st JobState
		if err := rows.Scan(&st.JobName, &st.IsEnabled, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job states: %w", err)
	}
	return states, nil
}

func normalize(jobName string) string {
	return strings.ToLower(strings.TrimSpace(jobName))
}
