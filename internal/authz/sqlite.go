package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "integration-report-bot/internal/errors"
)

// SQLiteStore implements Store using SQLite for persistence
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the authorization tables if needed and returns the store
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	// Create authorization_requests table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS authorization_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			user_name TEXT NOT NULL,
			chat_id INTEGER NOT NULL,
			requested_at DATETIME NOT NULL,
			request_message TEXT NOT NULL DEFAULT '',
			is_approved INTEGER NOT NULL DEFAULT 0,
			is_processed INTEGER NOT NULL DEFAULT 0,
			processed_by INTEGER,
			processed_at DATETIME,
			CHECK (is_approved = 0 OR is_processed = 1)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create authorization_requests table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_authorization_requests_pending
		ON authorization_requests (is_processed, requested_at)
	`)
	if err != nil {
		return nil, fmt.Errorf("create authorization_requests index: %w", err)
	}

	// Create authorized_users table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS authorized_users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL UNIQUE,
			user_name TEXT NOT NULL,
			chat_id INTEGER NOT NULL,
			authorized_at DATETIME NOT NULL,
			authorized_by INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create authorized_users table: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const requestColumns = `id, user_id, user_name, chat_id, requested_at, request_message,
	is_approved, is_processed, processed_by, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*AuthorizationRequest, error) {
	var req AuthorizationRequest
	var processedBy sql.NullInt64
	var processedAt sql.NullTime

	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.UserName,
		&req.ChatID,
		&req.RequestedAt,
		&req.RequestMessage,
		&req.IsApproved,
		&req.IsProcessed,
		&processedBy,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	if processedBy.Valid {
		req.ProcessedBy = &processedBy.Int64
	}
	if processedAt.Valid {
		req.ProcessedAt = &processedAt.Time
	}
	return &req, nil
}

// CreateRequest adds a new pending request
func (s *SQLiteStore) CreateRequest(ctx context.Context, req AuthorizationRequest) (*AuthorizationRequest, error) {
	if strings.TrimSpace(req.UserName) == "" {
		req.UserName = "Unknown"
	}
	if strings.TrimSpace(req.RequestMessage) == "" {
		req.RequestMessage = "-"
	}
	req.RequestMessage = strings.TrimSpace(req.RequestMessage)
	if req.RequestedAt.IsZero() {
		req.RequestedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO authorization_requests
			(user_id, user_name, chat_id, requested_at, request_message, is_approved, is_processed)
		VALUES (?, ?, ?, ?, ?, 0, 0)
	`, req.UserID, req.UserName, req.ChatID, req.RequestedAt, req.RequestMessage)
	if err != nil {
		return nil, fmt.Errorf("create authorization request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create authorization request: %w", err)
	}

	req.ID = id
	req.IsApproved = false
	req.IsProcessed = false
	req.ProcessedBy = nil
	req.ProcessedAt = nil
	return &req, nil
}

// GetRequest retrieves a request by ID
func (s *SQLiteStore) GetRequest(ctx context.Context, requestID int64) (*AuthorizationRequest, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM authorization_requests WHERE id = ?", requestID))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get authorization request: %w", err)
	}
	return req, nil
}

// PendingRequestForUser returns the oldest pending request of a user
func (s *SQLiteStore) PendingRequestForUser(ctx context.Context, userID int64) (*AuthorizationRequest, error) {
	req, err := scanRequest(s.db.QueryRowContext(ctx,
		"SELECT "+requestColumns+` FROM authorization_requests
		WHERE user_id = ? AND is_processed = 0
		ORDER BY requested_at ASC, id ASC LIMIT 1`, userID))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending request for user: %w", err)
	}
	return req, nil
}

// PendingRequests lists unprocessed requests, oldest first
func (s *SQLiteStore) PendingRequests(ctx context.Context) ([]AuthorizationRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+requestColumns+` FROM authorization_requests
		WHERE is_processed = 0
		ORDER BY requested_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var reqs []AuthorizationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan authorization request: %w", err)
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return reqs, nil
}

// Approve marks the request approved and upserts the authorized user in a
// single transaction. Already processed requests are left untouched.
func (s *SQLiteStore) Approve(ctx context.Context, requestID, adminID int64) (*AuthorizationRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin approve transaction: %w", err)
	}
	defer tx.Rollback()

	req, err := scanRequest(tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM authorization_requests WHERE id = ?", requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approve request %d: %w", requestID, apperrors.ErrRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("approve request %d: %w", requestID, err)
	}
	if req.IsProcessed {
		return nil, fmt.Errorf("approve request %d: %w", requestID, apperrors.ErrRequestProcessed)
	}

	now := s.now()

	_, err = tx.ExecContext(ctx, `
		UPDATE authorization_requests
		SET is_approved = 1, is_processed = 1, processed_by = ?, processed_at = ?
		WHERE id = ?
	`, adminID, now, requestID)
	if err != nil {
		return nil, fmt.Errorf("mark request %d approved: %w", requestID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO authorized_users (user_id, user_name, chat_id, authorized_at, authorized_by, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id) DO UPDATE SET
			user_name = excluded.user_name,
			chat_id = excluded.chat_id,
			authorized_at = excluded.authorized_at,
			authorized_by = excluded.authorized_by,
			is_active = 1
	`, req.UserID, req.UserName, req.ChatID, now, adminID)
	if err != nil {
		return nil, fmt.Errorf("upsert authorized user %d: %w", req.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approve transaction: %w", err)
	}

	req.IsApproved = true
	req.IsProcessed = true
	req.ProcessedBy = &adminID
	req.ProcessedAt = &now
	return req, nil
}

// IsAuthorized checks if a user has an active authorization
func (s *SQLiteStore) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM authorized_users WHERE user_id = ? AND is_active = 1",
		userID,
	).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check authorized status: %w", err)
	}
	return true, nil
}

// AuthorizedUsers lists active authorized users
func (s *SQLiteStore) AuthorizedUsers(ctx context.Context) ([]AuthorizedUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, chat_id, authorized_at, authorized_by, is_active
		FROM authorized_users
		WHERE is_active = 1
		ORDER BY authorized_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list authorized users: %w", err)
	}
	defer rows.Close()

	var users []AuthorizedUser
	for rows.Next() {
		var u AuthorizedUser
		if err := rows.Scan(&u.ID, &u.UserID, &u.UserName, &u.ChatID, &u.AuthorizedAt, &u.AuthorizedBy, &u.IsActive); err != nil {
			return nil, fmt.Errorf("scan authorized user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list authorized users: %w", err)
	}
	return users, nil
}

// Revoke deactivates a user's authorization
func (s *SQLiteStore) Revoke(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE authorized_users SET is_active = 0 WHERE user_id = ? AND is_active = 1", userID)
	if err != nil {
		return false, fmt.Errorf("revoke user access: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke user access: %w", err)
	}
	return n > 0, nil
}
