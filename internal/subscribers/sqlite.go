package subscribers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore implements Store using SQLite for persistence
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the subscribers table if needed and returns the store
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS subscribers (
			chat_id INTEGER PRIMARY KEY,
			chat_name TEXT NOT NULL DEFAULT '',
			is_group INTEGER NOT NULL DEFAULT 0,
			subscribed_at DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_updated DATETIME NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create subscribers table: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Upsert creates or re-activates a subscriber. A re-subscription keeps the
// existing row and resets subscribed_at.
func (s *SQLiteStore) Upsert(ctx context.Context, sub Subscriber) error {
	now := s.now()
	subscribedAt := sub.SubscribedAt
	if subscribedAt.IsZero() {
		subscribedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (chat_id, chat_name, is_group, subscribed_at, is_active, last_updated)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			chat_name = excluded.chat_name,
			is_group = excluded.is_group,
			subscribed_at = excluded.subscribed_at,
			is_active = 1,
			last_updated = excluded.last_updated
	`, sub.ChatID, sub.ChatName, sub.IsGroup, subscribedAt, now)

	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

// Deactivate marks a subscriber inactive
func (s *SQLiteStore) Deactivate(ctx context.Context, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscribers
		SET is_active = 0, last_updated = ?
		WHERE chat_id = ? AND is_active = 1
	`, s.now(), chatID)
	if err != nil {
		return false, fmt.Errorf("deactivate subscriber: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate subscriber: %w", err)
	}
	return n > 0, nil
}

// Get retrieves a subscriber by chat ID
func (s *SQLiteStore) Get(ctx context.Context, chatID int64) (*Subscriber, error) {
	var sub Subscriber
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, chat_name, is_group, subscribed_at, is_active, last_updated
		FROM subscribers WHERE chat_id = ?
	`, chatID).Scan(
		&sub.ChatID,
		&sub.ChatName,
		&sub.IsGroup,
		&sub.SubscribedAt,
		&sub.IsActive,
		&sub.LastUpdated,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &sub, nil
}

// ListActive returns all active subscribers
func (s *SQLiteStore) ListActive(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, chat_name, is_group, subscribed_at, is_active, last_updated
		FROM subscribers
		WHERE is_active = 1
		ORDER BY subscribed_at ASC, chat_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(
			&sub.ChatID,
			&sub.ChatName,
			&sub.IsGroup,
			&sub.SubscribedAt,
			&sub.IsActive,
			&sub.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return subs, nil
}
