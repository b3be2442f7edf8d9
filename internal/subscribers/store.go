package subscribers

import (
	"context"
	"time"
)

// Subscriber is a chat (user or group) that receives broadcasts
type Subscriber struct {
	ChatID       int64
	ChatName     string
	IsGroup      bool
	SubscribedAt time.Time
	IsActive     bool
	LastUpdated  time.Time
}

// Store defines the interface for subscriber persistence
type Store interface {
	// Upsert creates or re-activates a subscriber keyed by chat ID
	Upsert(ctx context.Context, sub Subscriber) error

	// Deactivate marks a subscriber inactive. Reports whether a row changed.
	Deactivate(ctx context.Context, chatID int64) (bool, error)

	// Get returns the subscriber for chatID, or nil if none exists
	Get(ctx context.Context, chatID int64) (*Subscriber, error)

	// ListActive returns all active subscribers ordered by subscription time
	ListActive(ctx context.Context) ([]Subscriber, error)
}
