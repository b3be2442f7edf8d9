package subscribers

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Service keeps an in-memory set of active chat IDs in front of the durable
// Store. Every mutation is written through to the store before the cache
// changes, so the cache can always be rebuilt with Reload.
type Service struct {
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	active map[int64]struct{}
}

// NewService creates a subscriber service. Call Reload before use.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "subscribers"),
		active: make(map[int64]struct{}),
	}
}

// Reload replaces the cache with the active rows of the store.
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("reload subscribers: %w", err)
	}

	active := make(map[int64]struct{}, len(subs))
	for _, sub := range subs {
		active[sub.ChatID] = struct{}{}
	}
	s.active = active

	s.logger.Info("subscriber cache loaded", "count", len(active))
	return nil
}

// Subscribe adds a chat. Returns false if it was already subscribed.
func (s *Service) Subscribe(ctx context.Context, sub Subscriber) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[sub.ChatID]; ok {
		return false, nil
	}

	if err := s.store.Upsert(ctx, sub); err != nil {
		return false, fmt.Errorf("subscribe chat %d: %w", sub.ChatID, err)
	}
	s.active[sub.ChatID] = struct{}{}

	s.logger.Info("chat subscribed", "chat_id", sub.ChatID, "is_group", sub.IsGroup)
	return true, nil
}

// Unsubscribe deactivates a chat. Returns false if it was not subscribed.
func (s *Service) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.store.Deactivate(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("unsubscribe chat %d: %w", chatID, err)
	}

	_, cached := s.active[chatID]
	delete(s.active, chatID)

	if changed || cached {
		s.logger.Info("chat unsubscribed", "chat_id", chatID)
	}
	return changed || cached, nil
}

// Deactivate is Unsubscribe for callers that only care about the error,
// such as broadcast fan-out reacting to a blocked recipient.
func (s *Service) Deactivate(ctx context.Context, chatID int64) error {
	_, err := s.Unsubscribe(ctx, chatID)
	return err
}

// Get reads the stored record for chatID, active or not. Returns nil when the
// chat never subscribed.
func (s *Service) Get(ctx context.Context, chatID int64) (*Subscriber, error) {
	sub, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get subscriber %d: %w", chatID, err)
	}
	return sub, nil
}

// IsSubscribed reports whether chatID is in the active set
func (s *Service) IsSubscribed(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[chatID]
	return ok
}

// List returns a sorted snapshot of active chat IDs
func (s *Service) List() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the number of active subscribers
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
