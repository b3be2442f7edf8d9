package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"integration-report-bot/internal/authz"
)

// AccessControl decides who may run which tier of command. Admins come
// from static configuration; other users are authorized through approval.
type AccessControl struct {
	admins   map[int64]struct{}
	adminIDs []int64
	store    authz.Store
	logger   *slog.Logger
}

// NewAccessControl creates access control over a fixed admin list
func NewAccessControl(adminIDs []int64, store authz.Store, logger *slog.Logger) *AccessControl {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &AccessControl{
		admins:   admins,
		adminIDs: slices.Clone(adminIDs),
		store:    store,
		logger:   logger,
	}
}

// IsAdmin checks the static admin list
func (a *AccessControl) IsAdmin(userID int64) bool {
	_, ok := a.admins[userID]
	return ok
}

// AdminIDs returns the static admin list
func (a *AccessControl) AdminIDs() []int64 {
	return slices.Clone(a.adminIDs)
}

// IsAuthorized checks if a user may run authorized commands (static admin
// or active approved user)
func (a *AccessControl) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	if a.IsAdmin(userID) {
		return true, nil
	}

	ok, err := a.store.IsAuthorized(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check authorization for user %d: %w", userID, err)
	}
	return ok, nil
}

// TierOf returns the highest tier the user holds
func (a *AccessControl) TierOf(ctx context.Context, userID int64) (Tier, error) {
	if a.IsAdmin(userID) {
		return TierAdmin, nil
	}

	ok, err := a.IsAuthorized(ctx, userID)
	if err != nil {
		return TierPublic, err
	}
	if ok {
		return TierAuthorized, nil
	}
	return TierPublic, nil
}
