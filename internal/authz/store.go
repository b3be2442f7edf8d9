package authz

import (
	"context"
	"time"
)

// AuthorizationRequest is a user's request for access, resolved once by an admin
type AuthorizationRequest struct {
	ID             int64
	UserID         int64
	UserName       string
	ChatID         int64
	RequestedAt    time.Time
	RequestMessage string
	IsApproved     bool
	IsProcessed    bool
	ProcessedBy    *int64
	ProcessedAt    *time.Time
}

// Pending reports whether no admin has acted on the request yet
func (r *AuthorizationRequest) Pending() bool {
	return !r.IsProcessed
}

// AuthorizedUser is a non-admin user granted access through approval
type AuthorizedUser struct {
	ID           int64
	UserID       int64
	UserName     string
	ChatID       int64
	AuthorizedAt time.Time
	AuthorizedBy int64
	IsActive     bool
}

// Store defines the interface for authorization persistence
type Store interface {
	// CreateRequest stores a new pending request and returns it with its ID
	CreateRequest(ctx context.Context, req AuthorizationRequest) (*AuthorizationRequest, error)

	// GetRequest retrieves a request by ID, or nil if it does not exist
	GetRequest(ctx context.Context, requestID int64) (*AuthorizationRequest, error)

	// PendingRequestForUser returns the oldest pending request of a user, or nil
	PendingRequestForUser(ctx context.Context, userID int64) (*AuthorizationRequest, error)

	// PendingRequests lists unprocessed requests, oldest first
	PendingRequests(ctx context.Context) ([]AuthorizationRequest, error)

	// Approve resolves a pending request and upserts the authorized user in
	// one transaction. Returns the approved request.
	Approve(ctx context.Context, requestID, adminID int64) (*AuthorizationRequest, error)

	// IsAuthorized reports whether userID has an active authorization
	IsAuthorized(ctx context.Context, userID int64) (bool, error)

	// AuthorizedUsers lists active authorized users, newest first
	AuthorizedUsers(ctx context.Context) ([]AuthorizedUser, error)

	// Revoke deactivates a user's authorization. Reports whether a row changed.
	Revoke(ctx context.Context, userID int64) (bool, error)
}
