package settings

import (
	"context"
	"time"
)

// JobState is the persisted enablement flag of one scheduled job
type JobState struct {
	JobName   string
	IsEnabled bool
	UpdatedAt time.Time
}

// Store defines the interface for runtime settings persistence
type Store interface {
	// IsBotEnabled reads the global bot-enabled flag
	IsBotEnabled(ctx context.Context) (bool, error)
	// SetBotEnabled writes the global bot-enabled flag
	SetBotEnabled(ctx context.Context, enabled bool) error

	// JobEnabled reads a job flag. Jobs without a row are enabled.
	JobEnabled(ctx context.Context, jobName string) (bool, error)
	// SetJobEnabled persists a job flag
	SetJobEnabled(ctx context.Context, jobName string, enabled bool) error
	// JobStates lists every persisted job flag
	JobStates(ctx context.Context) ([]JobState, error)
}
