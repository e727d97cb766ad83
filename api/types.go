package api

import (
	"context"

	"pulseboard/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (domain.Task, error)
	UpsertTask(ctx context.Context, userID string, t domain.Task) error
	DeleteTask(ctx context.Context, userID, id string) error
	FetchSettings(ctx context.Context, userID string) (domain.Settings, error)
	SaveSettings(ctx context.Context, userID string, settings domain.Settings) error
	EnqueueEvents(ctx context.Context, userID string, events []domain.Event) error
}

// TaskNotFoundError is returned by Storage implementations when the task id
// does not exist for the user.
type TaskNotFoundError interface {
	error
	TaskNotFound()
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reprocessing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
