package domain

import "github.com/bytedance/sonic"

// Event types emitted after a task mutation is persisted.
const (
	EventTaskCreated = "task-created"
	EventTaskUpdated = "task-updated"
	EventTaskDeleted = "task-deleted"
	EventTaskMoved   = "task-moved"
)

// Event describes a committed task mutation for downstream consumers.
type Event struct {
	ID         string                 `json:"id"`
	EntityID   string                 `json:"entityId"`
	EntityType string                 `json:"entityType"`
	Type       string                 `json:"type"`
	Data       sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
}

// EventEnvelope wraps an event with the user it belongs to.
type EventEnvelope struct {
	UserID string `json:"userId"`
	Event  Event  `json:"event"`
}
