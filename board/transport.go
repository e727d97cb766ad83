package board

import (
	"context"

	"pulseboard/domain"
)

// Transport is the remote task collaborator. Implementations may fail any
// call to simulate an unreliable backend; the coordinator treats every
// failure the same way and rolls the optimistic change back.
type Transport interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
}
