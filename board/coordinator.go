package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"pulseboard/domain"
)

// DefaultUndoWindow is how long a move stays undoable.
const DefaultUndoWindow = 5 * time.Second

// tempIDPrefix marks locally synthesized ids awaiting server confirmation.
const tempIDPrefix = "tmp-"

// UpdateKind classifies an in-flight optimistic mutation.
type UpdateKind string

const (
	UpdateCreate UpdateKind = "create"
	UpdateUpdate UpdateKind = "update"
	UpdateDelete UpdateKind = "delete"
)

// OptimisticUpdate is a transient record of a mutation applied locally while
// its remote call is in flight. Records exist only between apply and settle.
type OptimisticUpdate struct {
	ID        string
	Kind      UpdateKind
	TaskID    string
	Previous  *domain.Task
	Next      *domain.Task
	Timestamp time.Time
}

// Options tunes a Coordinator. The zero value is usable.
type Options struct {
	// Notifier receives user-visible outcome notifications. Defaults to a
	// logrus-backed notifier.
	Notifier Notifier
	// Logger defaults to the logrus standard logger.
	Logger *log.Logger
	// UndoWindow defaults to DefaultUndoWindow.
	UndoWindow time.Duration
}

// Coordinator is the only component that reconciles the local store with the
// remote backend. Every mutation follows optimistic apply, remote call, then
// commit or rollback. It performs no retries and no cancellation; two
// in-flight mutations on the same id race and the last to settle wins.
type Coordinator struct {
	store     *Store
	transport Transport
	notifier  Notifier
	logger    *log.Logger
	undo      *undoStack

	mu      sync.Mutex
	pending map[string]OptimisticUpdate
}

// NewCoordinator wires a coordinator to its store and transport.
func NewCoordinator(store *Store, transport Transport, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(opts.Logger)
	}
	if opts.UndoWindow <= 0 {
		opts.UndoWindow = DefaultUndoWindow
	}
	return &Coordinator{
		store:     store,
		transport: transport,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		undo:      newUndoStack(opts.UndoWindow),
		pending:   make(map[string]OptimisticUpdate),
	}
}

// Create synthesizes a temporary task, shows it immediately, and swaps it for
// the server-returned task once the remote create settles. On failure the
// temporary task is removed again.
func (c *Coordinator) Create(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	if err := in.Validate(); err != nil {
		return domain.Task{}, err
	}

	now := time.Now()
	temp := domain.Task{
		ID:          tempIDPrefix + uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      domain.StatusTodo,
		Priority:    in.Priority,
		CreatedAt:   now.UnixMilli(),
		UpdatedAt:   now.UnixMilli(),
	}
	if temp.Priority == "" {
		temp.Priority = domain.PriorityMedium
	}

	c.store.Apply(PutTask(temp))
	recID := c.track(OptimisticUpdate{Kind: UpdateCreate, TaskID: temp.ID, Next: &temp, Timestamp: now})

	created, err := c.transport.CreateTask(ctx, in)
	c.settle(recID)
	if err != nil {
		c.store.Apply(RemoveTask(temp.ID))
		return domain.Task{}, c.fail("create", temp.ID, err)
	}

	c.store.Apply(RemoveTask(temp.ID))
	c.store.Apply(PutTask(created))
	return created, nil
}

// Update applies the patch locally, then reconciles with the server-returned
// task. On failure the exact pre-mutation snapshot is restored.
func (c *Coordinator) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	return c.update(ctx, "update", id, patch, false)
}

// Move changes only a task's status and opens an undo window for it. The
// window runs concurrently with the in-flight remote call; if the move rolls
// back, its undo record is withdrawn.
func (c *Coordinator) Move(ctx context.Context, id string, status domain.Status) (domain.Task, error) {
	patch := domain.TaskPatch{Status: &status}
	return c.update(ctx, "move", id, patch, true)
}

func (c *Coordinator) update(ctx context.Context, op, id string, patch domain.TaskPatch, undoable bool) (domain.Task, error) {
	if err := patch.Validate(); err != nil {
		return domain.Task{}, err
	}

	snapshot, ok := c.store.Get(id)
	if !ok {
		return domain.Task{}, &NotFoundError{ID: id}
	}

	now := time.Now()
	next := patch.Apply(snapshot)
	next.UpdatedAt = now.UnixMilli()

	c.store.Apply(PutTask(next))
	recID := c.track(OptimisticUpdate{Kind: UpdateUpdate, TaskID: id, Previous: &snapshot, Next: &next, Timestamp: now})

	var undoSeq uint64
	if undoable {
		undoSeq = c.undo.push(UndoableAction{
			TaskID:    id,
			Previous:  snapshot,
			Next:      next,
			Timestamp: now,
			ExpiresAt: now.Add(c.undo.window),
		})
	}

	updated, err := c.transport.UpdateTask(ctx, id, patch)
	c.settle(recID)
	if err != nil {
		c.store.Apply(PutTask(snapshot))
		if undoable {
			c.undo.discard(undoSeq)
		}
		return domain.Task{}, c.fail(op, id, err)
	}

	c.store.Apply(PutTask(updated))
	return updated, nil
}

// Delete removes the task locally and reinserts the snapshot if the remote
// delete fails.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	snapshot, ok := c.store.Get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}

	c.store.Apply(RemoveTask(id))
	recID := c.track(OptimisticUpdate{Kind: UpdateDelete, TaskID: id, Previous: &snapshot, Timestamp: time.Now()})

	err := c.transport.DeleteTask(ctx, id)
	c.settle(recID)
	if err != nil {
		c.store.Apply(PutTask(snapshot))
		return c.fail("delete", id, err)
	}
	return nil
}

// Undo reverts the most recent unexpired move and issues one corrective
// remote update. The corrective call is fire-and-forget: its failure raises
// a milder notification and is not rolled back further. Undo reports whether
// anything was reverted; with an empty undo stack it has no effect.
func (c *Coordinator) Undo(ctx context.Context) bool {
	action, ok := c.undo.pop()
	if !ok {
		return false
	}

	c.store.Apply(PutTask(action.Previous))

	status := action.Previous.Status
	patch := domain.TaskPatch{Status: &status}
	updated, err := c.transport.UpdateTask(ctx, action.TaskID, patch)
	if err != nil {
		c.logger.WithFields(log.Fields{"task_id": action.TaskID, "error": err}).Warn("undo corrective update failed")
		c.notifier.Notify(Notification{
			Level:   LevelWarn,
			Op:      "undo",
			TaskID:  action.TaskID,
			Message: fmt.Sprintf("undid move of %q locally, but the server was not updated", action.Previous.Title),
		})
		return true
	}

	c.store.Apply(PutTask(updated))
	return true
}

// CanUndo reports whether an unexpired move is available for reversal.
func (c *Coordinator) CanUndo() bool {
	return c.undo.canUndo()
}

// PendingCount returns the number of in-flight optimistic updates.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) track(rec OptimisticUpdate) string {
	rec.ID = uuid.NewString()
	c.mu.Lock()
	c.pending[rec.ID] = rec
	c.mu.Unlock()
	return rec.ID
}

func (c *Coordinator) settle(recID string) {
	c.mu.Lock()
	delete(c.pending, recID)
	c.mu.Unlock()
}

// fail converts a remote failure into a MutationError after rollback and
// raises exactly one user-visible notification for it.
func (c *Coordinator) fail(op, taskID string, err error) error {
	merr := &MutationError{Op: op, TaskID: taskID, Err: err}
	c.logger.WithFields(log.Fields{"op": op, "task_id": taskID, "error": err}).Error("mutation rolled back")
	c.notifier.Notify(Notification{
		Level:   LevelError,
		Op:      op,
		TaskID:  taskID,
		Message: fmt.Sprintf("could not %s task, your board was restored", op),
	})
	return merr
}
