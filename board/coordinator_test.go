package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pulseboard/domain"
)

var errOutage = errors.New("simulated outage")

// stubTransport mirrors the remote collaborator; nil funcs fail the call so
// tests only wire what they expect to be hit.
type stubTransport struct {
	mu       sync.Mutex
	listFn   func(ctx context.Context) ([]domain.Task, error)
	createFn func(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	updateFn func(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	deleteFn func(ctx context.Context, id string) error

	updateCalls int
	deleteCalls int
}

func (s *stubTransport) ListTasks(ctx context.Context) ([]domain.Task, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listFn(ctx)
}

func (s *stubTransport) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	if s.createFn == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return s.createFn(ctx, in)
}

func (s *stubTransport) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	s.mu.Lock()
	s.updateCalls++
	s.mu.Unlock()
	if s.updateFn == nil {
		return domain.Task{}, errors.New("unexpected UpdateTask call")
	}
	return s.updateFn(ctx, id, patch)
}

func (s *stubTransport) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	s.deleteCalls++
	s.mu.Unlock()
	if s.deleteFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteFn(ctx, id)
}

func (s *stubTransport) updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCalls
}

// captureNotifier records notifications raised by the coordinator.
type captureNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (c *captureNotifier) Notify(n Notification) {
	c.mu.Lock()
	c.notes = append(c.notes, n)
	c.mu.Unlock()
}

func (c *captureNotifier) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.notes))
	copy(out, c.notes)
	return out
}

func newTestCoordinator(tr Transport, opts Options) (*Store, *Coordinator) {
	store := NewStore(tr)
	return store, NewCoordinator(store, tr, opts)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCreateReplacesTemporaryTaskWithServerTask(t *testing.T) {
	release := make(chan struct{})
	tr := &stubTransport{
		createFn: func(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
			<-release
			return domain.Task{ID: "42", UserID: "u1", Title: in.Title, Status: domain.StatusTodo, Priority: in.Priority}, nil
		},
	}
	store, coord := newTestCoordinator(tr, Options{})

	done := make(chan struct{})
	var created domain.Task
	var createErr error
	go func() {
		created, createErr = coord.Create(context.Background(), domain.TaskInput{Title: "Write tests", Priority: domain.PriorityMedium})
		close(done)
	}()

	// While the remote create is in flight the optimistic task is visible
	// under a temporary id and its record is pending.
	waitFor(t, time.Second, func() bool { return store.Len() == 1 && coord.PendingCount() == 1 })
	temp := store.Tasks()[0]
	if !strings.HasPrefix(temp.ID, tempIDPrefix) {
		t.Fatalf("expected temporary id, got %q", temp.ID)
	}
	if temp.Status != domain.StatusTodo {
		t.Fatalf("expected optimistic task in todo, got %s", temp.Status)
	}

	close(release)
	<-done
	if createErr != nil {
		t.Fatalf("create: %v", createErr)
	}
	if created.ID != "42" {
		t.Fatalf("expected server id, got %q", created.ID)
	}
	if store.Len() != 1 {
		t.Fatalf("expected exactly one task, got %d", store.Len())
	}
	if _, ok := store.Get("42"); !ok {
		t.Fatal("expected server task in store")
	}
	if _, ok := store.Get(temp.ID); ok {
		t.Fatal("temporary-id remnant left in store")
	}
	if coord.PendingCount() != 0 {
		t.Fatalf("expected no pending records after settle, got %d", coord.PendingCount())
	}
}

func TestCreateValidationNeverTouchesStore(t *testing.T) {
	store, coord := newTestCoordinator(&stubTransport{}, Options{})

	_, err := coord.Create(context.Background(), domain.TaskInput{})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("validation failures must not touch the store")
	}
	if coord.PendingCount() != 0 {
		t.Fatal("validation failures must not record pending updates")
	}
}

func TestCreateRollbackRemovesTemporaryTask(t *testing.T) {
	tr := &stubTransport{
		createFn: func(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
			return domain.Task{}, errOutage
		},
	}
	notes := &captureNotifier{}
	store, coord := newTestCoordinator(tr, Options{Notifier: notes})

	_, err := coord.Create(context.Background(), domain.TaskInput{Title: "doomed"})
	var merr *MutationError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MutationError, got %v", err)
	}
	if !errors.Is(err, errOutage) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("temporary task must be removed on rollback, len=%d", store.Len())
	}
	if coord.PendingCount() != 0 {
		t.Fatal("pending record must be discarded on failure")
	}
	if got := notes.all(); len(got) != 1 || got[0].Level != LevelError || got[0].Op != "create" {
		t.Fatalf("expected exactly one error notification, got %#v", got)
	}
}

func TestUpdateCommitUsesServerState(t *testing.T) {
	tr := &stubTransport{
		updateFn: func(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
			// The server is authoritative about timestamps.
			task := patch.Apply(domain.Task{ID: id, Title: "base", Status: domain.StatusTodo, Priority: domain.PriorityLow})
			task.UpdatedAt = 999
			return task, nil
		},
	}
	store, coord := newTestCoordinator(tr, Options{})
	store.Apply(PutTask(domain.Task{ID: "1", Title: "base", Status: domain.StatusTodo, Priority: domain.PriorityLow}))

	title := "renamed"
	updated, err := coord.Update(context.Background(), "1", domain.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := store.Get("1")
	if got != updated {
		t.Fatalf("store must equal the server-returned value, got %+v want %+v", got, updated)
	}
	if got.UpdatedAt != 999 {
		t.Fatalf("expected server timestamp, got %d", got.UpdatedAt)
	}
	if coord.PendingCount() != 0 {
		t.Fatal("expected no pending records after commit")
	}
}

func TestUpdateRollbackRestoresExactSnapshot(t *testing.T) {
	tr := &stubTransport{
		updateFn: func(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
			return domain.Task{}, errOutage
		},
	}
	notes := &captureNotifier{}
	store, coord := newTestCoordinator(tr, Options{Notifier: notes})
	snapshot := domain.Task{ID: "7", Title: "ship it", Status: domain.StatusInProgress, Priority: domain.PriorityHigh, CreatedAt: 1, UpdatedAt: 2}
	store.Apply(PutTask(snapshot))

	done := domain.StatusDone
	_, err := coord.Update(context.Background(), "7", domain.TaskPatch{Status: &done})
	if err == nil {
		t.Fatal("expected update to fail")
	}
	got, _ := store.Get("7")
	if got != snapshot {
		t.Fatalf("apply-then-rollback must be a no-op, got %+v want %+v", got, snapshot)
	}
	if got := notes.all(); len(got) != 1 {
		t.Fatalf("expected exactly one failure notification, got %d", len(got))
	}
}

func TestUpdateUnknownTaskIsLocalError(t *testing.T) {
	tr := &stubTransport{}
	_, coord := newTestCoordinator(tr, Options{})

	title := "x"
	_, err := coord.Update(context.Background(), "missing", domain.TaskPatch{Title: &title})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if tr.updates() != 0 {
		t.Fatal("local logic errors must not reach the transport")
	}
}

func TestDeleteCommitAndRollback(t *testing.T) {
	fail := false
	tr := &stubTransport{
		deleteFn: func(ctx context.Context, id string) error {
			if fail {
				return errOutage
			}
			return nil
		},
	}
	store, coord := newTestCoordinator(tr, Options{Notifier: &captureNotifier{}})
	original := domain.Task{ID: "3", Title: "expendable", Status: domain.StatusTodo, Priority: domain.PriorityLow}

	store.Apply(PutTask(original))
	if err := coord.Delete(context.Background(), "3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.Get("3"); ok {
		t.Fatal("expected task gone after committed delete")
	}

	fail = true
	store.Apply(PutTask(original))
	if err := coord.Delete(context.Background(), "3"); err == nil {
		t.Fatal("expected delete to fail")
	}
	got, ok := store.Get("3")
	if !ok {
		t.Fatal("expected task reinserted after failed delete")
	}
	if got != original {
		t.Fatalf("reinserted task must keep its original fields, got %+v", got)
	}
}

func TestMoveThenUndoRoundTrip(t *testing.T) {
	tr := &stubTransport{
		updateFn: func(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
			task := domain.Task{ID: id, Title: "roundtrip", Priority: domain.PriorityMedium}
			return patch.Apply(task), nil
		},
	}
	store, coord := newTestCoordinator(tr, Options{})
	store.Apply(PutTask(domain.Task{ID: "t1", Title: "roundtrip", Status: domain.StatusTodo, Priority: domain.PriorityMedium}))

	if _, err := coord.Move(context.Background(), "t1", domain.StatusInProgress); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got, _ := store.Get("t1"); got.Status != domain.StatusInProgress {
		t.Fatalf("expected moved status, got %s", got.Status)
	}
	if !coord.CanUndo() {
		t.Fatal("expected undo window to be open after move")
	}
	movedCalls := tr.updates()

	if !coord.Undo(context.Background()) {
		t.Fatal("expected undo to apply")
	}
	if got, _ := store.Get("t1"); got.Status != domain.StatusTodo {
		t.Fatalf("expected status restored to todo, got %s", got.Status)
	}
	if corrective := tr.updates() - movedCalls; corrective != 1 {
		t.Fatalf("expected exactly one corrective remote update, got %d", corrective)
	}
	if coord.CanUndo() {
		t.Fatal("undo record must be consumed by pop")
	}
}

func TestUndoNoopWhenNothingToUndo(t *testing.T) {
	tr := &stubTransport{}
	store, coord := newTestCoordinator(tr, Options{})
	store.Apply(PutTask(domain.Task{ID: "1", Status: domain.StatusDone}))

	if coord.CanUndo() {
		t.Fatal("expected empty undo stack")
	}
	if coord.Undo(context.Background()) {
		t.Fatal("undo with empty stack must report false")
	}
	if got, _ := store.Get("1"); got.Status != domain.StatusDone {
		t.Fatal("undo with empty stack must not touch the store")
	}
	if tr.updates() != 0 {
		t.Fatal("undo with empty stack must not call the transport")
	}
}

func TestMoveRollbackWithdrawsUndoRecord(t *testing.T) {
	tr := &stubTransport{
		updateFn: func(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
			return domain.Task{}, errOutage
		},
	}
	notes := &captureNotifier{}
	store, coord := newTestCoordinator(tr, Options{Notifier: notes})
	store.Apply(PutTask(domain.Task{ID: "7", Title: "racy", Status: domain.StatusInProgress}))

	_, err := coord.Move(context.Background(), "7", domain.StatusDone)
	if err == nil {
		t.Fatal("expected move to fail")
	}
	if got, _ := store.Get("7"); got.Status != domain.StatusInProgress {
		t.Fatalf("expected rollback to in-progress, got %s", got.Status)
	}
	if coord.CanUndo() {
		t.Fatal("rolled-back move must not stay undoable")
	}
	if got := notes.all(); len(got) != 1 || got[0].Op != "move" {
		t.Fatalf("expected exactly one move failure notification, got %#v", got)
	}
}

func TestUndoWindowExpiry(t *testing.T) {
	tr := &stubTransport{
		updateFn: func(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
			return patch.Apply(domain.Task{ID: id, Status: domain.StatusTodo}), nil
		},
	}
	store, coord := newTestCoordinator(tr, Options{UndoWindow: 30 * time.Millisecond})
	store.Apply(PutTask(domain.Task{ID: "1", Status: domain.StatusTodo}))

	if _, err := coord.Move(context.Background(), "1", domain.StatusDone); err != nil {
		t.Fatalf("move: %v", err)
	}
	if !coord.CanUndo() {
		t.Fatal("expected undo available right after move")
	}
	movedCalls := tr.updates()

	waitFor(t, time.Second, func() bool { return !coord.CanUndo() })
	if got, _ := store.Get("1"); got.Status != domain.StatusDone {
		t.Fatal("expiry must not mutate the store")
	}
	if tr.updates() != movedCalls {
		t.Fatal("expiry must not issue remote calls")
	}
}

func TestEachMoveExpiresIndependently(t *testing.T) {
	tr := &stubTransport{
		updateFn: func(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
			return patch.Apply(domain.Task{ID: id}), nil
		},
	}
	store, coord := newTestCoordinator(tr, Options{UndoWindow: 40 * time.Millisecond})
	store.Apply(PutTask(domain.Task{ID: "a", Status: domain.StatusTodo}))
	store.Apply(PutTask(domain.Task{ID: "b", Status: domain.StatusTodo}))

	if _, err := coord.Move(context.Background(), "a", domain.StatusInProgress); err != nil {
		t.Fatalf("move a: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := coord.Move(context.Background(), "b", domain.StatusInProgress); err != nil {
		t.Fatalf("move b: %v", err)
	}

	// The first window is not superseded by the second; both fire on their
	// own schedule.
	waitFor(t, time.Second, func() bool { return coord.undo.len() == 1 })
	waitFor(t, time.Second, func() bool { return coord.undo.len() == 0 })
	if coord.CanUndo() {
		t.Fatal("expected all undo windows expired")
	}
}

func TestUndoCorrectiveFailureRaisesMilderNotification(t *testing.T) {
	failCorrective := false
	tr := &stubTransport{
		updateFn: func(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
			if failCorrective {
				return domain.Task{}, errOutage
			}
			return patch.Apply(domain.Task{ID: id, Title: "flaky undo"}), nil
		},
	}
	notes := &captureNotifier{}
	store, coord := newTestCoordinator(tr, Options{Notifier: notes})
	store.Apply(PutTask(domain.Task{ID: "1", Title: "flaky undo", Status: domain.StatusTodo}))

	if _, err := coord.Move(context.Background(), "1", domain.StatusDone); err != nil {
		t.Fatalf("move: %v", err)
	}

	failCorrective = true
	if !coord.Undo(context.Background()) {
		t.Fatal("undo must still apply locally")
	}
	if got, _ := store.Get("1"); got.Status != domain.StatusTodo {
		t.Fatalf("expected local revert despite corrective failure, got %s", got.Status)
	}
	got := notes.all()
	if len(got) != 1 || got[0].Level != LevelWarn || got[0].Op != "undo" {
		t.Fatalf("expected one warn notification for the corrective failure, got %#v", got)
	}
}
