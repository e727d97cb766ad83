package board

import "fmt"

// FetchError reports a failed store load. The previously loaded collection
// stays in place when it occurs.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch tasks: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NotFoundError reports an operation on a task id absent from the store.
// It is a local logic error, not a network condition.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.ID)
}

// MutationError reports a remote failure after the optimistic change was
// rolled back. The store is guaranteed to equal its pre-mutation snapshot
// by the time this error is returned.
type MutationError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s task %q failed, local state restored: %v", e.Op, e.TaskID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
