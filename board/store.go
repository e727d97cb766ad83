package board

import (
	"context"
	"sort"
	"sync"

	"pulseboard/domain"
)

// MutationKind selects what Apply does with a task record.
type MutationKind int

const (
	// MutationPut inserts or replaces a task by id.
	MutationPut MutationKind = iota
	// MutationRemove removes a task by id.
	MutationRemove
)

// Mutation is a single synchronous change to the store's collection.
type Mutation struct {
	Kind   MutationKind
	Task   domain.Task
	TaskID string
}

// PutTask builds a mutation that inserts or replaces t.
func PutTask(t domain.Task) Mutation {
	return Mutation{Kind: MutationPut, Task: t, TaskID: t.ID}
}

// RemoveTask builds a mutation that removes the task with the given id.
func RemoveTask(id string) Mutation {
	return Mutation{Kind: MutationRemove, TaskID: id}
}

// Store holds the authoritative in-memory task collection for a session.
// It is mutated only by Load and by the coordinator through Apply.
type Store struct {
	transport Transport

	mu      sync.RWMutex
	tasks   map[string]domain.Task
	loadErr error
}

// NewStore creates an empty store that loads through the given transport.
func NewStore(transport Transport) *Store {
	return &Store{
		transport: transport,
		tasks:     make(map[string]domain.Task),
	}
}

// Load replaces the entire collection with a freshly fetched set. On failure
// it returns a FetchError, records it for display, and leaves the previous
// collection in place.
func (s *Store) Load(ctx context.Context) error {
	tasks, err := s.transport.ListTasks(ctx)
	if err != nil {
		ferr := &FetchError{Err: err}
		s.mu.Lock()
		s.loadErr = ferr
		s.mu.Unlock()
		return ferr
	}

	fresh := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		fresh[t.ID] = t
	}

	s.mu.Lock()
	s.tasks = fresh
	s.loadErr = nil
	s.mu.Unlock()
	return nil
}

// Apply performs the mutation against the in-memory collection. It never
// fails; removing an absent id is a no-op.
func (s *Store) Apply(m Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m.Kind {
	case MutationPut:
		s.tasks[m.Task.ID] = m.Task
	case MutationRemove:
		delete(s.tasks, m.TaskID)
	}
}

// Get returns the task with the given id, if present.
func (s *Store) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Tasks returns a snapshot of the collection in a stable order.
func (s *Store) Tasks() []domain.Task {
	s.mu.RLock()
	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of tasks currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// LoadError returns the error recorded by the most recent failed Load, or
// nil after a successful one.
func (s *Store) LoadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}
