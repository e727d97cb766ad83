package client

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"pulseboard/board"
	"pulseboard/domain"
)

// Flaky wraps a transport and fails each call with a simulated outage at the
// configured rate. It is deterministic under a fixed seed, which keeps tests
// and demos reproducible.
type Flaky struct {
	next board.Transport
	rate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewFlaky wraps next with a failure rate clamped to [0, 1].
func NewFlaky(next board.Transport, rate float64, seed int64) *Flaky {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &Flaky{next: next, rate: rate, rng: rand.New(rand.NewSource(seed))}
}

func (f *Flaky) outage() bool {
	if f.rate == 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < f.rate
}

func (f *Flaky) ListTasks(ctx context.Context) ([]domain.Task, error) {
	if f.outage() {
		return nil, fmt.Errorf("%w: simulated outage", ErrRemoteFailure)
	}
	return f.next.ListTasks(ctx)
}

func (f *Flaky) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	if f.outage() {
		return domain.Task{}, fmt.Errorf("%w: simulated outage", ErrRemoteFailure)
	}
	return f.next.CreateTask(ctx, in)
}

func (f *Flaky) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	if f.outage() {
		return domain.Task{}, fmt.Errorf("%w: simulated outage", ErrRemoteFailure)
	}
	return f.next.UpdateTask(ctx, id, patch)
}

func (f *Flaky) DeleteTask(ctx context.Context, id string) error {
	if f.outage() {
		return fmt.Errorf("%w: simulated outage", ErrRemoteFailure)
	}
	return f.next.DeleteTask(ctx, id)
}
