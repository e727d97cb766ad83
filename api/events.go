package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"pulseboard/domain"
)

type eventJob struct {
	userID string
	events []domain.Event
}

// EventSenderConfig tunes the background event delivery pool.
type EventSenderConfig struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
}

// EventSenderConfigFromEnv reads pool sizing from the environment, falling
// back to defaults that keep handlers from ever blocking on the queue.
func EventSenderConfigFromEnv() EventSenderConfig {
	return EventSenderConfig{
		Workers:        envInt("EVENT_WORKERS", 16),
		Buffer:         envInt("EVENT_BUFFER", 4096),
		EnqueueTimeout: envDur("EVENT_ENQUEUE_TIMEOUT", 60*time.Second),
		HandoffTimeout: envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
}

// EventSender delivers committed task events to the storage queue off the
// request path. When the buffer is saturated it falls back to an inline
// enqueue so events are never dropped silently.
type EventSender struct {
	cfg    EventSenderConfig
	store  Storage
	logger *log.Logger
	jobs   chan eventJob
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewEventSender starts the worker pool.
func NewEventSender(store Storage, logger *log.Logger, cfg EventSenderConfig) *EventSender {
	if store == nil {
		panic("api.NewEventSender: storage is required")
	}
	if logger == nil {
		panic("api.NewEventSender: logger is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = cfg.Workers * 2
	}

	s := &EventSender{
		cfg:    cfg,
		store:  store,
		logger: logger,
		jobs:   make(chan eventJob, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("event sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		cfg.Workers, cfg.Buffer, cfg.EnqueueTimeout, cfg.HandoffTimeout)
	return s
}

func (s *EventSender) worker(id int) {
	defer s.wg.Done()
	for j := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EnqueueTimeout)
		err := s.store.EnqueueEvents(ctx, j.userID, j.events)
		cancel()
		if err != nil {
			s.logger.Errorf("event enqueue failed, err: %v, user: %s, count: %d, worker: %d",
				err, j.userID, len(j.events), id)
		}
	}
}

// Publish hands the events to the pool. Delivery failures are logged, never
// surfaced to the request that produced the events.
func (s *EventSender) Publish(userID string, events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	job := eventJob{userID: userID, events: events}

	if ok, closed := s.trySendNonBlocking(job); closed {
		return
	} else if ok {
		return
	}

	if s.cfg.HandoffTimeout > 0 {
		timer := time.NewTimer(s.cfg.HandoffTimeout)
		ok, closed := s.sendWithTimer(job, timer.C)
		timer.Stop()
		if ok || closed {
			return
		}
	}

	s.logger.Warn("event buffer saturated; enqueueing inline")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.store.EnqueueEvents(ctx, userID, job.events); err != nil {
		s.logger.Errorf("inline event enqueue failed: %v", err)
	}
}

// A send may race Shutdown closing the channel; the recover turns that panic
// into a dropped publish instead of a crash.
func (s *EventSender) trySendNonBlocking(job eventJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case s.jobs <- job:
		return true, false
	default:
		return false, false
	}
}

func (s *EventSender) sendWithTimer(job eventJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case s.jobs <- job:
		return true, false
	case <-timer:
		return false, false
	}
}

// Shutdown drains the pool and stops the workers.
func (s *EventSender) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.jobs)
	s.wg.Wait()
}
