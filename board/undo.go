package board

import (
	"sync"
	"time"

	"pulseboard/domain"
)

// UndoableAction records a move eligible for reversal within the undo window.
type UndoableAction struct {
	TaskID    string
	Previous  domain.Task
	Next      domain.Task
	Timestamp time.Time
	ExpiresAt time.Time
}

type undoEntry struct {
	action UndoableAction
	seq    uint64
	timer  *time.Timer
}

// undoStack tracks recent moves. Every pushed action owns an independent
// expiry timer; firing prunes exactly that entry, so earlier moves expire on
// schedule even when superseded by later ones.
type undoStack struct {
	mu      sync.Mutex
	entries []*undoEntry
	nextSeq uint64
	window  time.Duration
}

func newUndoStack(window time.Duration) *undoStack {
	return &undoStack{window: window}
}

// push appends the action and schedules its expiry.
func (s *undoStack) push(action UndoableAction) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	e := &undoEntry{action: action, seq: s.nextSeq}
	seq := e.seq
	e.timer = time.AfterFunc(s.window, func() { s.discard(seq) })
	s.entries = append(s.entries, e)
	return seq
}

// pop removes and returns the most recently pushed action.
func (s *undoStack) pop() (UndoableAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	if n == 0 {
		return UndoableAction{}, false
	}
	e := s.entries[n-1]
	e.timer.Stop()
	s.entries = s.entries[:n-1]
	return e.action, true
}

// discard removes the entry with the given seq, if still present. It serves
// both timer expiry and rollback of a failed move.
func (s *undoStack) discard(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.seq == seq {
			e.timer.Stop()
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func (s *undoStack) canUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) > 0
}

func (s *undoStack) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
