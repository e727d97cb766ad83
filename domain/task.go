package domain

import "fmt"

// Status is a board column.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Valid reports whether s is one of the known board columns.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority is the urgency assigned to a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single board item.
type Task struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// TaskInput carries the caller-supplied fields of a new task.
type TaskInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p TaskPatch) IsZero() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil
}

// ValidationError reports malformed input rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

const maxTitleLen = 200

// Validate checks a create input.
func (in TaskInput) Validate() error {
	if in.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(in.Title) > maxTitleLen {
		return &ValidationError{Field: "title", Reason: "too long"}
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown value"}
	}
	return nil
}

// Validate checks a partial update.
func (p TaskPatch) Validate() error {
	if p.Title != nil {
		if *p.Title == "" {
			return &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		if len(*p.Title) > maxTitleLen {
			return &ValidationError{Field: "title", Reason: "too long"}
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown value"}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "unknown value"}
	}
	return nil
}

// Apply returns a copy of t with the patch applied. UpdatedAt is left to the
// caller, which owns the clock.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	return t
}
