package board

import (
	log "github.com/sirupsen/logrus"
)

// Level grades a notification for display.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notification is a user-visible message about a settled mutation.
type Notification struct {
	Level   Level
	Op      string
	TaskID  string
	Message string
}

// Notifier receives notifications raised by the coordinator. Implementations
// must not block; they are invoked synchronously on the mutating call path.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// NewLogNotifier returns a Notifier that writes notifications to the logger.
func NewLogNotifier(logger *log.Logger) Notifier {
	return NotifierFunc(func(n Notification) {
		entry := logger.WithFields(log.Fields{
			"op":      n.Op,
			"task_id": n.TaskID,
		})
		switch n.Level {
		case LevelError:
			entry.Error(n.Message)
		case LevelWarn:
			entry.Warn(n.Message)
		default:
			entry.Info(n.Message)
		}
	})
}
