package service

import (
	"sync"
	"time"
)

// NotificationLevel distinguishes success toasts from error toasts.
type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
)

// Notification is one user-visible, non-blocking message. Store failures are
// always surfaced through these; none halt the application.
type Notification struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	Time    time.Time         `json:"time"`
}

// Notifier receives user-visible notifications from store operations.
type Notifier interface {
	Notify(level NotificationLevel, message string)
}

// NotificationCenter is a bounded in-memory feed of notifications, drained by
// the UI via polling. When full, the oldest entries are dropped.
type NotificationCenter struct {
	mu      sync.Mutex
	pending []Notification
	max     int
}

func NewNotificationCenter(max int) *NotificationCenter {
	if max <= 0 {
		max = 100
	}
	return &NotificationCenter{max: max}
}

func (n *NotificationCenter) Notify(level NotificationLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pending = append(n.pending, Notification{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
	if len(n.pending) > n.max {
		n.pending = n.pending[len(n.pending)-n.max:]
	}
}

// Drain returns all pending notifications and clears the feed.
func (n *NotificationCenter) Drain() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := n.pending
	n.pending = nil
	return out
}

// Pending returns the number of undrained notifications.
func (n *NotificationCenter) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}
