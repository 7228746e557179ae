// Package notifications holds the transient notices shown after a mutation
// succeeds or fails. Each dashboard client owns one queue.
package notifications

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationTypeSuccess NotificationType = "success"
	NotificationTypeInfo    NotificationType = "info"
	NotificationTypeWarning NotificationType = "warning"
	NotificationTypeError   NotificationType = "error"
)

// DefaultCapacity bounds an undrained queue; the oldest notices drop first.
const DefaultCapacity = 20

type Notification struct {
	ID        uuid.UUID        `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title,omitempty"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"createdAt"`
}

type Queue struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
	now      func() time.Time
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, now: time.Now}
}

type NotifyParam struct {
	Type    NotificationType
	Title   string
	Message string
}

func (q *Queue) Notify(params NotifyParam) Notification {
	if params.Type == "" {
		params.Type = NotificationTypeInfo
	}
	n := Notification{
		ID:        uuid.New(),
		Type:      params.Type,
		Title:     params.Title,
		Message:   params.Message,
		CreatedAt: q.now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	if over := len(q.items) - q.capacity; over > 0 {
		q.items = append([]Notification(nil), q.items[over:]...)
	}
	return n
}

func (q *Queue) Success(message string) Notification {
	return q.Notify(NotifyParam{Type: NotificationTypeSuccess, Message: message})
}

func (q *Queue) Error(message string) Notification {
	return q.Notify(NotifyParam{Type: NotificationTypeError, Message: message})
}

// Drain returns pending notices oldest first and empties the queue.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	if items == nil {
		return []Notification{}
	}
	return items
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
