package queue

import (
	"time"

	"github.com/google/uuid"
)

// Priority bounds for notifications. Higher is more urgent.
const (
	PriorityMin     = 1
	PriorityMax     = 10
	PriorityDefault = 5
)

// Notification is one accepted submission on its way to subscribers.
// Immutable once enqueued, except for the delivery attempt counter.
type Notification struct {
	ID                string    `json:"id"`
	Channel           string    `json:"channel"`
	Data              any       `json:"data"`     // Opaque payload, unvalidated beyond presence.
	Priority          int       `json:"priority"` // 1-10, higher first.
	CreatedAt         time.Time `json:"created_at"`
	Attempts          int       `json:"attempts"`
	APIKey            string    `json:"-"` // Submitter's key, for stats attribution. Never serialized.
	ExcludeConnection string    `json:"-"` // Optional connection skipped during fanout.
}

// NewNotification builds a notification with a generated ID and timestamp.
// A zero priority becomes PriorityDefault; out-of-range priorities are left
// as-is for Validate to reject.
func NewNotification(channel string, data any, priority int, apiKey string) *Notification {
	if priority == 0 {
		priority = PriorityDefault
	}
	return &Notification{
		ID:        uuid.New().String(),
		Channel:   channel,
		Data:      data,
		Priority:  priority,
		CreatedAt: time.Now(),
		APIKey:    apiKey,
	}
}

// Validate checks the presence and range rules the queue admits on.
func (n *Notification) Validate() error {
	if n == nil {
		return ErrNilNotification
	}
	if n.ID == "" {
		return ErrMissingID
	}
	if n.Channel == "" {
		return ErrMissingChannel
	}
	if n.Data == nil {
		return ErrMissingData
	}
	if n.Priority < PriorityMin || n.Priority > PriorityMax {
		return ErrInvalidPriority
	}
	return nil
}
