package queue

import "errors"

var (
	// ErrNilNotification is returned when enqueueing a nil notification.
	ErrNilNotification = errors.New("queue: notification is nil")

	// ErrMissingID is returned when a notification has no ID.
	ErrMissingID = errors.New("queue: notification id is missing")

	// ErrMissingChannel is returned when a notification has no channel.
	ErrMissingChannel = errors.New("queue: notification channel is missing")

	// ErrMissingData is returned when a notification carries no payload.
	ErrMissingData = errors.New("queue: notification data is missing")

	// ErrInvalidPriority is returned for priorities outside [1,10].
	ErrInvalidPriority = errors.New("queue: notification priority out of range")

	// ErrQueueFull is returned when the capacity bound is reached.
	// Submitters may retry later; the notification was not accepted.
	ErrQueueFull = errors.New("queue: queue is full")
)
