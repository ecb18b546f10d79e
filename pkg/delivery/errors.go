package delivery

import "errors"

var (
	// ErrQueueNil is returned when the engine is created without a queue.
	ErrQueueNil = errors.New("delivery: queue is nil")

	// ErrDependencyNil is returned when a required collaborator is missing.
	ErrDependencyNil = errors.New("delivery: required dependency is nil")

	// ErrEngineClosed is returned when submitting to a closed engine.
	ErrEngineClosed = errors.New("delivery: engine is closed")
)
