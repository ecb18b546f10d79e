package heartbeat

import "errors"

var (
	// ErrListerNil is returned when the monitor is created without a lister.
	ErrListerNil = errors.New("heartbeat: session lister is nil")

	// ErrAlreadyStarted is returned when starting a running monitor.
	ErrAlreadyStarted = errors.New("heartbeat: monitor already started")
)
