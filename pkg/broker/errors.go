package broker

import "errors"

var (
	// ErrDependencyNil is returned when a required collaborator is missing.
	ErrDependencyNil = errors.New("broker: required dependency is nil")

	// ErrNoSession is returned when dispatching to a connection with no
	// open session.
	ErrNoSession = errors.New("broker: no open session for connection")
)
