package registry

import "errors"

var (
	// ErrKeyStoreNil is returned when a registry is created without a key store.
	ErrKeyStoreNil = errors.New("registry: key store is required")

	// ErrEmptyConnectionID is returned when registering with an empty connection ID.
	ErrEmptyConnectionID = errors.New("registry: connection id is empty")

	// ErrDuplicateConnection is returned when a connection ID is already registered.
	ErrDuplicateConnection = errors.New("registry: connection already registered")

	// ErrConnectionLimit is returned when a key reaches its concurrent connection cap.
	ErrConnectionLimit = errors.New("registry: connection limit reached for key")

	// ErrUnknownConnection is returned when operating on an unregistered connection.
	ErrUnknownConnection = errors.New("registry: unknown connection")

	// ErrEmptyChannel is returned when subscribing to an empty channel name.
	ErrEmptyChannel = errors.New("registry: channel name is empty")
)
