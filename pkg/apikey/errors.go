package apikey

import "errors"

var (
	// ErrSigningKeyRequired is returned when a store is created without a signing key.
	ErrSigningKeyRequired = errors.New("apikey: signing key is required")

	// ErrLabelRequired is returned when issuing a key without a label.
	ErrLabelRequired = errors.New("apikey: label is required")

	// ErrInvalidKeyFormat is returned for secrets that fail structural validation.
	ErrInvalidKeyFormat = errors.New("apikey: invalid key format")

	// ErrKeyNotFound is returned for unknown or revoked keys.
	ErrKeyNotFound = errors.New("apikey: key not found")
)
