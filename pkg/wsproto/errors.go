package wsproto

import "errors"

var (
	// ErrNotAuthenticated is returned when a protocol action requires an
	// authenticated connection.
	ErrNotAuthenticated = errors.New("wsproto: not authenticated")

	// ErrUnknownMessageType is returned for inbound frames with an
	// unrecognized type field.
	ErrUnknownMessageType = errors.New("wsproto: unknown message type")

	// ErrSessionTerminated is returned when acting on a closed session.
	ErrSessionTerminated = errors.New("wsproto: session terminated")

	// ErrSendBufferFull is returned when the outbound frame buffer is
	// saturated, typically because the peer stopped reading.
	ErrSendBufferFull = errors.New("wsproto: send buffer full")

	// ErrEmptySessionID is returned when creating a session without an ID.
	ErrEmptySessionID = errors.New("wsproto: empty session id")

	// ErrDependencyNil is returned when a required collaborator is missing.
	ErrDependencyNil = errors.New("wsproto: required dependency is nil")
)

// Wire error codes reported in ErrorBody.Code.
const (
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeAuthFailed      = "AUTH_FAILED"
	CodeValidationError = "VALIDATION_ERROR"
)

// errorBodyFor maps an internal error to its in-band wire representation.
func errorBodyFor(err error) ErrorBody {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return ErrorBody{Name: "AuthenticationError", Message: "Not authenticated", Code: CodeAuthRequired}
	case errors.Is(err, ErrUnknownMessageType):
		return ErrorBody{Name: "ValidationError", Message: "Unknown message type", Code: CodeValidationError}
	default:
		return ErrorBody{Name: "ValidationError", Message: err.Error(), Code: CodeValidationError}
	}
}
