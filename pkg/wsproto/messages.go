package wsproto

import "time"

// Client message types.
const (
	TypeAuthenticate = "authenticate"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypePing         = "ping"
)

// Server message types.
const (
	TypeConnected     = "connected"
	TypeAuthenticated = "authenticated"
	TypeSubscribed    = "subscribed"
	TypeUnsubscribed  = "unsubscribed"
	TypePong          = "pong"
	TypeNotification  = "notification"
)

// ClientMessage is the envelope for all inbound frames. Fields beyond Type
// are populated per message kind.
type ClientMessage struct {
	Type    string `json:"type"`
	APIKey  string `json:"apiKey,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// ConnectedMessage greets a freshly opened socket and carries the connection
// identity the server assigned to it.
type ConnectedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
}

// AuthenticatedMessage answers an authenticate frame. Code is set on
// failure so clients can distinguish a rejected key from other errors.
type AuthenticatedMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// SubscriptionMessage answers subscribe and unsubscribe frames.
type SubscriptionMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Channel string `json:"channel"`
}

// PongMessage answers a protocol-level ping.
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// NotificationPayload is the delivered notification body. Timestamp is
// RFC 3339 in UTC.
type NotificationPayload struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// NotificationMessage carries one delivered notification.
type NotificationMessage struct {
	Type         string              `json:"type"`
	Notification NotificationPayload `json:"notification"`
}

// ErrorBody describes an in-band protocol error.
type ErrorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorMessage reports an in-band protocol error without closing the socket.
type ErrorMessage struct {
	Error ErrorBody `json:"error"`
}

func newPong() PongMessage {
	return PongMessage{Type: TypePong, Timestamp: time.Now().UnixMilli()}
}
