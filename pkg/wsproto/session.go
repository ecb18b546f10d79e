package wsproto

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

// Socket is the transport write side of one connection. Only the session's
// writer goroutine touches WriteJSON and Ping, so implementations need not
// be safe for concurrent writes. Close may be called while a write is in
// flight and must unblock it.
type Socket interface {
	WriteJSON(v any) error
	Ping() error
	Close() error
}

// Registry is the subset of connection registry operations a session drives.
type Registry interface {
	RegisterConnection(connID, secret string) error
	UnregisterConnection(connID string) bool
	Subscribe(connID, channel string) error
	Unsubscribe(connID, channel string)
}

// pingFrame is the writer-goroutine sentinel for a transport-level ping.
type pingFrame struct{}

// Session is the per-connection protocol state machine. It owns the socket
// write side, the lifecycle state, and the liveness flag the heartbeat
// monitor reads. Transitions are driven by HandleMessage.
//
// All outbound frames go through a buffered channel drained by a dedicated
// writer goroutine, so delivery and heartbeat callers never block on the
// peer's network I/O. A saturated buffer surfaces as ErrSendBufferFull,
// which the delivery engine counts as a connection-level failure.
type Session struct {
	id      string
	sock    Socket
	reg     Registry
	logger  *slog.Logger
	sendBuf int

	mu    sync.Mutex
	state State

	out  chan any
	done chan struct{}

	alive atomic.Bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger for protocol events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSendBuffer sets the outbound frame buffer size.
func WithSendBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.sendBuf = n
		}
	}
}

// NewSession wraps one open socket in a protocol session and starts its
// writer goroutine. The connection starts unauthenticated and liveness
// starts true.
func NewSession(id string, sock Socket, reg Registry, opts ...Option) (*Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	if sock == nil || reg == nil {
		return nil, ErrDependencyNil
	}

	s := &Session{
		id:      id,
		sock:    sock,
		reg:     reg,
		state:   StateConnected,
		logger:  logger.Discard(),
		sendBuf: DefaultSendBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.out = make(chan any, s.sendBuf)
	s.done = make(chan struct{})
	s.alive.Store(true)

	go s.writeLoop()
	return s, nil
}

// DefaultSendBuffer is the outbound frame buffer size per connection.
const DefaultSendBuffer = 256

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether a pong arrived since the flag was last cleared.
func (s *Session) Alive() bool { return s.alive.Load() }

// MarkAlive records transport-level liveness. Called from the pong handler.
func (s *Session) MarkAlive() { s.alive.Store(true) }

// ClearAlive resets the liveness flag ahead of a heartbeat ping.
func (s *Session) ClearAlive() { s.alive.Store(false) }

// Hello sends the greeting frame that prompts the client to authenticate.
func (s *Session) Hello() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTerminated {
		return ErrSessionTerminated
	}
	return s.send(ConnectedMessage{
		Type:         TypeConnected,
		ConnectionID: s.id,
		Message:      "Connected. Authenticate to subscribe to channels.",
	})
}

// HandleMessage applies one inbound frame to the state machine and queues
// the reply. Authentication failure is the only path that closes the
// socket; every other failure is answered in-band and leaves the
// connection open.
func (s *Session) HandleMessage(msg ClientMessage) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}

	switch msg.Type {
	case TypePing:
		s.reply(newPong())
		s.mu.Unlock()

	case TypeAuthenticate:
		s.handleAuthenticate(msg.APIKey)

	case TypeSubscribe:
		s.handleSubscribe(msg.Channel)
		s.mu.Unlock()

	case TypeUnsubscribe:
		s.handleUnsubscribe(msg.Channel)
		s.mu.Unlock()

	default:
		s.reply(ErrorMessage{Error: errorBodyFor(ErrUnknownMessageType)})
		s.mu.Unlock()
	}
}

// handleAuthenticate runs the CONNECTED -> AUTHENTICATED transition.
// Releases the mutex itself because the failure path terminates the session.
func (s *Session) handleAuthenticate(secret string) {
	if s.state == StateAuthenticated {
		// Re-authenticating an authenticated connection is a no-op success.
		s.reply(AuthenticatedMessage{Type: TypeAuthenticated, Success: true, Message: "already authenticated"})
		s.mu.Unlock()
		return
	}

	if err := s.reg.RegisterConnection(s.id, secret); err != nil {
		s.reply(AuthenticatedMessage{
			Type:    TypeAuthenticated,
			Success: false,
			Error:   err.Error(),
			Code:    CodeAuthFailed,
		})
		s.mu.Unlock()
		s.logger.Info("authentication failed, closing connection",
			logger.ConnectionID(s.id),
			logger.APIKey(apikey.Mask(secret)),
			logger.Error(err))
		s.Terminate()
		return
	}

	s.state = StateAuthenticated
	s.reply(AuthenticatedMessage{Type: TypeAuthenticated, Success: true, Message: "authenticated"})
	s.mu.Unlock()

	s.logger.Debug("connection authenticated",
		logger.ConnectionID(s.id),
		logger.APIKey(apikey.Mask(secret)))
}

func (s *Session) handleSubscribe(channel string) {
	if s.state != StateAuthenticated {
		s.reply(ErrorMessage{Error: errorBodyFor(ErrNotAuthenticated)})
		return
	}
	err := s.reg.Subscribe(s.id, channel)
	s.reply(SubscriptionMessage{Type: TypeSubscribed, Success: err == nil, Channel: channel})
	if err == nil {
		s.logger.Debug("subscribed", logger.ConnectionID(s.id), logger.Channel(channel))
	}
}

func (s *Session) handleUnsubscribe(channel string) {
	if s.state != StateAuthenticated {
		s.reply(ErrorMessage{Error: errorBodyFor(ErrNotAuthenticated)})
		return
	}
	s.reg.Unsubscribe(s.id, channel)
	s.reply(SubscriptionMessage{Type: TypeUnsubscribed, Success: true, Channel: channel})
}

// Deliver queues one notification for the client. Only authenticated
// connections receive deliveries. Never blocks on the peer: a full send
// buffer returns ErrSendBufferFull for the caller to count.
func (s *Session) Deliver(n *queue.Notification) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateTerminated:
		return ErrSessionTerminated
	case StateConnected:
		return ErrNotAuthenticated
	}

	return s.send(NotificationMessage{
		Type: TypeNotification,
		Notification: NotificationPayload{
			ID:        n.ID,
			Channel:   n.Channel,
			Data:      n.Data,
			Timestamp: n.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
}

// Ping queues a transport-level ping. The heartbeat monitor calls this
// after clearing the liveness flag; a failure here means the session is
// terminated or its buffer is saturated, either way worth evicting.
func (s *Session) Ping() error {
	return s.send(pingFrame{})
}

// Terminate runs the final transition: remove the connection from the
// registry and signal the writer goroutine to flush queued frames and
// close the socket. Returns without waiting on the peer's network I/O.
// Idempotent.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	s.mu.Unlock()

	close(s.done)
	s.reg.UnregisterConnection(s.id)
	s.logger.Debug("connection terminated", logger.ConnectionID(s.id))
}

// send queues one frame for the writer goroutine without blocking.
func (s *Session) send(v any) error {
	select {
	case <-s.done:
		return ErrSessionTerminated
	default:
	}

	select {
	case s.out <- v:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// reply queues a protocol response, logging queue failures. A saturated
// buffer drops the reply rather than stalling the read loop.
func (s *Session) reply(v any) {
	if err := s.send(v); err != nil {
		s.logger.Debug("reply dropped", logger.ConnectionID(s.id), logger.Error(err))
	}
}

// writeLoop is the sole writer on the socket. On termination it flushes
// whatever was queued (the auth-failure reply must reach the client before
// the close) and then closes the socket, unblocking any stalled write.
func (s *Session) writeLoop() {
	defer func() {
		if err := s.sock.Close(); err != nil {
			s.logger.Debug("socket close failed", logger.ConnectionID(s.id), logger.Error(err))
		}
	}()

	for {
		select {
		case v := <-s.out:
			s.writeFrame(v)
		case <-s.done:
			for {
				select {
				case v := <-s.out:
					s.writeFrame(v)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) writeFrame(v any) {
	var err error
	if _, ok := v.(pingFrame); ok {
		err = s.sock.Ping()
	} else {
		err = s.sock.WriteJSON(v)
	}
	if err != nil {
		s.logger.Debug("write failed", logger.ConnectionID(s.id), logger.Error(err))
	}
}
