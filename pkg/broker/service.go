package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/heartbeat"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/registry"
	"github.com/dmitrymomot/notifykit/pkg/wsproto"
)

// Service ties the broker together: it owns the open protocol sessions,
// acts as the delivery engine's dispatcher and subscriber resolver, and
// feeds the heartbeat monitor. The HTTP layer in handlers.go and ws.go is
// a thin skin over this type.
type Service struct {
	cfg    Config
	store  *apikey.Store
	reg    *registry.Registry
	queue  *queue.Queue
	engine *delivery.Engine
	hb     *heartbeat.Monitor
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*wsproto.Session
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger shared by the service and its components.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New assembles a broker from its store, registry, and queue. The delivery
// engine and heartbeat monitor are constructed here because both close over
// the service's session table.
func New(cfg Config, store *apikey.Store, reg *registry.Registry, q *queue.Queue, opts ...Option) (*Service, error) {
	if store == nil || reg == nil || q == nil {
		return nil, ErrDependencyNil
	}

	s := &Service{
		cfg:      cfg,
		store:    store,
		reg:      reg,
		queue:    q,
		logger:   logger.Discard(),
		sessions: make(map[string]*wsproto.Session),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine, err := delivery.NewFromConfig(cfg.Delivery, q, store, s, s, reg,
		delivery.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.engine = engine

	hb, err := heartbeat.NewFromConfig(cfg.Heartbeat, s,
		heartbeat.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.hb = hb

	return s, nil
}

// Engine exposes the delivery engine for the ingestion handlers.
func (s *Service) Engine() *delivery.Engine { return s.engine }

// Heartbeat exposes the monitor so the caller can run its lifecycle.
func (s *Service) Heartbeat() *heartbeat.Monitor { return s.hb }

// Send implements delivery.Dispatcher by routing to the open session.
// Deliver only queues the frame, so a slow peer never stalls the fanout.
func (s *Service) Send(ctx context.Context, connID string, n *queue.Notification) error {
	s.mu.RLock()
	sess, ok := s.sessions[connID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, connID)
	}
	return sess.Deliver(n)
}

// ConnectionsForChannel implements delivery.Resolver over the registry.
// The in-memory registry cannot fail resolution, so the error is always nil.
func (s *Service) ConnectionsForChannel(channel string) ([]string, error) {
	return s.reg.ConnectionsForChannel(channel), nil
}

// Sessions implements heartbeat.Lister with a snapshot of open sessions.
func (s *Service) Sessions() []heartbeat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]heartbeat.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// RevokeKey revokes the credential and force-closes every connection it
// owns. Registry cleanup happens first so no new delivery resolves to the
// doomed connections while their sockets are being closed.
func (s *Service) RevokeKey(secret string) error {
	if err := s.store.Revoke(secret); err != nil {
		return err
	}

	removed := s.reg.RevokeKey(secret)
	for _, connID := range removed {
		s.mu.RLock()
		sess, ok := s.sessions[connID]
		s.mu.RUnlock()
		if ok {
			sess.Terminate()
		}
	}

	s.logger.Info("api key revoked",
		logger.APIKey(apikey.Mask(secret)),
		slog.Int("connections_closed", len(removed)))
	return nil
}

// Stats aggregates broker-wide observability counters.
type Stats struct {
	Delivery  delivery.Stats `json:"delivery"`
	Registry  registry.Stats `json:"registry"`
	Keys      int            `json:"keys"`
	Evicted   int64          `json:"heartbeat_evicted"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stats returns a point-in-time snapshot across all components.
func (s *Service) Stats() Stats {
	return Stats{
		Delivery:  s.engine.Stats(),
		Registry:  s.reg.Stats(),
		Keys:      s.store.Count(),
		Evicted:   s.hb.Evicted(),
		Timestamp: time.Now(),
	}
}

// Close terminates every open session and stops the delivery engine.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := make([]*wsproto.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*wsproto.Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Terminate()
	}
	s.engine.Close()
}

func (s *Service) addSession(sess *wsproto.Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
}

func (s *Service) removeSession(connID string) {
	s.mu.Lock()
	delete(s.sessions, connID)
	s.mu.Unlock()
}
