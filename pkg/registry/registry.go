package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// KeyStore is the identity surface the registry needs: key validation and
// per-key usage accounting. Satisfied by apikey.Store.
type KeyStore interface {
	Validate(secret string) error
	RecordConnection(secret string, delta int)
	RecordNotification(secret string)
}

// Config holds environment-driven registry settings.
type Config struct {
	MaxConnectionsPerKey int `env:"REGISTRY_MAX_CONNECTIONS_PER_KEY" envDefault:"1000"` // Concurrent connection cap per API key.
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{MaxConnectionsPerKey: 1000}
}

// conn is the registry's internal connection state.
type conn struct {
	key       string
	createdAt time.Time
	channels  map[string]struct{}
}

// Stats provides observability counters for the registry.
type Stats struct {
	Connections   int `json:"connections"`   // Live connections.
	Channels      int `json:"channels"`      // Channels with at least one subscriber.
	Subscriptions int `json:"subscriptions"` // Total (connection, channel) pairs.
}

// Registry is the authoritative record of who is connected, as whom, and
// subscribed to what. A single mutex guards the connection map and the
// channel index so the two always agree: every mutation touches both sides
// inside one critical section.
type Registry struct {
	mu        sync.Mutex
	keys      KeyStore
	conns     map[string]*conn
	channels  map[string]map[string]struct{}
	byKey     map[string]map[string]struct{}
	maxPerKey int
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for internal operations.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxConnectionsPerKey overrides the per-key concurrent connection cap.
func WithMaxConnectionsPerKey(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxPerKey = n
		}
	}
}

// New creates an empty registry backed by the given key store.
func New(keys KeyStore, opts ...Option) (*Registry, error) {
	if keys == nil {
		return nil, ErrKeyStoreNil
	}

	r := &Registry{
		keys:      keys,
		conns:     make(map[string]*conn),
		channels:  make(map[string]map[string]struct{}),
		byKey:     make(map[string]map[string]struct{}),
		maxPerKey: DefaultConfig().MaxConnectionsPerKey,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewFromConfig creates a Registry from configuration.
func NewFromConfig(cfg Config, keys KeyStore, opts ...Option) (*Registry, error) {
	return New(keys, append([]Option{WithMaxConnectionsPerKey(cfg.MaxConnectionsPerKey)}, opts...)...)
}

// RegisterConnection binds a connection ID to the identity behind the API
// key. Fails with the key store's error for unknown keys and with
// ErrConnectionLimit once the key's concurrent cap is reached; neither
// failure registers anything. Success counts toward the key's lifetime
// connection stats.
func (r *Registry) RegisterConnection(connID, secret string) error {
	if connID == "" {
		return ErrEmptyConnectionID
	}
	if err := r.keys.Validate(secret); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return ErrDuplicateConnection
	}
	if len(r.byKey[secret]) >= r.maxPerKey {
		return ErrConnectionLimit
	}

	r.conns[connID] = &conn{
		key:       secret,
		createdAt: time.Now(),
		channels:  make(map[string]struct{}),
	}
	owned, ok := r.byKey[secret]
	if !ok {
		owned = make(map[string]struct{})
		r.byKey[secret] = owned
	}
	owned[connID] = struct{}{}

	r.keys.RecordConnection(secret, 1)

	r.logger.Debug("connection registered",
		logger.ConnectionID(connID),
		logger.APIKey(apikey.Mask(secret)))
	return nil
}

// UnregisterConnection removes a connection and every channel index entry it
// belonged to. Idempotent: returns false for unknown IDs.
func (r *Registry) UnregisterConnection(connID string) bool {
	r.mu.Lock()
	_, removed := r.removeLocked(connID)
	r.mu.Unlock()

	if removed {
		r.logger.Debug("connection unregistered", logger.ConnectionID(connID))
	}
	return removed
}

// Subscribe adds the connection to a channel. Re-subscribing is a no-op
// success. Fails for unknown connections and empty channel names.
func (r *Registry) Subscribe(connID, channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}

	c.channels[channel] = struct{}{}
	subs, ok := r.channels[channel]
	if !ok {
		subs = make(map[string]struct{})
		r.channels[channel] = subs
	}
	subs[connID] = struct{}{}
	return nil
}

// Unsubscribe removes the connection from a channel. Always succeeds, even
// if the connection is unknown or was never subscribed.
func (r *Registry) Unsubscribe(connID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[connID]; ok {
		delete(c.channels, channel)
	}
	if subs, ok := r.channels[channel]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.channels, channel)
		}
	}
}

// ConnectionsForChannel returns a snapshot of the channel's subscriber IDs.
// The live set may change concurrently; a connection removed after the
// snapshot may still see one delivery attempt, which the dispatcher must
// fail gracefully.
func (r *Registry) ConnectionsForChannel(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.channels[channel]
	if len(subs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// Subscriptions returns a snapshot of the channels one connection is
// subscribed to, or nil for unknown connections.
func (r *Registry) Subscriptions(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil
	}
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	return channels
}

// RevokeKey unregisters every connection owned by the key and returns their
// IDs so the session layer can close the sockets. A key with no live
// connections yields an empty result; whether the key itself exists is the
// key store's concern, not the registry's.
func (r *Registry) RevokeKey(secret string) []string {
	r.mu.Lock()
	owned := r.byKey[secret]
	ids := make([]string, 0, len(owned))
	for id := range owned {
		ids = append(ids, id)
	}
	for _, id := range ids {
		r.removeLocked(id)
	}
	r.mu.Unlock()

	if len(ids) > 0 {
		r.logger.Info("key connections evicted",
			logger.APIKey(apikey.Mask(secret)),
			slog.Int("count", len(ids)))
	}
	return ids
}

// RecordNotificationSent attributes one accepted submission to the key.
// Never fails; unknown keys are a no-op in the key store.
func (r *Registry) RecordNotificationSent(secret string) {
	r.keys.RecordNotification(secret)
}

// KeyFor returns the owning API key of a connection.
func (r *Registry) KeyFor(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	return c.key, true
}

// Stats returns current registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := 0
	for _, set := range r.channels {
		subs += len(set)
	}
	return Stats{
		Connections:   len(r.conns),
		Channels:      len(r.channels),
		Subscriptions: subs,
	}
}

// removeLocked deletes a connection from the connection map, the channel
// index, and the per-key ownership set, and decrements the key's active
// count. Caller must hold r.mu.
func (r *Registry) removeLocked(connID string) (string, bool) {
	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}

	for channel := range c.channels {
		if subs, ok := r.channels[channel]; ok {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(r.channels, channel)
			}
		}
	}

	if owned, ok := r.byKey[c.key]; ok {
		delete(owned, connID)
		if len(owned) == 0 {
			delete(r.byKey, c.key)
		}
	}

	delete(r.conns, connID)
	r.keys.RecordConnection(c.key, -1)
	return c.key, true
}
