package apikey

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Store is an in-memory client identity store keyed by API key secret.
// All methods are safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	keys       map[string]*record
	byOwner    map[string][]string
	signingKey []byte
	logger     *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for internal operations.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty key store. The signing key authenticates the
// structural signature on issued secrets and must be non-empty.
func NewStore(signingKey []byte, opts ...StoreOption) (*Store, error) {
	if len(signingKey) == 0 {
		return nil, ErrSigningKeyRequired
	}

	s := &Store{
		keys:       make(map[string]*record),
		byOwner:    make(map[string][]string),
		signingKey: signingKey,
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue creates a new API key and returns its secret. The secret is shown
// exactly once; all later listings return the masked form only.
// OwnerID may be empty for keys created outside an account session.
func (s *Store) Issue(label, ownerID string) (string, error) {
	if label == "" {
		return "", ErrLabelRequired
	}

	secret, err := generateSecret(s.signingKey)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.keys[secret] = &record{
		label:     label,
		ownerID:   ownerID,
		createdAt: time.Now(),
	}
	if ownerID != "" {
		s.byOwner[ownerID] = append(s.byOwner[ownerID], secret)
	}
	s.mu.Unlock()

	s.logger.Info("api key issued",
		logger.APIKey(Mask(secret)),
		slog.String("label", label))

	return secret, nil
}

// Validate checks that the secret is well formed and currently issued.
// Returns ErrInvalidKeyFormat for structurally bad secrets and
// ErrKeyNotFound for unknown or revoked ones.
func (s *Store) Validate(secret string) error {
	if !verifySecret(s.signingKey, secret) {
		return ErrInvalidKeyFormat
	}

	s.mu.RLock()
	_, ok := s.keys[secret]
	s.mu.RUnlock()

	if !ok {
		return ErrKeyNotFound
	}
	return nil
}

// Revoke removes the key. The caller is responsible for terminating
// connections attributed to it (see broker.Service.RevokeKey).
func (s *Store) Revoke(secret string) error {
	s.mu.Lock()
	rec, ok := s.keys[secret]
	if !ok {
		s.mu.Unlock()
		return ErrKeyNotFound
	}
	delete(s.keys, secret)
	if rec.ownerID != "" {
		owned := s.byOwner[rec.ownerID]
		for i, k := range owned {
			if k == secret {
				s.byOwner[rec.ownerID] = append(owned[:i], owned[i+1:]...)
				break
			}
		}
		if len(s.byOwner[rec.ownerID]) == 0 {
			delete(s.byOwner, rec.ownerID)
		}
	}
	s.mu.Unlock()

	s.logger.Info("api key revoked", logger.APIKey(Mask(secret)))
	return nil
}

// Get returns the masked view of a single key.
func (s *Store) Get(secret string) (KeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.keys[secret]
	if !ok {
		return KeyInfo{}, ErrKeyNotFound
	}
	return rec.info(secret), nil
}

// ListKeys returns masked key views for one owner, in issuance order.
// An empty owner ID returns nothing: ownerless keys are deliberately not
// enumerable through the owner listing.
func (s *Store) ListKeys(ownerID string) []KeyInfo {
	if ownerID == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	secrets := s.byOwner[ownerID]
	if len(secrets) == 0 {
		return nil
	}

	infos := make([]KeyInfo, 0, len(secrets))
	for _, secret := range secrets {
		if rec, ok := s.keys[secret]; ok {
			infos = append(infos, rec.info(secret))
		}
	}
	return infos
}

// RecordConnection adjusts the key's connection counters by delta.
// Positive deltas also bump the lifetime connection count and activity time.
// Unknown keys are a no-op so disconnect paths never fail on revoked keys.
func (s *Store) RecordConnection(secret string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[secret]
	if !ok {
		return
	}

	rec.stats.ActiveConnections += delta
	if rec.stats.ActiveConnections < 0 {
		rec.stats.ActiveConnections = 0
	}
	if delta > 0 {
		rec.stats.TotalConnections += int64(delta)
		rec.stats.LastActivityAt = time.Now()
	}
}

// RecordNotification bumps the key's lifetime notification count and
// activity time. Unknown keys are a no-op.
func (s *Store) RecordNotification(secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[secret]
	if !ok {
		return
	}
	rec.stats.TotalNotifications++
	rec.stats.LastActivityAt = time.Now()
}

// Count returns the number of issued keys.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (r *record) info(secret string) KeyInfo {
	return KeyInfo{
		Key:       Mask(secret),
		Label:     r.label,
		OwnerID:   r.ownerID,
		CreatedAt: r.createdAt,
		Stats:     r.stats,
	}
}
