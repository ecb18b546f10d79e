package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"
)

const (
	// Prefix identifies broker API keys in logs, headers and support tickets.
	Prefix = "nk_"

	// secretSize is the number of random bytes backing a key secret.
	secretSize = 24

	// sigSize is the truncated HMAC-SHA256 signature length appended to a key.
	sigSize = 8
)

// Stats tracks per-key usage counters.
type Stats struct {
	TotalConnections   int64     `json:"total_connections"`   // Lifetime connections ever registered.
	ActiveConnections  int       `json:"active_connections"`  // Currently open connections.
	TotalNotifications int64     `json:"total_notifications"` // Lifetime accepted submissions.
	LastActivityAt     time.Time `json:"last_activity_at"`    // Most recent connection or submission.
}

// KeyInfo is the externally visible view of a key. The secret is always masked.
type KeyInfo struct {
	Key       string    `json:"key"` // Masked, never the raw secret.
	Label     string    `json:"label"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Stats     Stats     `json:"stats"`
}

// record is the store's internal key state.
type record struct {
	label     string
	ownerID   string
	createdAt time.Time
	stats     Stats
}

// Mask obscures a key secret for logs and listings, keeping just enough of
// the prefix and tail to correlate with the issued value.
func Mask(secret string) string {
	const keep = 4
	body := strings.TrimPrefix(secret, Prefix)
	if len(body) <= keep*2 {
		return Prefix + "***"
	}
	return Prefix + body[:keep] + "..." + body[len(body)-keep:]
}

// generateSecret builds a signed key: nk_<payload>.<sig> where sig is a
// truncated HMAC-SHA256 of the payload. The signature lets Validate reject
// malformed or foreign keys without touching the store.
func generateSecret(signingKey []byte) (string, error) {
	raw := make([]byte, secretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	payload := base64.RawURLEncoding.EncodeToString(raw)
	sig := sign(signingKey, payload)
	return Prefix + payload + "." + sig, nil
}

// verifySecret checks the structural shape and signature of a key secret.
func verifySecret(signingKey []byte, secret string) bool {
	body, ok := strings.CutPrefix(secret, Prefix)
	if !ok {
		return false
	}
	payload, sig, ok := strings.Cut(body, ".")
	if !ok || payload == "" {
		return false
	}
	expected := sign(signingKey, payload)
	return hmac.Equal([]byte(sig), []byte(expected))
}

func sign(signingKey []byte, payload string) string {
	h := hmac.New(sha256.New, signingKey)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)[:sigSize])
}
