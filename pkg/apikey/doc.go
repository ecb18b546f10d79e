// Package apikey provides the broker's in-memory client identity store.
//
// Every producer and consumer identity is an issued API key. A key secret is
// a random payload with a truncated HMAC-SHA256 signature appended
// (nk_<payload>.<sig>), so structurally invalid secrets are rejected before
// any store lookup. Secrets are returned exactly once at issuance; every
// other surface (listings, logs) sees only the masked form.
//
// The store tracks per-key usage stats: lifetime and active connection
// counts, accepted submissions, and last activity time. Revoking a key
// removes it immediately; terminating the key's live connections is the
// responsibility of the caller that owns the connection registry.
package apikey
