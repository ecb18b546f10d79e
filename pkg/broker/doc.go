// Package broker wires the notification pipeline behind an HTTP surface.
//
// The Service owns the table of open WebSocket sessions and plays three
// roles around it: dispatcher for the delivery engine, subscriber resolver
// over the registry, and session lister for the heartbeat monitor. Router
// exposes REST ingestion (POST /api/notifications), observability
// (GET /api/stats, DELETE /api/queue), key management (/api/keys), and the
// WebSocket endpoint (GET /ws).
package broker
