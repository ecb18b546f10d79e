package broker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

const headerAPIKey = "X-API-Key"

// Router builds the broker's HTTP surface: REST ingestion and management
// endpoints plus the WebSocket upgrade path.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/notifications", s.handleSubmit)
		r.Get("/stats", s.handleStats)
		r.Delete("/queue", s.handleClearQueue)

		r.Route("/keys", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/", s.handleIssueKey)
			r.Get("/", s.handleListKeys)
			r.Delete("/{key}", s.handleRevokeKey)
		})
	})

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

// requireAdmin guards key management when an admin token is configured.
func (s *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" && r.Header.Get("X-Admin-Token") != s.cfg.AdminToken {
			writeError(w, http.StatusUnauthorized, "AuthenticationError", "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req delivery.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}
	req.APIKey = r.Header.Get(headerAPIKey)

	receipt, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Service) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apikey.ErrKeyNotFound), errors.Is(err, apikey.ErrInvalidKeyFormat):
		writeError(w, http.StatusUnauthorized, "AuthenticationError", "invalid api key")
	case errors.Is(err, queue.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "QueueFullError", "queue is at capacity, retry later")
	case errors.Is(err, delivery.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, "ServiceUnavailable", "broker is shutting down")
	default:
		// Remaining enqueue failures are malformed submissions.
		writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
	}

	s.logger.DebugContext(r.Context(), "submission rejected", logger.Error(err))
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Service) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	removed := s.engine.ClearQueue()
	s.logger.InfoContext(r.Context(), "queue cleared", slog.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Service) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label   string `json:"label"`
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid request body")
		return
	}

	key, err := s.store.Issue(req.Label, req.OwnerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}

	// The only time the full secret leaves the broker.
	writeJSON(w, http.StatusCreated, map[string]string{
		"key":   key,
		"label": req.Label,
	})
}

func (s *Service) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.store.ListKeys(r.URL.Query().Get("owner_id"))
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Service) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	err := s.RevokeKey(chi.URLParam(r, "key"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, apikey.ErrKeyNotFound), errors.Is(err, apikey.ErrInvalidKeyFormat):
		writeError(w, http.StatusNotFound, "ValidationError", "unknown key")
	default:
		writeError(w, http.StatusInternalServerError, "InternalError", "revoke failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, name, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"name":    name,
			"message": message,
		},
	})
}
