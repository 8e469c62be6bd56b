// Package api exposes the engine's read/debug HTTP surface. The UI layer
// only ever reads snapshots; nothing here reaches into registry internals.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/registry"
)

// Options configures the HTTP handler.
type Options struct {
	RPS   float64
	Burst int
}

// Handler returns the JSON API router.
func Handler(reg *registry.Registry, opts Options) http.Handler {
	h := &handlers{reg: reg}
	lim := &limiterPool{rps: opts.RPS, burst: opts.Burst}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(lim.middleware, logRequests)
	v1.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions", h.startConversation).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", h.getSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", h.deleteSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/open", h.openSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/messages", h.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/messages/{msg}/retry", h.retryMessage).Methods(http.MethodPost)
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("incoming_request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

type handlers struct {
	reg *registry.Registry
}

// healthz reports engine readiness, not just process liveness: 503 until
// hydration completes, then the session count alongside the ok status.
func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	if !h.reg.Ready() {
		writeError(w, http.StatusServiceUnavailable, "hydrating")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(h.reg.Snapshot().Sessions),
	})
}

func (h *handlers) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.Snapshot())
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, ok := h.reg.Snapshot().Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) startConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Peer models.Participant `json:"peer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.reg.StartConversation(req.Peer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Info("conversation_started", "session", id)
	v, _ := h.reg.Snapshot().Session(id)
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) openSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.reg.OpenSession(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	v, _ := h.reg.Snapshot().Session(id)
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.reg.DeleteSession(id); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	logger.Info("session_deleted", "session", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	msg, err := h.reg.Send(r.Context(), id, req.Body)
	switch {
	case errors.Is(err, registry.ErrNoSession):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, registry.ErrEmptyBody):
		writeError(w, http.StatusBadRequest, "empty message body")
		return
	case errors.Is(err, registry.ErrIdentityNotReady):
		writeError(w, http.StatusConflict, "identity not ready")
		return
	case err != nil:
		// the optimistic message stays visible as failed; surface the
		// publish error so the UI can offer retry
		logger.Warn("publish_failed", "session", id, "message", msg.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "publish failed",
			"message": msg,
		})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *handlers) retryMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.reg.Retry(r.Context(), vars["id"], vars["msg"]); err != nil {
		switch {
		case errors.Is(err, registry.ErrNoSession):
			writeError(w, http.StatusNotFound, "message not found")
		case errors.Is(err, registry.ErrNotFailed):
			writeError(w, http.StatusConflict, "message is not failed")
		default:
			writeError(w, http.StatusBadGateway, "publish failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "republished"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
