// internal/api/handler.go
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperrors "github-visibility-bot/internal/errors"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WebhookReceiver accepts a Telegram webhook delivery.
type WebhookReceiver interface {
	Receive(r *http.Request) error
}

// Handler is the container for API dependencies.
type Handler struct {
	store   Pinger
	webhook WebhookReceiver
	secret  string
	logger  *slog.Logger
}

// NewRouter creates and configures a new chi router. The Telegram route is
// only mounted when webhook is non-nil.
func NewRouter(store Pinger, webhook WebhookReceiver, secret string, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:   store,
		webhook: webhook,
		secret:  secret,
		logger:  logger.With("component", "api"),
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.healthCheck)
	if webhook != nil {
		r.Post("/telegram/{secret}", h.telegramWebhook)
	}

	return r
}

// healthCheck reports ok when the store answers a ping.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// telegramWebhook hands a Telegram update to the bot.
// POST /telegram/{secret}
func (h *Handler) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.secret)) != 1 {
		h.logger.Warn("Rejected webhook call with a wrong secret", "remote_addr", r.RemoteAddr)
		respondWithError(w, http.StatusNotFound, "Not found")
		return
	}

	if err := h.webhook.Receive(r); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrValidation):
			respondWithError(w, http.StatusBadRequest, "Invalid update")
		case errors.Is(err, apperrors.ErrTransient):
			respondWithError(w, http.StatusServiceUnavailable, "Busy, retry later")
		default:
			h.logger.Error("Failed to accept webhook update", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
