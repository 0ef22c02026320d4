// Package api exposes the Coffer engine over HTTP.
//
// Callers are authenticated upstream; the gateway forwards the user id in
// the X-User-ID header. Every /v1 route requires it except the payment
// webhook, which is authenticated by an HMAC signature of its body.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/coffer"
)

// UserHeader carries the authenticated caller's user id.
const UserHeader = "X-User-ID"

// Handler serves the Coffer HTTP API.
type Handler struct {
	coffer        *coffer.Coffer
	logger        *slog.Logger
	webhookSecret string
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithWebhookSecret sets the secret the payment gateway signs credit
// webhooks with. Without it the credit route refuses every request.
func WithWebhookSecret(secret string) Option {
	return func(h *Handler) { h.webhookSecret = secret }
}

// NewHandler creates a handler for c.
func NewHandler(c *coffer.Coffer, opts ...Option) *Handler {
	h := &Handler{coffer: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter mounts the API routes on a chi router.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.With(h.requireSignature).Post("/coins/credit", h.credit)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/unlock", h.unlock)
			r.Post("/coins/consume", h.consume)

			r.Get("/wallet", h.wallet)
			r.Get("/wallet/entries", h.walletEntries)
			r.Get("/entitlements", h.entitlements)

			r.Get("/premium", h.premium)
			r.Get("/premium/plans", h.plans)
			r.Post("/premium/subscribe", h.subscribe)

			r.Get("/engagement", h.engagement)
			r.Get("/engagement/leaderboard", h.leaderboard)
		})
	})
	return r
}
