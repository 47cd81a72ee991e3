package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/trackpulse/trackpulse/internal/api/middleware"
	"github.com/trackpulse/trackpulse/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler         http.HandlerFunc
	SubmitHandler         http.HandlerFunc
	SubmitPlaylistHandler http.HandlerFunc
	ActiveJobHandler      http.HandlerFunc
	GetJobHandler         http.HandlerFunc
	CancelJobHandler      http.HandlerFunc
	ListDLQHandler        http.HandlerFunc
	ReprocessHandler      http.HandlerFunc

	// Status ingress and WebSocket fan-out stay outside the rate-limited API
	// group: workers post bursts of progress and sockets are long-lived.
	NotifyHandler http.HandlerFunc
	WSHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Rate-limited API routes
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/analysis", orNotImplemented(deps.SubmitHandler))
		r.Post("/api/v1/analysis/playlist", orNotImplemented(deps.SubmitPlaylistHandler))
		r.Get("/api/v1/analysis/active", orNotImplemented(deps.ActiveJobHandler))
		r.Get("/api/v1/analysis/{batchID}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/v1/analysis/{batchID}/cancel", orNotImplemented(deps.CancelJobHandler))

		r.Get("/api/v1/dlq", orNotImplemented(deps.ListDLQHandler))
		r.Post("/api/v1/dlq/{messageID}/reprocess", orNotImplemented(deps.ReprocessHandler))
	})

	// Status plumbing
	r.Post("/notify", orNotImplemented(deps.NotifyHandler))
	r.Get("/ws", orNotImplemented(deps.WSHandler))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
