package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/md-rashed-zaman/ticketledger/libs/httpx"
	"github.com/md-rashed-zaman/ticketledger/libs/runtime"
)

// NewRouter mounts the ticket routes behind RequireIdentity, plus the
// unauthenticated health endpoints.
func NewRouter(h *TicketHandler, identity IdentityResolver, logger *slog.Logger, checks ...runtime.ReadyCheck) http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/healthz", runtime.HealthHandler())
	r.Get("/readyz", runtime.ReadyHandler(checks...))

	r.Group(func(r chi.Router) {
		r.Use(RequireIdentity(identity, logger))
		r.Post("/issue", h.Issue)
		r.Get("/total/{eventId}", h.TotalSold)
		r.Get("/transfarred/{eventId}", h.Transferred)
		r.Patch("/transfer", h.Transfer)
		r.Get("/details", h.Details)
	})
	return r
}
