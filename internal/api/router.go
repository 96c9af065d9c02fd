package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/spices/internal/harvester"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(m *harvester.Manager, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(m)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Across all types.
	r.Get("/status", h.Status)
	r.Get("/updates", h.ListUpdates)
	r.Post("/refresh", h.Refresh)
	r.Post("/upgrade", h.Upgrade)
	r.Post("/upgrade-all", h.UpgradeAll)

	// One type.
	r.Route("/spices/{type}", func(r chi.Router) {
		r.Get("/", h.ListIndex)
		r.Get("/installed", h.ListInstalled)
		r.Get("/search", h.Search)
		r.Post("/install-folder", h.InstallFolder)
		r.Post("/{uuid}/install", h.Install)
		r.Get("/{uuid}/preview", h.Preview)
		r.Delete("/{uuid}", h.Uninstall)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
