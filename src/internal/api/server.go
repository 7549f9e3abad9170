// Package api is the Control Plane's HTTP surface.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cleanova/cleanova/src/internal/adapters/storage"
	"github.com/cleanova/cleanova/src/internal/auth"
	"github.com/cleanova/cleanova/src/internal/services"
)

// Deps are the services behind the API.
type Deps struct {
	Auth     *auth.Middleware
	Accounts *services.AccountService
	Catalog  *services.CatalogService
	Sessions *services.SessionManager
	// Media serves signed local objects; nil when the bucket is remote.
	Media           http.Handler
	EventsPerMinute int
	Logger          zerolog.Logger
}

type handlers struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	if d.EventsPerMinute <= 0 {
		d.EventsPerMinute = 600
	}
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger(d.Logger))

	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Pong"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if d.Media != nil {
		r.Handle(storage.MediaPrefix+"*", http.StripPrefix(storage.MediaPrefix, d.Media))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(d.Auth.RequireAuth)
		r.Get("/me", h.me)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSubscription)

			r.Get("/dashboard", h.dashboard)
			r.Get("/categories/{slug}", h.category)
			r.Get("/categories/{slug}/videos/{id}", h.videoDetail)
			r.Get("/videos/{id}", h.videoDetail)
			r.Get("/continue-watching", h.continueWatching)

			r.Post("/videos/{id}/sessions", h.openSession)
			r.Get("/sessions/{sid}", h.getSession)
			r.Delete("/sessions/{sid}", h.closeSession)
			r.Group(func(r chi.Router) {
				r.Use(perUserLimit(d.EventsPerMinute))
				r.Post("/sessions/{sid}/events", h.sessionEvent)
				r.Post("/sessions/{sid}/retry", h.retrySession)
			})
		})
	})
	return r
}
