/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/services/*      Service and schedule management
  /api/counterparts/*  Counterpart and payout account reconciliation
  /api/transactions/*  Bank feed import

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Service routes
		r.Route("/services", func(r chi.Router) {
			r.Get("/", h.ListServices)
			r.Post("/", h.CreateService)

			// Schedule entry routes. The static "schedules" segment takes
			// precedence over the {publicId} parameter.
			r.Route("/schedules/{id}", func(r chi.Router) {
				r.Post("/", h.EditEntry)
				r.Post("/pay", h.PayEntry)
				r.Post("/unlink", h.UnlinkEntry)
				r.Post("/skip", h.SkipEntry)
				r.Get("/suggestions", h.SuggestMatches)
			})

			r.Route("/{publicId}", func(r chi.Router) {
				r.Get("/", h.GetService)
				r.Get("/schedules", h.ListSchedules)
				r.Post("/schedules", h.GenerateSchedules)
				r.Post("/archive", h.ArchiveService)
			})
		})

		// Counterpart routes
		r.Route("/counterparts", func(r chi.Router) {
			r.Get("/", h.ListCounterparts)
			r.Post("/", h.CreateCounterpart)
			r.Post("/attach-rut", h.AttachByRut)
			r.Get("/suggestions", h.CounterpartSuggestions)
			r.Get("/unassigned-payout", h.UnassignedPayout)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCounterpart)
				r.Put("/", h.UpdateCounterpart)
				r.Post("/attach-rut", h.AttachToCounterpart)
			})
		})

		// Transaction feed routes
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/import", h.ImportTransactions)
		})
	})

	return r
}
