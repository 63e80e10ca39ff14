package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
)

// NewRouter builds the API. metrics may be nil.
func NewRouter(h *EventHandler, auth *Authenticator, log logr.Logger, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS)                    // permissive CORS

	r.Get("/health", HealthCheck)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Get("/{id}/counts", h.Counts)
		r.Get("/{id}/availability", h.Availability)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Post("/{id}/register", h.Register)
			r.Post("/{id}/cancel", h.CancelOwn)
			r.Get("/{id}/registrations", h.ListRegistrations)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/", h.CreateEvent)
				r.Patch("/{id}/status", h.SetEventStatus)
				r.Patch("/{id}/capacity", h.SetCapacity)
			})
		})
	})

	r.With(auth.Require).Get("/volunteers/{id}/registrations", h.ListVolunteerRegistrations)

	r.Route("/registrations", func(r chi.Router) {
		r.Use(auth.Require)
		r.Post("/{id}/cancel", h.CancelRegistration)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/{id}/confirm", h.ConfirmRegistration)
			r.Post("/{id}/attendance", h.MarkAttendance)
			r.Delete("/{id}", h.DeleteRegistration)
		})
	})

	return r
}
