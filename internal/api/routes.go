package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes builds the router. Management endpoints live under /api and require
// the principal header; tracking endpoints are public by design (they are
// fetched by recipients' mail clients) and carry their own HMAC.
func Routes(h *Handlers, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://localhost:*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Principal-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Tracking surface fetched from recipients' inboxes.
	r.Get("/track/open/{token}/{sig}", h.TrackOpen)
	r.Get("/track/click/{token}/{sig}", h.TrackClick)

	r.Route("/api", func(r chi.Router) {
		r.Use(requirePrincipal)

		r.Route("/sequences", func(r chi.Router) {
			r.Post("/", h.CreateSequence)
			r.Get("/", h.ListSequences)
			r.Route("/{sequenceID}", func(r chi.Router) {
				r.Get("/", h.GetSequence)
				r.Get("/steps", h.ListSteps)
				r.Post("/steps", h.AddStep)
				r.Post("/activate", h.ActivateSequence)
				r.Post("/pause", h.PauseSequence)
				r.Post("/archive", h.ArchiveSequence)
				r.Get("/stats", h.SequenceStats)
				r.Post("/enroll", h.Enroll)
				r.Post("/enroll/bulk", h.BulkEnroll)
				r.Get("/enrollments", h.ListEnrollments)
			})
		})

		r.Route("/enrollments/{enrollmentID}", func(r chi.Router) {
			r.Get("/", h.GetEnrollment)
			r.Post("/pause", h.PauseEnrollment)
			r.Post("/resume", h.ResumeEnrollment)
			r.Post("/stop", h.StopEnrollment)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Post("/{accountID}/enable", h.EnableAccount)
		})

		// Inbound signal adapters (reply detection, bounce notifications,
		// manual-channel delivery acknowledgements).
		r.Post("/webhooks/reply", h.ReplyWebhook)
		r.Post("/webhooks/bounce", h.BounceWebhook)
		r.Post("/webhooks/delivery", h.DeliveryAck)
	})

	return r
}
