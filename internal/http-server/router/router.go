package router

import (
	"net/http"

	"facecraft/internal/http-server/handler/health"
	"facecraft/internal/http-server/handler/portrait"
	"facecraft/internal/http-server/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	PortraitHandler *portrait.PortraitHandler
	HealthHandler   *health.HealthHandler
}

type Options struct {
	APIKey      string
	CORSOrigins []string
}

func SetupRouter(h *Handler, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.CORS(opts.CORSOrigins))

	r.Get("/health", h.HealthHandler.Health)
	r.Get("/ready", h.HealthHandler.Ready)
	r.Get("/status", h.HealthHandler.Status)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(opts.APIKey))

		r.Route("/process", func(r chi.Router) {
			r.Post("/", h.PortraitHandler.Process)
			r.Post("/quick", h.PortraitHandler.Quick)
			r.Post("/batch", h.PortraitHandler.Batch)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.PortraitHandler.SubmitJob)
			r.Get("/{id}", h.PortraitHandler.GetJob)
			r.Delete("/{id}", h.PortraitHandler.DeleteJob)
		})

		r.Get("/download/{id}/{kind}", h.PortraitHandler.Download)
		r.Delete("/statistics", h.HealthHandler.ResetStatistics)
	})

	return r
}
