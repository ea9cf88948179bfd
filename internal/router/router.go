package router

import (
	"net/http"

	"listing-snapshot-api/internal/handler"
	"listing-snapshot-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	ListingHandler *handler.ListingHandler
	QueueHandler   *handler.QueueHandler
	AdminHandler   *handler.AdminHandler
	Metrics        http.Handler
	MaxBodyBytes   int64
	Logger         *zap.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check endpoints
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		// Snapshot endpoints
		if cfg.ListingHandler != nil {
			r.Route("/listings", func(r chi.Router) {
				r.Get("/", cfg.ListingHandler.ListSnapshots)
				r.Post("/", cfg.ListingHandler.SaveSnapshot)
				r.Get("/{sku}", cfg.ListingHandler.GetSnapshot)
				r.Post("/{sku}/refresh", cfg.ListingHandler.RequestRefresh)
			})
			r.Get("/names/{sku}", cfg.ListingHandler.ResolveName)
		}

		// Queue administration
		if cfg.QueueHandler != nil {
			r.Route("/queue", func(r chi.Router) {
				r.Get("/", cfg.QueueHandler.Counts)
				r.Get("/paused", cfg.QueueHandler.IsPaused)
				r.Post("/pause", cfg.QueueHandler.Pause)
				r.Post("/resume", cfg.QueueHandler.Resume)
			})
		}

		// Admin endpoints
		if cfg.AdminHandler != nil {
			r.Get("/admin/stats", cfg.AdminHandler.GetStats)
		}
	})

	return r
}
