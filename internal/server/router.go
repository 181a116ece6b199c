package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lumora-ai/lumora/internal/api"
	"github.com/lumora-ai/lumora/internal/api/handlers"
	"github.com/lumora-ai/lumora/internal/api/middleware"
)

type RouterConfig struct {
	ChunkHandler    *handlers.ChunkHandler
	RetrieveHandler *handlers.RetrieveHandler
	FlagHandler     *handlers.FlagHandler
	MetricsHandler  http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireOwner)

		r.Post("/sources", cfg.ChunkHandler.IngestSource)
		r.Post("/chunk", cfg.ChunkHandler.Chunk)
		r.Post("/retrieve", cfg.RetrieveHandler.Retrieve)
		r.Post("/route", cfg.RetrieveHandler.Route)
	})

	r.Route("/flags", func(r chi.Router) {
		r.Get("/", cfg.FlagHandler.List)
		r.Get("/{key}", cfg.FlagHandler.Get)
		r.Put("/{key}", cfg.FlagHandler.Set)
	})

	return r
}
