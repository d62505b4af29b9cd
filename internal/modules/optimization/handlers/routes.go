package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimization routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/optimize", h.HandleOptimize)
	r.Get("/optimize/stream", h.HandleStream)
	r.Post("/frontier", h.HandleFrontier)
	r.Post("/analyze", h.HandleAnalyze)

	r.Route("/cache", func(r chi.Router) {
		r.Delete("/", h.HandleClearCache)
		r.Get("/stats", h.HandleCacheStats)
	})
}
