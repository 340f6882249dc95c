package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes возвращает роутер со всеми маршрутами API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Recovery(h.logger))
	r.Use(Logging(h.logger))

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.Status)

		r.Route("/flows", func(r chi.Router) {
			r.Get("/", h.ListFlows)
			r.Post("/", h.RequestFlow)
			r.Get("/{code}", h.GetFlow)
			r.Get("/{code}/tasks", h.ListFlowTasks)
			r.Post("/{code}/cancel", h.CancelFlow)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.SearchTasks)
			r.Get("/{code}", h.GetTask)
			r.Post("/{code}/reset", h.ResetTask)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		MethodNotAllowed(w)
	})

	return r
}
