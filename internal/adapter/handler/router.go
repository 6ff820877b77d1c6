package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the REST API and, when feed is non-nil, the websocket
// change feed at /feed.
func NewRouter(h *HTTPHandler, feed *FeedHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Get("/items", h.ListItems)
	r.Post("/items", h.CreateItem)
	r.Get("/items/{id}", h.GetItem)
	r.Put("/items/{id}", h.UpdateItem)
	r.Delete("/items/{id}", h.DeleteItem)

	r.Get("/movements", h.ListMovements)
	r.Get("/summary", h.Summary)

	if feed != nil {
		r.Get("/feed", feed.ServeHTTP)
	}
	return r
}
