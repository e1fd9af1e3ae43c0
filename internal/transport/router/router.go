package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Artemiy111/shop.biplane-design.com/internal/transport/handler"
)

func NewRouter(h *handler.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/events/images", h.ImageEvents)

		r.Route("/models/{modelID}/images", func(r chi.Router) {
			r.Get("/", h.ListModelImages)
			r.Post("/", h.UploadImage)
			r.Patch("/{imageID}/order", h.UpdateImageOrder)
			r.Post("/{imageID}/reprocess", h.ReprocessImage)
			r.Delete("/{imageID}", h.DeleteImage)
		})
	})

	return r
}
