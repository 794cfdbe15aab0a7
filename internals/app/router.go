package app

import (
	middle "watchpost/internals/middleware"
	"watchpost/internals/modules/target"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func RegisterRoutes(c *Container) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middle.Logger(c.Logger))

	// persistent agent channel; no timeout middleware here, the connection
	// is long-lived
	r.Handle("/ws/agent", c.wsHandler)

	r.Get("/healthz", c.health)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.With(c.adminMW.Handle).
			Mount("/admin/targets", target.Routes(c.targetHandler))
	})

	return r
}
