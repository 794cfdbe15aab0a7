package target

import (
	"github.com/go-chi/chi/v5"
)

func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Patch("/{targetID}/enabled", h.SetEnabled)
	r.Post("/{targetID}/notify", h.ForceNotify)

	return r
}

/*
- POST: /admin/targets              -> register a target for monitoring
- PATCH: /admin/targets/{id}/enabled -> pause/resume monitoring
- POST: /admin/targets/{id}/notify   -> force-run the notification throttle
*/
