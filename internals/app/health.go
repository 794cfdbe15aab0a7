package app

import (
	"context"
	"net/http"
	"time"
	"watchpost/pkg/utils"

	"github.com/go-chi/chi/v5/middleware"
)

type healthStatus struct {
	Store      string `json:"store"`
	Redis      string `json:"redis,omitempty"`
	Sessions   int    `json:"sessions"`
	Dispatcher string `json:"dispatcher"`
}

// health reports store connectivity and registry size for operators.
func (c *Container) health(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := healthStatus{
		Store:      "ok",
		Sessions:   c.Registry.Count(),
		Dispatcher: "stopped",
	}
	httpStatus := http.StatusOK

	if err := c.PersistGW.Ping(ctx); err != nil {
		status.Store = "unreachable"
		httpStatus = http.StatusServiceUnavailable
	}

	if c.RedisClient != nil {
		status.Redis = "ok"
		if err := c.RedisClient.Ping(ctx); err != nil {
			status.Redis = "unreachable"
		}
	}

	if c.Dispatch.Running() {
		status.Dispatcher = "running"
	}

	utils.WriteJSON(w, httpStatus, reqID, "health", status)
}
