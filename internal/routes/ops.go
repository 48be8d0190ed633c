package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/dukerupert/kaupa/internal/handler"
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/dukerupert/kaupa/internal/router"
)

const healthTimeout = 2 * time.Second

// RegisterOpsRoutes registers /health and /metrics. /metrics should be kept
// off the public internet by the proxy or firewall.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
		defer cancel()

		if deps.Ping != nil {
			if err := deps.Ping(ctx); err != nil {
				middleware.GetLogger(req.Context()).Warn("health check failed", "error", err)
				handler.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Metrics != nil {
		r.Get("/metrics", deps.Metrics.ServeHTTP)
	}

	r.NotFound(handler.NotFoundResponse)
}
