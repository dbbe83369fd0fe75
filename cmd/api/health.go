package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pixora/pixora-api/internal/pkg/response"
)

type pingFunc func(ctx context.Context) error

type countFunc func(ctx context.Context) (int, error)

// healthHandler reports "ok" only when every dependency answers a ping. Counts are
// informational backlogs; a failed count is reported but does not degrade the status.
func healthHandler(checks map[string]pingFunc, counts map[string]countFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]interface{}{"status": "ok"}
		healthy := true
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		for name, count := range counts {
			n, err := count(ctx)
			if err != nil {
				status[name] = err.Error()
				continue
			}
			status[name] = n
		}

		if !healthy {
			status["status"] = "degraded"
			response.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		response.OK(w, status)
	}
}
