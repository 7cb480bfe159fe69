package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nkiryanov/labtrack/internal/handlers/render"
)

const healthTimeout = 2 * time.Second

func handleHealth(db pinger) http.Handler {
	type response struct {
		Status string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()

			if err := db.Ping(ctx); err != nil {
				render.Error(w, "unavailable", "Database is not reachable", http.StatusServiceUnavailable)
				return
			}
		}

		render.JSON(w, response{Status: "ok"})
	})
}
