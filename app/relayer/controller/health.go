package controller

import (
	"context"
	"net/http"
	"time"
)

// HandleHealth reports the ledger head and, when enabled, Redis reachability.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	head, err := c.App.Ledger.ChainHead(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "errored", "error": "ledger unavailable"})
		return
	}
	body := map[string]any{"status": "ok", "head": head, "chainId": c.App.Config.ChainID}
	if c.App.RedisClient != nil {
		if err := c.App.RedisClient.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "errored", "error": "redis connection error"})
			return
		}
		body["redis"] = "ok"
	}
	writeJSON(w, http.StatusOK, body)
}
