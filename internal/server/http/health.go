package http

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	_ = encodeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready probes every registered dependency and answers 503 naming the ones
// that failed.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for _, rc := range h.readiness {
		if err := rc.Check(ctx); err != nil {
			h.logger.Warn().Err(err).Str("dependency", rc.Name).Msg("readiness check failed")
			failed[rc.Name] = err.Error()
		}
	}

	if len(failed) > 0 {
		if !h.debug {
			for name := range failed {
				failed[name] = "unavailable"
			}
		}
		_ = encodeJSONResponse(w, http.StatusServiceUnavailable, failed)
		return
	}
	_, _ = w.Write([]byte("OK"))
}
