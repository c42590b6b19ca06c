package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/roundtable/internal/provider"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"` // "ok" or "degraded"
	Uptime   int64             `json:"uptime_seconds"`
	Backends []provider.Status `json:"backends"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 if all backends are healthy, 503 if any is cooling down or dead.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Backends: []provider.Status{},
		}
		if !g.startedAt.IsZero() {
			resp.Uptime = int64(time.Since(g.startedAt).Seconds())
		}

		if g.deps.Backends != nil {
			resp.Backends = g.deps.Backends.HealthReport()
			for _, b := range resp.Backends {
				if b.State != provider.HealthHealthy {
					resp.Status = "degraded"
					break
				}
			}
		}

		code := http.StatusOK
		if resp.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// handleBackends lists backend health for GET /v1/backends.
func (g *Gateway) handleBackends() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		backends := []provider.Status{}
		if g.deps.Backends != nil {
			backends = g.deps.Backends.HealthReport()
		}
		writeJSON(w, http.StatusOK, backends)
	}
}

// handleGetConfig returns the running configuration with secrets redacted.
func (g *Gateway) handleGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if g.deps.Config == nil {
			http.Error(w, "config not available", http.StatusServiceUnavailable)
			return
		}
		view, err := g.deps.Config()
		if err != nil {
			g.logger.Error("config view failed", "error", err)
			http.Error(w, "failed to render config", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
