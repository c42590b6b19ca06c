package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flemzord/roundtable/internal/security"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(g.metricsMiddleware)

	// Public, no auth.
	r.Get("/health", g.handleHealth())
	if g.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", g.deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(tokenGuard(g.config.Auth.BearerToken, g.deps.Audit, g.deps.Limiter))
		}

		r.Post("/roundtable", g.handleRoundtable())
		r.Get("/roundtable/ws", g.handleRoundtableWS())
		r.Get("/backends", g.handleBackends())
		r.Get("/config", g.handleGetConfig())

		r.Get("/projects", g.handleListProjects())
		r.Route("/projects/{project}", func(r chi.Router) {
			r.Get("/items", g.handleListItems())
			r.Put("/items/{id}", g.handlePutItem())
			r.Delete("/items/{id}", g.handleDeleteItem())
			r.Get("/analysis", g.handleAnalyze())
			r.Post("/optimize", g.handleOptimize())
			r.Post("/truncate", g.handleTruncate())
		})
	})

	return r
}

// metricsMiddleware records one request counter per route pattern.
func (g *Gateway) metricsMiddleware(next http.Handler) http.Handler {
	if g.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		g.deps.Metrics.ObserveRequest(route, r.Method, status)
	})
}

// allow applies the rate limiter bucket and writes 429 when it is full.
func (g *Gateway) allow(w http.ResponseWriter, r *http.Request, bucket string) bool {
	if g.deps.Limiter == nil {
		return true
	}
	if err := g.deps.Limiter.Allow(bucket); err != nil {
		g.deps.Audit.Log(security.AuditEvent{
			Type:       security.EventRateLimit,
			RemoteAddr: r.RemoteAddr,
			Detail:     bucket,
		})
		writeError(w, http.StatusTooManyRequests, err)
		return false
	}
	return true
}

// decodeBody reads a size and depth bounded JSON body into v.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := security.DecodeJSON(r.Body, g.config.MaxBodyBytes, security.DefaultMaxJSONDepth, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, security.ErrBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
	return false
}

// decodeOptionalBody is decodeBody for endpoints whose body may be
// omitted entirely.
func (g *Gateway) decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	return g.decodeBody(w, r, v)
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
