package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/provider"
	"github.com/flemzord/roundtable/internal/provider/providertest"
	"github.com/flemzord/roundtable/internal/store"
	"github.com/flemzord/roundtable/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	c.defaults()

	if c.Bind != "127.0.0.1:8080" {
		t.Errorf("Bind = %q, want default", c.Bind)
	}
	if c.ReadTimeout != 10*time.Second || c.WriteTimeout != 5*time.Minute || c.ShutdownTimeout != 5*time.Second {
		t.Errorf("timeouts = %v %v %v", c.ReadTimeout, c.WriteTimeout, c.ShutdownTimeout)
	}
	if c.MaxBodyBytes <= 0 {
		t.Errorf("MaxBodyBytes = %d", c.MaxBodyBytes)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"loopback without token", Config{Bind: "127.0.0.1:8080"}, ""},
		{"localhost without token", Config{Bind: "localhost:8080"}, ""},
		{"ipv6 loopback", Config{Bind: "[::1]:8080"}, ""},
		{"public with token", Config{Bind: "0.0.0.0:8080", Auth: AuthConfig{BearerToken: "t"}}, ""},
		{"public without token", Config{Bind: "0.0.0.0:8080"}, "bearer_token is required"},
		{"garbage bind", Config{Bind: "nope"}, "invalid bind address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("validate() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{Store: store.NewMemory(), Engine: ctxengine.NewEngine(ctxengine.Config{})})
	if err == nil || !strings.Contains(err.Error(), "executor, store and engine are required") {
		t.Fatalf("New() = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]*providertest.MockProvider{"a": providertest.Replying("hi")}, func(c *Config, _ *Deps) {
		c.Bind = "127.0.0.1:0"
	})
	if err := env.gw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + env.gw.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := env.gw.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := http.Get("http://" + env.gw.Addr() + "/health"); err == nil {
		t.Fatal("server still answering after Stop")
	}
}

func TestGateway_StopWithoutStart(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]*providertest.MockProvider{"a": providertest.Replying("hi")}, nil)
	if err := env.gw.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Health, metrics, config
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]*providertest.MockProvider{"a": providertest.Replying("hi"), "b": providertest.Replying("yo")}, nil)

	rr := env.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	resp := decode[HealthResponse](t, rr)
	if resp.Status != "ok" || len(resp.Backends) != 2 {
		t.Fatalf("health = %+v", resp)
	}

	h, err := env.registry.Get("b")
	if err != nil {
		t.Fatal(err)
	}
	h.Report(provider.ErrProviderDown)

	rr = env.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status after failure = %d, want 503", rr.Code)
	}
	if resp := decode[HealthResponse](t, rr); resp.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", resp.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m := telemetry.NewMetrics()
	env := newTestEnv(t, map[string]*providertest.MockProvider{"a": providertest.Replying("hi")}, func(_ *Config, d *Deps) {
		d.Metrics = m
	})

	env.do(t, http.MethodGet, "/health", nil)
	rr := env.do(t, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `roundtable_http_requests_total{method="GET",route="/health",status="OK"} 1`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
}

func TestGetConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]*providertest.MockProvider{"a": providertest.Replying("hi")}, func(_ *Config, d *Deps) {
		d.Config = func() (map[string]any, error) {
			return map[string]any{"version": "1"}, nil
		}
	})
	rr := env.do(t, http.MethodGet, "/v1/config", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decode[map[string]any](t, rr); got["version"] != "1" {
		t.Fatalf("config = %v", got)
	}

	bare := newTestEnv(t, map[string]*providertest.MockProvider{"a": providertest.Replying("hi")}, nil)
	if rr := bare.do(t, http.MethodGet, "/v1/config", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status without view = %d, want 503", rr.Code)
	}
}

func TestV1_RequiresTokenWhenConfigured(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, map[string]*providertest.MockProvider{"a": providertest.Replying("hi")}, func(c *Config, _ *Deps) {
		c.Auth.BearerToken = "secret-token"
	})

	if rr := env.do(t, http.MethodGet, "/v1/backends", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("without token = %d, want 401", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/v1/backends", nil, "Authorization", "Bearer secret-token"); rr.Code != http.StatusOK {
		t.Fatalf("with token = %d, want 200", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("/health = %d, want public 200", rr.Code)
	}
}
