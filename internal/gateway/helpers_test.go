package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/provider"
	"github.com/flemzord/roundtable/internal/provider/providertest"
	"github.com/flemzord/roundtable/internal/roundtable"
	"github.com/flemzord/roundtable/internal/slots"
	"github.com/flemzord/roundtable/internal/store"
)

type testEnv struct {
	gw       *Gateway
	handler  http.Handler
	store    *store.Memory
	registry *provider.Registry
}

// newTestEnv builds a gateway over a real executor and in-memory store.
// mutate may adjust the config and deps before construction.
func newTestEnv(t *testing.T, backends map[string]*providertest.MockProvider, mutate func(*Config, *Deps)) *testEnv {
	t.Helper()

	list := make([]provider.Backend, 0, len(backends))
	ids := make([]string, 0, len(backends))
	for id, p := range backends {
		list = append(list, provider.Backend{ID: id, Provider: p})
		ids = append(ids, id)
	}
	reg, err := provider.NewRegistry(list)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	sm, err := slots.NewManager()
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	mem := store.NewMemory()
	cfg := Config{}
	deps := Deps{
		Executor:        roundtable.NewExecutor(reg, sm, roundtable.WithFallbacks(roundtable.FallbackTable{})),
		Backends:        reg,
		Store:           mem,
		Engine:          ctxengine.NewEngine(ctxengine.Config{MaxTokens: 1000, IdealTokens: 100}),
		DefaultBackends: ids,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	gw, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{gw: gw, handler: gw.Handler(), store: mem, registry: reg}
}

// do sends a request through the router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
