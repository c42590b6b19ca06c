package openrouter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/roundtable/internal/provider"
)

func TestConfig_Compat(t *testing.T) {
	t.Parallel()

	data := `
api_key: sk-or-test
model: auto
referer: https://myapp.com
title: MyApp
headers:
  X-Extra: "1"
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(data), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	c := cfg.compat()
	if c.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q", c.BaseURL)
	}
	if c.Model != autoModel {
		t.Errorf("Model = %q, want %q", c.Model, autoModel)
	}
	if c.Timeout != defaultTimeout {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	want := map[string]string{"HTTP-Referer": "https://myapp.com", "X-Title": "MyApp", "X-Extra": "1"}
	for k, v := range want {
		if c.Headers[k] != v {
			t.Errorf("Headers[%s] = %q, want %q", k, c.Headers[k], v)
		}
	}
}

func TestConfig_CompatKeepsOverrides(t *testing.T) {
	t.Parallel()

	c := Config{APIKey: "k", Model: "openai/gpt-4o", BaseURL: "http://proxy/v1", Timeout: time.Second}.compat()
	if c.BaseURL != "http://proxy/v1" || c.Model != "openai/gpt-4o" || c.Timeout != time.Second {
		t.Fatalf("compat() = %+v", c)
	}
	if _, ok := c.Headers["X-Title"]; ok {
		t.Error("X-Title set without a title")
	}
}

func TestNew_RequiresKeyAndModel(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"api_key", "model"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestComplete_SendsAttribution(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		headers http.Header
		model   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		headers = r.Header.Clone()
		model = body.Model
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p, err := New(Config{
		APIKey:  "sk-or-test",
		Model:   "auto",
		BaseURL: srv.URL,
		Referer: "https://example.com",
		Title:   "Bot",
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(t.Context(), provider.CompletionRequest{
		Messages: []provider.LLMMessage{{Role: provider.MessageRoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q", resp.Content)
	}

	mu.Lock()
	defer mu.Unlock()
	if model != autoModel {
		t.Errorf("model = %q", model)
	}
	if headers.Get("HTTP-Referer") != "https://example.com" || headers.Get("X-Title") != "Bot" {
		t.Errorf("attribution headers = %v", headers)
	}
	if headers.Get("Authorization") != "Bearer sk-or-test" {
		t.Errorf("Authorization = %q", headers.Get("Authorization"))
	}
}
