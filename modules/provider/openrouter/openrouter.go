// Package openrouter registers the "openrouter" backend kind: an
// OpenAI-compatible backend preset for the OpenRouter API.
package openrouter

import (
	"log/slog"
	"maps"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/roundtable/internal/core"
	"github.com/flemzord/roundtable/internal/provider"
	"github.com/flemzord/roundtable/modules/provider/openaicompat"
)

// Kind is the backend kind this package registers.
const Kind = "openrouter"

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
	autoModel      = "openrouter/auto"
)

// Config is the kind-specific part of a backends[] entry.
type Config struct {
	APIKey    string   `yaml:"api_key"`
	APIKeys   []string `yaml:"api_keys"`
	Model     string   `yaml:"model"`
	BaseURL   string   `yaml:"base_url"`
	MaxTokens int      `yaml:"max_tokens"`
	// Referer and Title are OpenRouter's app attribution headers.
	Referer string            `yaml:"referer"`
	Title   string            `yaml:"title"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// compat translates c into an openaicompat configuration.
func (c Config) compat() openaicompat.Config {
	out := openaicompat.Config{
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey,
		APIKeys:   c.APIKeys,
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
		Timeout:   c.Timeout,
		Headers:   map[string]string{},
	}
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	if out.Model == "auto" {
		out.Model = autoModel
	}
	maps.Copy(out.Headers, c.Headers)
	if c.Referer != "" {
		out.Headers["HTTP-Referer"] = c.Referer
	}
	if c.Title != "" {
		out.Headers["X-Title"] = c.Title
	}
	return out
}

// New builds an OpenRouter backend.
func New(cfg Config, logger *slog.Logger) (*openaicompat.Provider, error) {
	var opts []openaicompat.Option
	if logger != nil {
		opts = append(opts, openaicompat.WithLogger(logger))
	}
	return openaicompat.New(cfg.compat(), opts...)
}

func init() {
	core.RegisterBackendKind(core.BackendKind{
		Name: Kind,
		New:  build,
	})
}

func build(ctx *core.AppContext, node *yaml.Node) (provider.Provider, error) {
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return nil, err
	}
	return New(cfg, ctx.Logger)
}
