// Package anthropic implements the "anthropic" backend kind on the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flemzord/roundtable/internal/provider"
)

// defaultModel is used when none is configured. Pinned to a dated release.
const defaultModel = "claude-sonnet-4-5-20250929"

// defaultMaxTokens applies when neither the request nor the config sets one.
// The Messages API requires max_tokens.
const defaultMaxTokens = 4096

// Config is the kind-specific part of a backends[] entry.
type Config struct {
	APIKey    string   `yaml:"api_key"`
	APIKeys   []string `yaml:"api_keys"`
	Model     string   `yaml:"model"`
	BaseURL   string   `yaml:"base_url"`
	MaxTokens int      `yaml:"max_tokens"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

// keys returns the configured keys, api_key first.
func (c *Config) keys() []string {
	var out []string
	if c.APIKey != "" {
		out = append(out, c.APIKey)
	}
	return append(out, c.APIKeys...)
}

func (c *Config) validate() error {
	var errs []error
	if len(c.keys()) == 0 {
		errs = append(errs, errors.New("provider.anthropic: api_key is required"))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("provider.anthropic: max_tokens must be positive, got %d", c.MaxTokens))
	}
	return errors.Join(errs...)
}

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithHTTPClient replaces the SDK's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Interface guards.
var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)

// Provider talks to one Anthropic model.
type Provider struct {
	config     Config
	client     sdkanthropic.Client
	auth       *provider.AuthProfile
	logger     *slog.Logger
	httpClient *http.Client
}

// New validates cfg and builds a Provider.
func New(cfg Config, opts ...Option) (*Provider, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	auth, err := provider.NewAuthProfile(cfg.keys()...)
	if err != nil {
		return nil, fmt.Errorf("provider.anthropic: %w", err)
	}

	p := &Provider{config: cfg, auth: auth}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(nopHandler{})
	}

	// The registry and executor own retries and failover.
	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(p.httpClient))
	}
	p.client = sdkanthropic.NewClient(clientOpts...)
	return p, nil
}

// Auth returns the key rotation profile. The registry rotates it when the
// backend reports a rate limit.
func (p *Provider) Auth() *provider.AuthProfile {
	return p.auth
}

// ModelName implements provider.Provider.
func (p *Provider) ModelName() string {
	return p.config.Model
}

// keyOption authenticates one request with the current key.
func (p *Provider) keyOption() option.RequestOption {
	return option.WithAPIKey(p.auth.CurrentKey())
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	params := p.buildParams(req)
	msg, err := p.client.Messages.New(ctx, params, p.keyOption())
	if err != nil {
		return provider.CompletionResponse{}, mapError(err)
	}
	return convertResponse(msg), nil
}

// HealthCheck sends a one-token completion. The Messages API has no
// dedicated health endpoint.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(p.config.Model),
		MaxTokens: 1,
		Messages: []sdkanthropic.MessageParam{
			sdkanthropic.NewUserMessage(sdkanthropic.NewTextBlock("ping")),
		},
	}, p.keyOption())
	return mapError(err)
}
