// Package completion is a client for the generic model-completion HTTP
// boundary: POST {base_url}/complete with a message list and settings,
// answered either by one JSON document or by a stream of typed SSE events
// ("chunk" then "metadata").
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flemzord/roundtable/internal/provider"
)

// Config holds the settings of one completion endpoint.
type Config struct {
	BaseURL string `yaml:"base_url"`
	// Backend is sent as preferredBackend and doubles as the model name.
	Backend string            `yaml:"backend"`
	APIKey  string            `yaml:"api_key"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

func (c *Config) validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("provider.completion: base_url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("provider.completion: base_url %q must be an http(s) URL", c.BaseURL))
	}
	if c.Backend == "" {
		errs = append(errs, errors.New("provider.completion: backend is required"))
	}
	return errors.Join(errs...)
}

// Wire types.

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireSettings struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Streaming   bool     `json:"streaming"`
}

type wireRequest struct {
	Messages         []wireMessage `json:"messages"`
	Settings         wireSettings  `json:"settings"`
	PreferredBackend string        `json:"preferredBackend,omitempty"`
}

type wireMetadata struct {
	Tokens       int     `json:"tokens"`
	Cost         float64 `json:"cost"`
	Latency      int64   `json:"latency"`
	FinishReason string  `json:"finishReason"`
}

type wireResponse struct {
	Content  string       `json:"content"`
	Metadata wireMetadata `json:"metadata"`
}

type wireEvent struct {
	Type     string        `json:"type"`
	Content  string        `json:"content,omitempty"`
	Metadata *wireMetadata `json:"metadata,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Option configures optional Provider behavior.
type Option func(*Provider)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements provider.Provider over the completion boundary.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New validates cfg and builds a Provider.
func New(cfg Config, opts ...Option) (*Provider, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Provider{config: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(nopHandler{})
	}
	if p.client == nil {
		p.client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		}
	}
	return p, nil
}

// ModelName implements provider.Provider.
func (p *Provider) ModelName() string {
	return p.config.Backend
}

// Complete implements provider.Provider.
func (p *Provider) Complete(ctx context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return provider.CompletionResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return provider.CompletionResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return provider.CompletionResponse{
		Content:      wr.Content,
		FinishReason: finishReason(wr.Metadata.FinishReason),
		Usage:        provider.TokenUsage{TotalTokens: wr.Metadata.Tokens},
		Cost:         wr.Metadata.Cost,
	}, nil
}

// Stream implements provider.Provider. The stream ends at EOF; the
// metadata event becomes the final chunk.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.StreamChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close() //nolint:errcheck // best-effort close

		send := func(c provider.StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				continue
			}

			var ev wireEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				send(provider.StreamChunk{Err: fmt.Errorf("parse event: %w", err)})
				return
			}
			if c, ok := eventChunk(ev); ok && !send(c) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				send(provider.StreamChunk{Err: ctx.Err()})
				return
			}
			send(provider.StreamChunk{Err: fmt.Errorf("%w: stream read error: %w", provider.ErrProviderDown, err)})
		}
	}()
	return out, nil
}

// eventChunk maps one typed event to a chunk. Unknown event types are
// skipped.
func eventChunk(ev wireEvent) (provider.StreamChunk, bool) {
	switch ev.Type {
	case "chunk":
		if ev.Content == "" {
			return provider.StreamChunk{}, false
		}
		return provider.StreamChunk{Content: ev.Content}, true
	case "metadata":
		if ev.Metadata == nil {
			return provider.StreamChunk{}, false
		}
		cost := ev.Metadata.Cost
		return provider.StreamChunk{
			FinishReason: finishReason(ev.Metadata.FinishReason),
			Usage:        &provider.TokenUsage{TotalTokens: ev.Metadata.Tokens},
			Cost:         &cost,
		}, true
	case "error":
		return provider.StreamChunk{Err: fmt.Errorf("%w: %s", provider.ErrProviderDown, ev.Error)}, true
	default:
		return provider.StreamChunk{}, false
	}
}

// HealthCheck implements provider.HealthChecker by probing /health.
func (p *Provider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	p.setHeaders(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check: %w", provider.ErrProviderDown, err)
	}
	defer resp.Body.Close()               //nolint:errcheck // best-effort close
	_, _ = io.Copy(io.Discard, resp.Body) // drain body
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health check returned HTTP %d", provider.ErrProviderDown, resp.StatusCode)
	}
	return nil
}

func (p *Provider) post(ctx context.Context, req provider.CompletionRequest, streaming bool) (*http.Response, error) {
	body := wireRequest{
		Messages: make([]wireMessage, len(req.Messages)),
		Settings: wireSettings{
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Streaming:   streaming,
		},
		PreferredBackend: p.config.Backend,
	}
	for i, m := range req.Messages {
		body.Messages[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/complete", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if streaming {
		hreq.Header.Set("Accept", "text/event-stream")
	}
	p.setHeaders(hreq)

	resp, err := p.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", provider.ErrProviderDown, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck // best-effort close
		return nil, statusError(resp)
	}
	p.logger.Debug("completion response", "backend", p.config.Backend, "stream", streaming)
	return resp, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}
}

const maxErrorBodySize = 4096

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimit, body)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", provider.ErrAuthentication, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", provider.ErrContextLength, body)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", provider.ErrProviderDown, resp.StatusCode, body)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
}

func finishReason(s string) provider.FinishReason {
	if s == "" {
		return provider.FinishReasonStop
	}
	return provider.FinishReason(s)
}

// Compile-time interface assertions.
var (
	_ provider.Provider      = (*Provider)(nil)
	_ provider.HealthChecker = (*Provider)(nil)
)
