package openaicompat

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the settings of one OpenAI-compatible backend.
type Config struct {
	BaseURL   string            `yaml:"base_url"`
	APIKey    string            `yaml:"api_key"`
	APIKeys   []string          `yaml:"api_keys"`
	Model     string            `yaml:"model"`
	MaxTokens int               `yaml:"max_tokens"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// keys returns APIKey followed by APIKeys, skipping blanks.
func (c *Config) keys() []string {
	out := make([]string, 0, 1+len(c.APIKeys))
	for _, k := range append([]string{c.APIKey}, c.APIKeys...) {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func (c *Config) validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errMissingField("base_url"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("provider.openai_compatible: base_url %q must be an http(s) URL", c.BaseURL))
	}
	if len(c.keys()) == 0 {
		errs = append(errs, errMissingField("api_key"))
	}
	if c.Model == "" {
		errs = append(errs, errMissingField("model"))
	}
	return errors.Join(errs...)
}

// errMissingField returns a validation error for a missing required field.
func errMissingField(field string) error {
	return fmt.Errorf("provider.openai_compatible: %s is required", field)
}
