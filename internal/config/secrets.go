package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/roundtable/internal/security"
)

type backendKeys struct {
	APIKey  string   `yaml:"api_key"`
	APIKeys []string `yaml:"api_keys"`
}

// Secrets returns every credential found in the configuration: backend
// API keys and the gateway token. Used to seed the log redactor.
func (c *Config) Secrets() []string {
	var out []string
	for _, b := range c.Backends {
		var k backendKeys
		if b.Settings.Kind == 0 {
			continue
		}
		if err := b.Settings.Decode(&k); err != nil {
			continue
		}
		for _, s := range append([]string{k.APIKey}, k.APIKeys...) {
			if s != "" {
				out = append(out, s)
			}
		}
	}
	if t := c.Gateway.Auth.BearerToken; t != "" {
		out = append(out, t)
	}
	return out
}

// Redacted returns the expanded configuration document as a generic map
// with every secret value masked.
func (c *Config) Redacted(r *security.Redactor) (map[string]any, error) {
	view := map[string]any{}
	if len(c.raw) > 0 {
		if err := yaml.Unmarshal(c.raw, &view); err != nil {
			return nil, fmt.Errorf("config: redacting: %w", err)
		}
	}
	r.RedactMap(view)
	return view, nil
}
