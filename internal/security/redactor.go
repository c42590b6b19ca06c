// Package security keeps backend credentials out of logs and API output and
// throttles the gateway's admin surface.
package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder replaces every redacted secret.
const RedactPlaceholder = "***REDACTED***"

// secretKeyPattern matches map keys that likely hold secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|api_key|api_keys|credential|authorization)`)

// Redactor replaces secrets in strings and maps. It matches known API key
// formats by pattern and configured keys by literal value.
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor returns a Redactor with DefaultPatterns and the given
// literal secrets.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{patterns: DefaultPatterns()}
	for _, s := range secrets {
		r.AddLiteral(s)
	}
	return r
}

// AddPattern adds a compiled pattern.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// minLiteralLen keeps short values like "k" from blanking unrelated text.
const minLiteralLen = 6

// AddLiteral registers a secret value. Values shorter than six bytes and
// duplicates are ignored.
func (r *Redactor) AddLiteral(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minLiteralLen {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.literals {
		if l == secret {
			return
		}
	}
	r.literals = append(r.literals, secret)
	// Longest first so a key that contains another is replaced whole.
	for i := len(r.literals) - 1; i > 0 && len(r.literals[i]) > len(r.literals[i-1]); i-- {
		r.literals[i], r.literals[i-1] = r.literals[i-1], r.literals[i]
	}
}

// Redact replaces known patterns and literal secrets in s.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns, literals := r.patterns, r.literals
	r.mu.RUnlock()

	for _, lit := range literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	return s
}

// RedactMap walks a decoded YAML or JSON document in place. Non-empty
// values under secret-looking keys are replaced; other strings go through
// Redact.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			switch val := v.(type) {
			case string:
				if val != "" {
					m[k] = RedactPlaceholder
				}
				continue
			case []any:
				for i, item := range val {
					if s, ok := item.(string); ok && s != "" {
						val[i] = RedactPlaceholder
					}
				}
				continue
			}
		}
		m[k] = r.redactValue(v)
	}
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		r.RedactMap(val)
	case []any:
		for i, item := range val {
			val[i] = r.redactValue(item)
		}
	case string:
		return r.Redact(val)
	}
	return v
}

// DefaultPatterns returns patterns for common API key formats.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Anthropic before OpenAI: both start with sk-.
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-_]{20,}`),
		regexp.MustCompile(`sk-(proj-)?[a-zA-Z0-9\-_]{20,}`),
		regexp.MustCompile(`sk-or-v1-[a-f0-9]{32,}`),
		regexp.MustCompile(`gsk_[a-zA-Z0-9]{20,}`),
		regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`),
		regexp.MustCompile(`(?i)bearer\s+[a-z0-9\-_.=]{20,}`),
	}
}
