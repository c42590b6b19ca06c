package roundtable

// FallbackTable maps a backend to the single sibling tried when it fails.
type FallbackTable map[string]string

// DefaultFallbacks sends expensive backends to a cheaper sibling.
var DefaultFallbacks = FallbackTable{
	"o1":            "gpt-4o",
	"gpt-4o":        "gpt-4o-mini",
	"gpt-4-turbo":   "gpt-4o-mini",
	"claude-opus":   "claude-sonnet",
	"claude-sonnet": "claude-haiku",
	"gemini-pro":    "gemini-flash",
	"mistral-large": "mistral-small",
	"llama-3-70b":   "llama-3-8b",
}

// Lookup returns the fallback for backend, if one is configured.
func (t FallbackTable) Lookup(backend string) (string, bool) {
	fb, ok := t[backend]
	if !ok || fb == "" || fb == backend {
		return "", false
	}
	return fb, true
}

// Merge returns a copy of t with overrides applied. An empty override
// value removes the entry.
func (t FallbackTable) Merge(overrides map[string]string) FallbackTable {
	out := make(FallbackTable, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
