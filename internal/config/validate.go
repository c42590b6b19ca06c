package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/roundtable/internal/core"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the structural validity of a Config. Backend kinds are
// resolved against the kinds registered in core, so the packages that
// provide them must be imported first.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if cfg.LogLevel != "" && !slices.Contains(logLevels, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("config: log_level %q must be one of %v", cfg.LogLevel, logLevels))
	}

	known, backendErrs := validateBackends(cfg.Backends)
	errs = append(errs, backendErrs...)
	errs = append(errs, validateRoundtable(cfg.Roundtable, known)...)
	errs = append(errs, validateContext(cfg.Context, known)...)
	errs = append(errs, validateStore(cfg.Store)...)
	errs = append(errs, validateServices(cfg)...)

	return errors.Join(errs...)
}

// backendURL is the subset of a backend entry checked here. The kind
// validates the rest when it is built.
type backendURL struct {
	BaseURL string `yaml:"base_url"`
}

func validateBackends(backends []Backend) (map[string]struct{}, []error) {
	var errs []error
	if len(backends) == 0 {
		errs = append(errs, errors.New("config: at least one backend must be configured"))
	}

	known := make(map[string]struct{}, len(backends))
	for i, b := range backends {
		where := fmt.Sprintf("config: backends[%d]", i)
		if b.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else if _, dup := known[b.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", where, b.ID))
		} else {
			known[b.ID] = struct{}{}
			where = fmt.Sprintf("config: backend %q", b.ID)
		}

		if b.Kind == "" {
			errs = append(errs, fmt.Errorf("%s: kind is required", where))
		} else if _, ok := core.GetBackendKind(b.Kind); !ok {
			errs = append(errs, fmt.Errorf("%s: unknown kind %q (known: %v)", where, b.Kind, core.BackendKinds()))
		}

		if b.Concurrency < 0 {
			errs = append(errs, fmt.Errorf("%s: concurrency must be non-negative, got %d", where, b.Concurrency))
		}
		if b.Pricing.InputPerMTok < 0 || b.Pricing.OutputPerMTok < 0 {
			errs = append(errs, fmt.Errorf("%s: pricing must be non-negative", where))
		}

		var u backendURL
		if b.Settings.Kind == 0 {
			continue
		}
		if err := b.Settings.Decode(&u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		} else if u.BaseURL != "" {
			if parsed, err := url.Parse(u.BaseURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				errs = append(errs, fmt.Errorf("%s: base_url %q must be an http(s) URL", where, u.BaseURL))
			}
		}
	}
	return known, errs
}

func validateRoundtable(rt RoundtableConfig, known map[string]struct{}) []error {
	var errs []error
	if rt.Timeout < 0 {
		errs = append(errs, errors.New("config: roundtable.timeout must be non-negative"))
	}
	if rt.MaxConcurrency < 0 {
		errs = append(errs, errors.New("config: roundtable.max_concurrency must be non-negative"))
	}
	if rt.SimilarityThreshold < 0 || rt.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("config: roundtable.similarity_threshold %v must be within [0, 1]", rt.SimilarityThreshold))
	}
	for _, id := range rt.Priority {
		if _, ok := known[id]; !ok {
			errs = append(errs, fmt.Errorf("config: roundtable.priority references unknown backend %q", id))
		}
	}
	for from, to := range rt.Fallbacks {
		if _, ok := known[from]; !ok {
			errs = append(errs, fmt.Errorf("config: roundtable.fallbacks: unknown backend %q", from))
		}
		if to == "" {
			continue
		}
		if to == from {
			errs = append(errs, fmt.Errorf("config: roundtable.fallbacks: %q falls back to itself", from))
		} else if _, ok := known[to]; !ok {
			errs = append(errs, fmt.Errorf("config: roundtable.fallbacks: %q falls back to unknown backend %q", from, to))
		}
	}
	return errs
}

func validateContext(c ContextConfig, known map[string]struct{}) []error {
	var errs []error
	if c.Summarizer != "" {
		if _, ok := known[c.Summarizer]; !ok {
			errs = append(errs, fmt.Errorf("config: context.summarizer: unknown backend %q", c.Summarizer))
		}
	}
	for name, v := range map[string]int{
		"max_tokens":      c.MaxTokens,
		"ideal_tokens":    c.IdealTokens,
		"chunk_size":      c.ChunkSize,
		"assembly_tokens": c.AssemblyTokens,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("config: context.%s must be non-negative, got %d", name, v))
		}
	}
	if c.MaxTokens > 0 && c.IdealTokens > 0 && c.IdealTokens >= c.MaxTokens {
		errs = append(errs, fmt.Errorf("config: context.ideal_tokens (%d) must be below max_tokens (%d)", c.IdealTokens, c.MaxTokens))
	}
	if c.RelevanceFloor < 0 || c.RelevanceFloor > 1 {
		errs = append(errs, fmt.Errorf("config: context.relevance_floor %v must be within [0, 1]", c.RelevanceFloor))
	}
	if c.MergeThreshold < 0 || c.MergeThreshold > 1 {
		errs = append(errs, fmt.Errorf("config: context.merge_threshold %v must be within [0, 1]", c.MergeThreshold))
	}
	return errs
}

func validateStore(s StoreConfig) []error {
	switch s.Driver {
	case StoreMemory:
		return nil
	case StoreSQLite:
		if err := s.Config.Validate(); err != nil {
			return []error{fmt.Errorf("config: store: %w", err)}
		}
		return nil
	default:
		return []error{fmt.Errorf("config: store.driver %q must be %q or %q", s.Driver, StoreSQLite, StoreMemory)}
	}
}

func validateServices(cfg *Config) []error {
	var errs []error
	if cfg.Gateway.Bind != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.Gateway.Bind); err != nil {
			errs = append(errs, fmt.Errorf("config: gateway.bind %q: %w", cfg.Gateway.Bind, err))
		}
	}
	if r := cfg.Telemetry.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: telemetry.sample_rate %v must be within [0, 1]", r))
	}
	if cfg.Scheduler.Optimize != "" {
		if _, err := cron.ParseStandard(cfg.Scheduler.Optimize); err != nil {
			errs = append(errs, fmt.Errorf("config: scheduler.optimize: %w", err))
		}
	}
	return errs
}
