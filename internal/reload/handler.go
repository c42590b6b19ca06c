// Package reload applies configuration file changes to a running process.
// Fallback overrides and context budgets take effect immediately; changes
// to any other section are reported as needing a restart.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/roundtable/internal/config"
	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/roundtable"
)

// FallbackSetter is satisfied by *roundtable.Executor.
type FallbackSetter interface {
	SetFallbacks(roundtable.FallbackTable)
}

// ContextSetter is satisfied by *ctxengine.Engine.
type ContextSetter interface {
	SetConfig(ctxengine.Config)
}

// Targets are the live components a reload updates. Nil targets are skipped.
type Targets struct {
	Fallbacks FallbackSetter
	Context   ContextSetter
}

// Report describes what a reload changed.
type Report struct {
	// Applied lists the sections updated in place.
	Applied []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
}

// Handler loads the configuration file and applies it to Targets.
type Handler struct {
	path    string
	targets Targets
	logger  *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[config.Config]
}

// NewHandler creates a handler for the file at path. current is the
// configuration the process was started with.
func NewHandler(path string, current *config.Config, targets Targets, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{path: path, targets: targets, logger: logger}
	h.current.Store(current)
	return h
}

// Current returns the last configuration successfully loaded.
func (h *Handler) Current() *config.Config {
	return h.current.Load()
}

// Reload reads and validates the file, then applies the hot sections. An
// invalid file leaves the running configuration untouched.
func (h *Handler) Reload(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("reload: %w", err)
	}

	next, err := config.Load(h.path)
	if err != nil {
		return Report{}, fmt.Errorf("reload: %w", err)
	}
	if err := config.Validate(next); err != nil {
		return Report{}, fmt.Errorf("reload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	report := Diff(h.current.Load(), next)
	for _, section := range report.Applied {
		switch section {
		case "roundtable.fallbacks":
			if h.targets.Fallbacks != nil {
				h.targets.Fallbacks.SetFallbacks(roundtable.DefaultFallbacks.Merge(next.Roundtable.Fallbacks))
			}
		case "context":
			if h.targets.Context != nil {
				h.targets.Context.SetConfig(next.Context.Config)
			}
		}
	}
	h.current.Store(next)

	if len(report.Applied) == 0 && len(report.Restart) == 0 {
		h.logger.Debug("configuration unchanged", "path", h.path)
	} else {
		h.logger.Info("configuration reloaded", "path", h.path, "applied", report.Applied)
	}
	if len(report.Restart) > 0 {
		h.logger.Warn("configuration changes need a restart", "sections", report.Restart)
	}
	return report, nil
}

// Diff compares two configurations section by section.
func Diff(prev, next *config.Config) Report {
	var r Report
	if !maps.Equal(prev.Roundtable.Fallbacks, next.Roundtable.Fallbacks) {
		r.Applied = append(r.Applied, "roundtable.fallbacks")
	}
	if prev.Context.Config != next.Context.Config {
		r.Applied = append(r.Applied, "context")
	}

	restart := []struct {
		name    string
		changed bool
	}{
		{"log_level", prev.LogLevel != next.LogLevel},
		{"data_dir", prev.DataDir != next.DataDir},
		{"backends", !backendsEqual(prev.Backends, next.Backends)},
		{"roundtable", !reflect.DeepEqual(prev.Roundtable.Strategy, next.Roundtable.Strategy)},
		{"context.summarizer", prev.Context.Summarizer != next.Context.Summarizer},
		{"store", !reflect.DeepEqual(prev.Store, next.Store)},
		{"gateway", !reflect.DeepEqual(prev.Gateway, next.Gateway)},
		{"telemetry", !reflect.DeepEqual(prev.Telemetry, next.Telemetry)},
		{"scheduler", prev.Scheduler != next.Scheduler},
		{"reload", prev.Reload != next.Reload},
	}
	for _, s := range restart {
		if s.changed {
			r.Restart = append(r.Restart, s.name)
		}
	}
	return r
}

// backendsEqual compares entries by their decoded settings. Node positions
// are ignored so that moving an entry within the file is not a change.
func backendsEqual(a, b []config.Backend) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Kind != b[i].Kind || a[i].Concurrency != b[i].Concurrency ||
			a[i].Pricing != b[i].Pricing || !reflect.DeepEqual(a[i].Health, b[i].Health) {
			return false
		}
		if !nodeEqual(&a[i].Settings, &b[i].Settings) {
			return false
		}
	}
	return true
}

func nodeEqual(a, b *yaml.Node) bool {
	var va, vb any
	if a.Kind != 0 {
		if err := a.Decode(&va); err != nil {
			return false
		}
	}
	if b.Kind != 0 {
		if err := b.Decode(&vb); err != nil {
			return false
		}
	}
	return reflect.DeepEqual(va, vb)
}
