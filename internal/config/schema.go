// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for roundtable.
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/gateway"
	"github.com/flemzord/roundtable/internal/provider"
	"github.com/flemzord/roundtable/internal/roundtable"
	"github.com/flemzord/roundtable/internal/telemetry"
	"github.com/flemzord/roundtable/modules/store/sqlite"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// LogLevel is one of debug, info, warn or error. Default: info.
	LogLevel string `yaml:"log_level"`

	// DataDir holds persistent state. Defaults to the XDG data directory.
	DataDir string `yaml:"data_dir"`

	Backends   []Backend               `yaml:"backends"`
	Roundtable RoundtableConfig        `yaml:"roundtable"`
	Context    ContextConfig           `yaml:"context"`
	Store      StoreConfig             `yaml:"store"`
	Gateway    gateway.Config          `yaml:"gateway"`
	Telemetry  telemetry.TracingConfig `yaml:"telemetry"`
	Scheduler  SchedulerConfig         `yaml:"scheduler"`
	Reload     ReloadConfig            `yaml:"reload"`

	// raw is the expanded document, kept for the redacted view.
	raw []byte
}

// Backend is one backends[] entry. The fields below are common to every
// kind; the rest of the entry is decoded by the kind itself from Settings.
type Backend struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`

	// Concurrency caps in-flight calls to this backend. Zero uses the
	// slot manager's default.
	Concurrency int `yaml:"concurrency"`

	Pricing provider.Pricing      `yaml:"pricing"`
	Health  provider.HealthConfig `yaml:"health"`

	// Settings is the complete YAML entry.
	Settings yaml.Node `yaml:"-"`
}

// UnmarshalYAML decodes the common fields and keeps the node for the kind.
func (b *Backend) UnmarshalYAML(node *yaml.Node) error {
	type plain Backend
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*b = Backend(p)
	b.Settings = *node
	return nil
}

// RoundtableConfig is the default execution strategy plus fallback
// overrides.
type RoundtableConfig struct {
	roundtable.Strategy `yaml:",inline"`

	// Fallbacks maps a backend id to the id retried when it fails. Entries
	// override the built-in table.
	Fallbacks map[string]string `yaml:"fallbacks"`
}

// ContextConfig is the budget engine configuration plus the backend used
// to write conversation summaries.
type ContextConfig struct {
	ctxengine.Config `yaml:",inline"`

	// Summarizer is a backend id. Empty uses the extractive summarizer.
	Summarizer string `yaml:"summarizer"`
}

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// StoreConfig selects the context store.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver        string `yaml:"driver"`
	sqlite.Config `yaml:",inline"`
}

// SchedulerConfig holds cron expressions for background jobs. An empty
// expression disables the job.
type SchedulerConfig struct {
	Optimize string `yaml:"optimize"`
}

// ReloadConfig controls live configuration reload. SIGHUP always triggers
// a reload; the file is also polled for changes unless Disabled is set.
type ReloadConfig struct {
	Disabled bool          `yaml:"disabled"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultReloadInterval is how often the configuration file is polled.
const DefaultReloadInterval = 5 * time.Second
