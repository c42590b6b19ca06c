// Package app wires configuration into a running roundtable process.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/flemzord/roundtable/internal/config"

	// Backend kinds register themselves with core.
	_ "github.com/flemzord/roundtable/modules/provider/anthropic"
	_ "github.com/flemzord/roundtable/modules/provider/completion"
	_ "github.com/flemzord/roundtable/modules/provider/openaicompat"
	_ "github.com/flemzord/roundtable/modules/provider/openrouter"
)

// RunParams configures the serve loop.
type RunParams struct {
	// ConfigPath is an explicit configuration file. Empty searches the
	// standard locations.
	ConfigPath string

	// LogLevel overrides the configured level when non-empty.
	LogLevel string

	// Version is injected at build time via ldflags.
	Version string

	// LogOutput receives log records. Required.
	LogOutput io.Writer
}

// LoadConfig resolves, loads and validates the configuration.
func LoadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.Resolve(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Open loads the configuration and builds the runtime without starting it.
func Open(ctx context.Context, params RunParams) (*Runtime, error) {
	cfg, path, err := LoadConfig(params.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger, redactor, err := NewLogger(cfg, params.LogOutput, params.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", "path", path, "backends", len(cfg.Backends))

	rt, err := Build(ctx, cfg, logger, redactor)
	if err != nil {
		return nil, fmt.Errorf("building runtime: %w", err)
	}
	rt.WatchConfig(path)
	return rt, nil
}

// Run starts every component and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(ctx context.Context, params RunParams) error {
	rt, err := Open(ctx, params)
	if err != nil {
		return err
	}

	rt.Logger.Info("starting roundtable",
		"version", params.Version,
		"backends", len(rt.Config.Backends),
		"store", rt.Config.Store.Driver,
		"bind", rt.Config.Gateway.Bind,
	)
	err = rt.App().Run(ctx)
	if cerr := rt.Close(); err == nil {
		err = cerr
	}
	return err
}
