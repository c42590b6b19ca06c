// Package core holds what every roundtable component shares: the backend
// kind registry, the application context and the start/stop lifecycle.
package core

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/roundtable/internal/provider"
)

// AppContext carries shared resources available while components are
// built.
type AppContext struct {
	// Logger for the current component scope.
	Logger *slog.Logger

	// DataDir is the root directory for persistent data.
	DataDir string

	parentLogger *slog.Logger
}

// NewAppContext creates an AppContext. A nil logger falls back to
// slog.Default.
func NewAppContext(logger *slog.Logger, dataDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{
		Logger:       logger,
		DataDir:      dataDir,
		parentLogger: logger,
	}
}

// ForComponent returns a copy whose logger carries the component name.
func (ctx *AppContext) ForComponent(name string) *AppContext {
	return &AppContext{
		Logger:       ctx.parentLogger.With("component", name),
		DataDir:      ctx.DataDir,
		parentLogger: ctx.parentLogger,
	}
}

// BuildBackend instantiates backend id of the given kind from node.
func (ctx *AppContext) BuildBackend(kind, id string, node *yaml.Node) (provider.Provider, error) {
	k, ok := GetBackendKind(kind)
	if !ok {
		return nil, fmt.Errorf("backend %s: unknown kind %q", id, kind)
	}
	if node == nil {
		node = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	p, err := k.New(ctx.ForComponent("backend."+id), node)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", id, err)
	}
	return p, nil
}
