package openaicompat

import (
	"gopkg.in/yaml.v3"

	"github.com/flemzord/roundtable/internal/core"
	"github.com/flemzord/roundtable/internal/provider"
)

// Kind is the backend kind this package registers.
const Kind = "openai_compatible"

func init() {
	core.RegisterBackendKind(core.BackendKind{
		Name: Kind,
		New:  build,
	})
}

func build(ctx *core.AppContext, node *yaml.Node) (provider.Provider, error) {
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return nil, err
	}
	return New(cfg, WithLogger(ctx.Logger))
}
