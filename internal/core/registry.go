package core

import (
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/roundtable/internal/provider"
)

// BackendFactory builds one backend from the kind-specific part of its
// YAML entry.
type BackendFactory func(ctx *AppContext, node *yaml.Node) (provider.Provider, error)

// BackendKind is a registered backend implementation.
type BackendKind struct {
	// Name is the value of the backend's "kind" config field.
	Name string
	New  BackendFactory
}

var (
	kinds   = make(map[string]BackendKind)
	kindsMu sync.RWMutex
)

// RegisterBackendKind makes a backend kind available to the config. It
// panics on an empty name, a nil factory or a duplicate. Intended to be
// called from init() functions.
func RegisterBackendKind(kind BackendKind) {
	if kind.Name == "" {
		panic("backend kind name must not be empty")
	}
	if kind.New == nil {
		panic(fmt.Sprintf("backend kind %s: New must not be nil", kind.Name))
	}

	kindsMu.Lock()
	defer kindsMu.Unlock()

	if _, exists := kinds[kind.Name]; exists {
		panic(fmt.Sprintf("backend kind already registered: %s", kind.Name))
	}
	kinds[kind.Name] = kind
}

// GetBackendKind returns the kind registered under name.
func GetBackendKind(name string) (BackendKind, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	k, ok := kinds[name]
	return k, ok
}

// BackendKinds returns the registered kind names, sorted.
func BackendKinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds = make(map[string]BackendKind)
}
