package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the configuration file name searched for.
const FileName = "roundtable.yaml"

// ErrNotFound indicates no configuration file exists in any searched
// location.
var ErrNotFound = errors.New("config: no configuration file found")

// Candidates returns the locations searched for a configuration file, in
// order: $XDG_CONFIG_HOME/roundtable, ~/.config/roundtable, then the
// working directory.
func Candidates() []string {
	var out []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		out = append(out, filepath.Join(dir, "roundtable", FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "roundtable", FileName))
	}
	return append(out, FileName)
}

// Resolve returns the configuration path to load. An explicit path wins
// and must exist; otherwise the first existing candidate is returned.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return explicit, nil
	}
	for _, path := range Candidates() {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", ErrNotFound
}
