package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/modules/store/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	doc := fmt.Sprintf(`version: "1"
log_level: error
backends:
  - id: local
    kind: completion
    base_url: http://127.0.0.1:1
    backend: llama
context: {max_tokens: 1000, ideal_tokens: 100}
store: {driver: sqlite, path: %q}
`, dbPath)
	path := filepath.Join(t.TempDir(), "roundtable.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"roundtable dev", "anthropic", "openai_compatible", "openrouter", "completion"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCheckCmd(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, filepath.Join(t.TempDir(), "context.db"))
	out, err := execute(t, "config", "check", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Configuration OK") || !strings.Contains(out, "local (completion)") {
		t.Fatalf("output = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("version: \"9\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "check", bad); err == nil {
		t.Fatal("config check accepted an invalid file")
	}
}

func TestOptimizeCmd(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "context.db")
	s, err := sqlite.Open(t.Context(), sqlite.Config{Path: dbPath}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rel := 0.05
	for _, it := range []ctxengine.Item{
		{ID: "keep", Content: "deployment runbook", Type: ctxengine.TypeNote, Priority: 90, Tokens: 80},
		{ID: "junk", Content: "lunch menu chatter", Type: ctxengine.TypeNote, Priority: 10, Tokens: 300, Relevance: &rel},
	} {
		if _, err := s.Put(t.Context(), "big", it); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	cfg := writeConfig(t, dbPath)

	out, err := execute(t, "optimize", "--config", cfg, "--dry-run")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "big: ") {
		t.Fatalf("dry run output = %q", out)
	}

	out, err = execute(t, "optimize", "--config", cfg, "big")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "big: 380 -> 80 tokens (ideal 100)" {
		t.Fatalf("output = %q", out)
	}
}
