package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ============================================================================
// Defaults
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.Path != "./netfuse.db" {
		t.Errorf("store path: got %q", cfg.Store.Path)
	}
	if cfg.Fusion.StalenessWindow.AsDuration() != 72*time.Hour {
		t.Errorf("staleness window: got %v", cfg.Fusion.StalenessWindow.AsDuration())
	}
	if cfg.Fusion.AdjacencyConfidence != 0.5 || cfg.Fusion.RouteConfidence != 0.35 {
		t.Errorf("confidence bases: got %v / %v", cfg.Fusion.AdjacencyConfidence, cfg.Fusion.RouteConfidence)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("listen: got %q", cfg.HTTP.Listen)
	}
}

// ============================================================================
// Loading
// ============================================================================

func TestLoadFromPath(t *testing.T) {
	content := `
store:
  path: /var/lib/netfuse/graph.db
fusion:
  staleness_window: 24h
  route_confidence: 0.4
http:
  listen: 127.0.0.1:9000
  spool_dir: /var/spool/netfuse
aliases:
  - ["ops-box", "aa:bb:cc:dd:ee:01"]
`
	path := filepath.Join(t.TempDir(), "netfuse.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded != path {
		t.Errorf("loaded path: got %q", loaded)
	}

	if cfg.Store.Path != "/var/lib/netfuse/graph.db" {
		t.Errorf("store path: got %q", cfg.Store.Path)
	}
	if cfg.Fusion.StalenessWindow.AsDuration() != 24*time.Hour {
		t.Errorf("staleness window: got %v", cfg.Fusion.StalenessWindow.AsDuration())
	}
	if cfg.Fusion.RouteConfidence != 0.4 {
		t.Errorf("route confidence: got %v", cfg.Fusion.RouteConfidence)
	}
	// Unset fields fall back to defaults.
	if cfg.Fusion.SweepInterval.AsDuration() != time.Hour {
		t.Errorf("sweep interval default: got %v", cfg.Fusion.SweepInterval.AsDuration())
	}
	if cfg.HTTP.SpoolDir != "/var/spool/netfuse" {
		t.Errorf("spool dir: got %q", cfg.HTTP.SpoolDir)
	}
	if len(cfg.Aliases) != 1 || len(cfg.Aliases[0]) != 2 {
		t.Errorf("aliases: got %v", cfg.Aliases)
	}
}

func TestLoadFromPathRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netfuse.yml")
	if err := os.WriteFile(path, []byte("fusion:\n  staleness_window: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected an error for an unparsable duration")
	}
}

// ============================================================================
// Path Discovery
// ============================================================================

func TestFindConfigPathEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yml")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	if found := FindConfigPath(); found != path {
		t.Errorf("expected %q, got %q", path, found)
	}
}

func TestFindConfigPathMissingEverywhere(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", filepath.Join(dir, "home"))
	t.Chdir(dir)

	if found := FindConfigPath(); found != "" {
		t.Errorf("expected no config, got %q", found)
	}
}
