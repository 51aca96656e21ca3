package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STEPFLOW_CONFIG", "")
	t.Setenv("STEPFLOW_ADDR", "")
	t.Setenv("STEPFLOW_DB_PATH", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":8420" {
		t.Errorf("addr = %q, want :8420", cfg.Addr)
	}
	if cfg.StepLimit != 100 {
		t.Errorf("step limit = %d, want 100", cfg.StepLimit)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.DSN != ":memory:" {
		t.Errorf("storage = %+v, want in-memory sqlite", cfg.Storage)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("STEPFLOW_ADDR", "")
	t.Setenv("STEPFLOW_DB_PATH", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "stepflow.yaml")
	content := `
addr: ":9000"
step_limit: 25
storage:
  backend: sqlite
  dsn: /tmp/stepflow.db
graphs:
  - name: counter
    start_node: inc
    nodes:
      - id: inc
        tool_name: add_one
        loop:
          key: n
          op: ge
          value: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("addr = %q, want :9000", cfg.Addr)
	}
	if cfg.StepLimit != 25 {
		t.Errorf("step limit = %d, want 25", cfg.StepLimit)
	}
	if cfg.Storage.DSN != "/tmp/stepflow.db" {
		t.Errorf("dsn = %q", cfg.Storage.DSN)
	}
	if len(cfg.Graphs) != 1 {
		t.Fatalf("graphs = %d, want 1", len(cfg.Graphs))
	}
	g, err := cfg.Graphs[0].ToGraph()
	if err != nil {
		t.Fatalf("ToGraph: %v", err)
	}
	node := g.Nodes["inc"]
	if node == nil || node.Loop == nil {
		t.Fatalf("config graph lost its loop node: %+v", g.Nodes)
	}
	if node.Loop.Until.Key != "n" {
		t.Errorf("loop key = %q, want n", node.Loop.Until.Key)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("STEPFLOW_CONFIG", "")
	t.Setenv("STEPFLOW_ADDR", ":7777")
	t.Setenv("STEPFLOW_DB_PATH", "/tmp/override.db")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":7777" {
		t.Errorf("addr = %q, want env override", cfg.Addr)
	}
	if cfg.Storage.DSN != "/tmp/override.db" {
		t.Errorf("dsn = %q, want env override", cfg.Storage.DSN)
	}
}

func TestLoadConfigExplicitPathMissing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for explicit missing config path")
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepflow.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}
