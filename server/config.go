package server

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/stepflow-ai/stepflow/storage"
)

// Config is the top-level structure of a stepflow.yaml file.
type Config struct {
	// Addr is the listen address of the control plane.
	Addr string `yaml:"addr"`

	// StepLimit is the default per-run step bound; overridable per run.
	StepLimit int `yaml:"step_limit"`

	Storage storage.Config `yaml:"storage"`

	// Graphs are declarative workflow definitions loaded at startup.
	Graphs []GraphCreateRequest `yaml:"graphs"`
}

// DefaultConfig returns the configuration used when no file is present:
// an in-process sqlite store and the built-in example graph only.
func DefaultConfig() *Config {
	return &Config{
		Addr:      ":8420",
		StepLimit: 100,
		Storage:   storage.Config{Backend: "sqlite", DSN: ":memory:"},
	}
}

// LoadConfig parses a YAML config file. Searches in order: given path,
// $STEPFLOW_CONFIG, ./stepflow.yaml, ~/.stepflow/stepflow.yaml. A
// missing file yields DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, resolvedPath, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if data == nil {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", resolvedPath, err)
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8420"
	}
	if cfg.StepLimit <= 0 {
		cfg.StepLimit = 100
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.Backend == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = ":memory:"
	}
	if addr := os.Getenv("STEPFLOW_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if dsn := os.Getenv("STEPFLOW_DB_PATH"); dsn != "" {
		cfg.Storage.Backend = "sqlite"
		cfg.Storage.DSN = dsn
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, string, error) {
	candidates := []string{path, os.Getenv("STEPFLOW_CONFIG"), "stepflow.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".stepflow", "stepflow.yaml"))
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		data, err := os.ReadFile(c)
		if err == nil {
			return data, c, nil
		}
		if !os.IsNotExist(err) {
			return nil, c, fmt.Errorf("read %s: %w", c, err)
		}
		if c == path && path != "" {
			return nil, c, fmt.Errorf("read %s: %w", c, err)
		}
	}
	return nil, "", nil
}
