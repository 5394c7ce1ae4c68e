// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/thenote/backend/pkg/memory"
)

// StorageConfig selects the blob backend for rendered audio.
type StorageConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`
	// Dir is the root for the local backend; defaults under DataDir.
	Dir string `yaml:"dir"`
	// Bucket/Prefix/Region configure the s3 backend.
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// GeneratorConfig selects the creative generator.
type GeneratorConfig struct {
	// Kind is "stub" or "openai".
	Kind    string `yaml:"kind"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Config is the daemon configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// DataDir holds the analysis archive, memory database and local blobs.
	DataDir string `yaml:"data_dir"`
	// CacheCapacity bounds the in-memory analysis cache; 0 keeps the
	// engine default.
	CacheCapacity int `yaml:"cache_capacity"`
	// DefaultRetention applies to memory records without a policy.
	DefaultRetention string `yaml:"default_retention"`

	Storage   StorageConfig   `yaml:"storage"`
	Generator GeneratorConfig `yaml:"generator"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:           ":8080",
		DataDir:          "data",
		DefaultRetention: memory.Retention90Days,
		Storage:          StorageConfig{Backend: "local"},
		Generator:        GeneratorConfig{Kind: "stub"},
	}
}

// Load reads the YAML file at path and fills unset fields with defaults.
// An empty path yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DefaultRetention == "" {
		c.DefaultRetention = memory.Retention90Days
	}
	switch c.Storage.Backend {
	case "", "local":
		c.Storage.Backend = "local"
		if c.Storage.Dir == "" {
			c.Storage.Dir = filepath.Join(c.DataDir, "blobs")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("config: s3 storage requires a bucket")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Generator.Kind {
	case "", "stub":
		c.Generator.Kind = "stub"
	case "openai":
		if c.Generator.APIKey == "" {
			c.Generator.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if c.Generator.APIKey == "" {
			return fmt.Errorf("config: openai generator requires an api key")
		}
	default:
		return fmt.Errorf("config: unknown generator kind %q", c.Generator.Kind)
	}
	return nil
}

// ArchiveDir is where the analysis archive lives under DataDir.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "analysis")
}

// MemoryPath is the memory database file under DataDir.
func (c *Config) MemoryPath() string {
	return filepath.Join(c.DataDir, "memory.sqlite3")
}
