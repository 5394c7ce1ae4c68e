package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thenote/backend/pkg/memory"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thenoted.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.DataDir != "data" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.DefaultRetention != memory.Retention90Days {
		t.Errorf("default retention = %q", cfg.DefaultRetention)
	}
	if cfg.Storage.Backend != "local" || cfg.Generator.Kind != "stub" {
		t.Errorf("backend defaults = %+v %+v", cfg.Storage, cfg.Generator)
	}
}

func TestLoadFileOverridesAndFills(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9900"
data_dir: /var/lib/thenoted
cache_capacity: 512
storage:
  backend: local
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9900" || cfg.CacheCapacity != 512 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Storage.Dir != filepath.Join("/var/lib/thenoted", "blobs") {
		t.Errorf("local storage dir = %q", cfg.Storage.Dir)
	}
	if cfg.ArchiveDir() != filepath.Join("/var/lib/thenoted", "analysis") {
		t.Errorf("archive dir = %q", cfg.ArchiveDir())
	}
	if cfg.MemoryPath() != filepath.Join("/var/lib/thenoted", "memory.sqlite3") {
		t.Errorf("memory path = %q", cfg.MemoryPath())
	}
}

func TestLoadS3RequiresBucket(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: s3
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for s3 without bucket")
	}

	path = writeConfig(t, `
storage:
  backend: s3
  bucket: takes
  prefix: prod
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Bucket != "takes" || cfg.Storage.Prefix != "prod" {
		t.Errorf("s3 config = %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	if _, err := Load(writeConfig(t, "storage:\n  backend: ftp\n")); err == nil {
		t.Fatal("expected error for unknown storage backend")
	}
	if _, err := Load(writeConfig(t, "generator:\n  kind: markov\n")); err == nil {
		t.Fatal("expected error for unknown generator kind")
	}
}

func TestLoadOpenAIGeneratorNeedsKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := Load(writeConfig(t, "generator:\n  kind: openai\n")); err == nil {
		t.Fatal("expected error for openai generator without key")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(writeConfig(t, "generator:\n  kind: openai\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generator.APIKey != "sk-test" {
		t.Errorf("api key = %q, want env fallback", cfg.Generator.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
