package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const sampleConfig = `
default_environment = "local"

[environments.local]
store_url = "http://localhost:8123/ipfix"
table = "ipfix.flows"
script = "export.sql"
expect_statements = 3
timeout_seconds = 120

[environments.prod]
store_url = "clickhouse://ch.internal:8123/ipfix"
table = "ipfix.flows"
marker_column = "archived"
script = "export.sql"
schedule = "*/5 * * * *"
`

func TestLoadConfigWalksUpToConfigFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ConfigFileName), sampleConfig)

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := LoadConfigFrom(nested)
	if err != nil {
		t.Fatalf("LoadConfigFrom failed: %v", err)
	}
	if cfg.DefaultEnvironment != "local" {
		t.Errorf("default environment = %q, want local", cfg.DefaultEnvironment)
	}
	if len(cfg.Environments) != 2 {
		t.Errorf("environments = %d, want 2", len(cfg.Environments))
	}
	if cfg.ConfigDir() != root {
		t.Errorf("ConfigDir = %q, want %q", cfg.ConfigDir(), root)
	}
}

func TestLoadConfigStopsAtProjectRoot(t *testing.T) {
	root := t.TempDir()
	// A .git marker makes root a project boundary; a config above it must
	// not be picked up.
	writeFile(t, filepath.Join(root, ConfigFileName), sampleConfig)

	project := filepath.Join(root, "project")
	if err := os.MkdirAll(filepath.Join(project, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := LoadConfigFrom(project)
	if err != nil {
		t.Fatalf("LoadConfigFrom failed: %v", err)
	}
	if cfg.ConfigFilePath != "" {
		t.Errorf("found config outside the project boundary: %q", cfg.ConfigFilePath)
	}
}

func TestResolveEnvironmentDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ConfigFileName), sampleConfig)

	cfg, err := LoadConfigFrom(root)
	if err != nil {
		t.Fatalf("LoadConfigFrom failed: %v", err)
	}

	env, err := ResolveEnvironment(cfg, "")
	if err != nil {
		t.Fatalf("ResolveEnvironment failed: %v", err)
	}
	if env.Name != "local" {
		t.Errorf("name = %q, want local (default)", env.Name)
	}
	if env.MarkerColumn != "exported" {
		t.Errorf("marker column = %q, want the exported default", env.MarkerColumn)
	}
	if env.ArtifactFormat != "parquet" {
		t.Errorf("artifact format = %q, want parquet", env.ArtifactFormat)
	}
	if env.Timeout != 120*time.Second {
		t.Errorf("timeout = %s, want 2m0s", env.Timeout)
	}
	if env.JournalPath != filepath.Join(root, ".coldpipe-journal.db") {
		t.Errorf("journal path = %q", env.JournalPath)
	}
}

func TestResolveEnvironmentDotenvOverrides(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ConfigFileName), sampleConfig)
	writeFile(t, filepath.Join(root, ".env.prod"),
		"STORE_URL=clickhouse://override:8123/ipfix\n"+
			"S3_ENDPOINT=https://minio.internal:9000\n"+
			"S3_BUCKET=flow-archive\n"+
			"S3_ACCESS_KEY=ak\n"+
			"S3_SECRET_KEY=sk\n")

	cfg, err := LoadConfigFrom(root)
	if err != nil {
		t.Fatalf("LoadConfigFrom failed: %v", err)
	}

	env, err := ResolveEnvironment(cfg, "prod")
	if err != nil {
		t.Fatalf("ResolveEnvironment failed: %v", err)
	}

	if env.StoreURL != "clickhouse://override:8123/ipfix" {
		t.Errorf("dotenv did not override store URL: %q", env.StoreURL)
	}
	if env.MarkerColumn != "archived" {
		t.Errorf("toml marker column lost: %q", env.MarkerColumn)
	}
	// Credentials only exist in the dotenv layer.
	if env.SinkAccessKey != "ak" || env.SinkSecretKey != "sk" {
		t.Error("sink credentials not loaded from dotenv")
	}
	// The endpoint is embedded in s3() URLs; its scheme must be stripped.
	if env.SinkEndpoint != "minio.internal:9000" {
		t.Errorf("endpoint = %q, want scheme stripped", env.SinkEndpoint)
	}
	if !env.FromConfig || !env.FromDotenv {
		t.Errorf("provenance flags wrong: config=%v dotenv=%v", env.FromConfig, env.FromDotenv)
	}
}

func TestResolveEnvironmentUnknownName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ConfigFileName), sampleConfig)

	cfg, err := LoadConfigFrom(root)
	if err != nil {
		t.Fatalf("LoadConfigFrom failed: %v", err)
	}
	if _, err := ResolveEnvironment(cfg, "staging"); err == nil {
		t.Error("unknown environment resolved without error")
	}
}

func TestResolveEnvironmentRequiresStoreURL(t *testing.T) {
	if _, err := ResolveEnvironment(&Config{}, "local"); err == nil {
		t.Error("environment without a store URL resolved")
	}
}
