// Package config loads coldpipe.toml and resolves named environments.
package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileName is discovered by walking up from the working directory
// to a project boundary.
const ConfigFileName = "coldpipe.toml"

// EnvironmentConfig describes one named environment from coldpipe.toml.
// Credentials never live here; they come from .env.<name> files.
type EnvironmentConfig struct {
	StoreURL         string `toml:"store_url"`
	Table            string `toml:"table"`
	MarkerColumn     string `toml:"marker_column"`
	Bucket           string `toml:"bucket"`
	ArtifactPrefix   string `toml:"artifact_prefix"`
	ArtifactFormat   string `toml:"artifact_format"`
	ScriptPath       string `toml:"script"`
	JournalPath      string `toml:"journal_path"`
	Schedule         string `toml:"schedule"`
	ExpectStatements int    `toml:"expect_statements"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
}

type Config struct {
	DefaultEnvironment string                       `toml:"default_environment"`
	Environments       map[string]EnvironmentConfig `toml:"environments"`
	ConfigFilePath     string                       `toml:"-"`
}

// ConfigDir returns the directory holding the discovered config file.
func (c *Config) ConfigDir() string {
	if c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

// LoadConfig searches the current directory and its parents for
// coldpipe.toml, stopping at a project root. A missing file is not an
// error; it yields an empty config that environment files can fill in.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(startDir)
}

// LoadConfigFrom is LoadConfig rooted at an explicit directory.
func LoadConfigFrom(startDir string) (*Config, error) {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, err
			}

			var config Config
			if err := toml.Unmarshal(data, &config); err != nil {
				return nil, err
			}

			config.ConfigFilePath = configPath
			return &config, nil
		}

		if isProjectRoot(dir) {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	return false
}
