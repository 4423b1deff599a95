package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultEnvironmentName = "local"

// ResolvedEnvironment is a fully-resolved environment: connection,
// target table, sink addressing, and credentials, with dotenv values
// layered over coldpipe.toml.
type ResolvedEnvironment struct {
	Name     string
	StoreURL string
	Table    string

	MarkerColumn     string
	ScriptPath       string
	JournalPath      string
	Schedule         string
	ExpectStatements int
	Timeout          time.Duration

	// Sink credentials, dotenv-only. These are substituted into the
	// script template and never written to the config file.
	SinkEndpoint   string
	SinkBucket     string
	SinkAccessKey  string
	SinkSecretKey  string
	ArtifactPrefix string
	ArtifactFormat string

	DotenvPath string
	FromConfig bool
	FromDotenv bool
}

// ResolveEnvironment resolves a named environment. Precedence: dotenv
// values override coldpipe.toml values; built-in defaults fill the rest.
func ResolveEnvironment(cfg *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if cfg != nil && cfg.DefaultEnvironment != "" {
			envName = cfg.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	var (
		envConfig EnvironmentConfig
		envExists bool
	)
	if cfg != nil && cfg.Environments != nil {
		if ec, ok := cfg.Environments[envName]; ok {
			envConfig = ec
			envExists = true
		}
	}

	resolved := &ResolvedEnvironment{
		Name:             envName,
		StoreURL:         envConfig.StoreURL,
		Table:            envConfig.Table,
		MarkerColumn:     envConfig.MarkerColumn,
		ScriptPath:       envConfig.ScriptPath,
		JournalPath:      envConfig.JournalPath,
		Schedule:         envConfig.Schedule,
		ExpectStatements: envConfig.ExpectStatements,
		SinkBucket:       envConfig.Bucket,
		ArtifactPrefix:   envConfig.ArtifactPrefix,
		ArtifactFormat:   envConfig.ArtifactFormat,
		FromConfig:       envExists,
	}
	if envConfig.TimeoutSeconds > 0 {
		resolved.Timeout = time.Duration(envConfig.TimeoutSeconds) * time.Second
	}

	baseDir := ""
	if cfg != nil {
		baseDir = cfg.ConfigDir()
	}
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}
	resolved.DotenvPath = filepath.Join(baseDir, ".env."+envName)

	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true

		if v := values["STORE_URL"]; v != "" {
			resolved.StoreURL = v
		}
		if v := values["TABLE"]; v != "" {
			resolved.Table = v
		}
		if v := values["S3_ENDPOINT"]; v != "" {
			resolved.SinkEndpoint = v
		}
		if v := values["S3_BUCKET"]; v != "" {
			resolved.SinkBucket = v
		}
		if v := values["S3_ACCESS_KEY"]; v != "" {
			resolved.SinkAccessKey = v
		}
		if v := values["S3_SECRET_KEY"]; v != "" {
			resolved.SinkSecretKey = v
		}
		if v := values["SCRIPT_PATH"]; v != "" {
			resolved.ScriptPath = v
		}
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to access %s: %w", resolved.DotenvPath, err)
	}

	if resolved.MarkerColumn == "" {
		resolved.MarkerColumn = "exported"
	}
	if resolved.ArtifactFormat == "" {
		resolved.ArtifactFormat = "parquet"
	}
	if resolved.JournalPath == "" {
		resolved.JournalPath = filepath.Join(baseDir, ".coldpipe-journal.db")
	}

	// The sink endpoint is embedded in an s3() URL; strip any scheme the
	// operator included.
	resolved.SinkEndpoint = strings.TrimPrefix(resolved.SinkEndpoint, "https://")
	resolved.SinkEndpoint = strings.TrimPrefix(resolved.SinkEndpoint, "http://")

	if cfg != nil && len(cfg.Environments) > 0 && !envExists && !resolved.FromDotenv {
		return nil, fmt.Errorf("environment %q not defined in %s and %s not found", envName, ConfigFileName, resolved.DotenvPath)
	}

	if resolved.StoreURL == "" {
		return nil, fmt.Errorf("environment %q has no store URL (set store_url in %s or STORE_URL in %s)", envName, ConfigFileName, resolved.DotenvPath)
	}
	return resolved, nil
}
