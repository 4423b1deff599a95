package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coldpipe/coldpipe/internal/config"
	"github.com/coldpipe/coldpipe/internal/dryrun"
	"github.com/coldpipe/coldpipe/internal/engine"
	"github.com/coldpipe/coldpipe/internal/history"
	"github.com/coldpipe/coldpipe/internal/lease"
	"github.com/coldpipe/coldpipe/internal/retry"
	"github.com/coldpipe/coldpipe/internal/script"
	"github.com/coldpipe/coldpipe/internal/sink"
	"github.com/coldpipe/coldpipe/internal/store"
)

// resolveEnvironment loads coldpipe.toml (walking up to the project root)
// and resolves the named environment, dotenv layered on top.
func resolveEnvironment(envName string) (*config.ResolvedEnvironment, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", config.ConfigFileName, err)
	}
	env, err := config.ResolveEnvironment(cfg, envName)
	if err != nil {
		return nil, err
	}
	if env.ScriptPath == "" {
		return nil, fmt.Errorf("environment %q has no script (set script in %s or SCRIPT_PATH in %s)",
			env.Name, config.ConfigFileName, env.DotenvPath)
	}
	return env, nil
}

// loadPlan reads the environment's script, substitutes the sink
// credentials and this run's artifact key, and parses the result. The
// artifact key is returned so callers can report where the export lands.
func loadPlan(env *config.ResolvedEnvironment, runID string) (*script.Plan, string, error) {
	raw, err := os.ReadFile(env.ScriptPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read script %s: %w", env.ScriptPath, err)
	}

	spec := sink.KeySpec{
		Prefix:    env.ArtifactPrefix,
		Format:    env.ArtifactFormat,
		WithRunID: true,
	}
	if spec.Prefix == "" {
		spec.Prefix = "export"
	}
	artifactKey := spec.Key(time.Now(), runID)

	text, err := script.Substitute(string(raw), script.Vars{
		Endpoint:    env.SinkEndpoint,
		Bucket:      env.SinkBucket,
		AccessKey:   env.SinkAccessKey,
		SecretKey:   env.SinkSecretKey,
		ArtifactKey: artifactKey,
	})
	if err != nil {
		return nil, "", fmt.Errorf("script %s: %w", env.ScriptPath, err)
	}

	plan, err := script.Parse(text)
	if err != nil {
		return nil, "", fmt.Errorf("script %s: %w", env.ScriptPath, err)
	}
	return plan, artifactKey, nil
}

// openStore connects to the environment's hot store.
func openStore(env *config.ResolvedEnvironment) (store.Store, error) {
	st, err := store.Open(env.StoreURL, store.Options{Timeout: env.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}
	return st, nil
}

// openJournal opens the run journal next to the config file.
func openJournal(env *config.ResolvedEnvironment) (*history.Journal, error) {
	j, err := history.Open(env.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", env.JournalPath, err)
	}
	return j, nil
}

// acquireLease takes the per-table run lease. Postgres stores carry the
// lease as an advisory lock on the store itself; everything else uses a
// lockfile next to the journal.
func acquireLease(ctx context.Context, st store.Store, env *config.ResolvedEnvironment, table string) (lease.Lease, error) {
	if store.DetectDriver(env.StoreURL) == "postgres" {
		if sqlStore, ok := st.(*store.SQLStore); ok {
			return lease.Acquire(ctx, sqlStore.DB(), table, "")
		}
	}
	dir := ""
	if env.JournalPath != "" {
		dir = filepath.Dir(env.JournalPath)
	}
	return lease.Acquire(ctx, nil, table, dir)
}

// planTable resolves the target table: the environment's setting when
// present, else the table named by the script's first mutating statement.
func planTable(env *config.ResolvedEnvironment, plan *script.Plan) (string, error) {
	if env.Table != "" {
		return env.Table, nil
	}
	for _, role := range []script.Role{script.RoleMark, script.RoleDelete, script.RoleExport} {
		if stmts := plan.ByRole(role); len(stmts) > 0 {
			target, err := dryrun.ExtractTarget(stmts[0])
			if err != nil {
				return "", err
			}
			return target.Table, nil
		}
	}
	return "", fmt.Errorf("cannot determine target table: set table in %s or include a mutating statement in the script", config.ConfigFileName)
}

// engineConfig builds the executor config for an environment. The zero
// config is a dry run; live is only ever set from an explicit --live
// flag or the resume command's journal-proven delete.
func engineConfig(env *config.ResolvedEnvironment, live bool) engine.Config {
	return engine.Config{
		Table:            env.Table,
		MarkerColumn:     env.MarkerColumn,
		Live:             live,
		ExpectStatements: env.ExpectStatements,
		Retry:            retry.DefaultPolicy(),
	}
}
