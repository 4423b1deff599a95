package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coldpipe/coldpipe/internal/engine"
	"github.com/coldpipe/coldpipe/internal/lease"
	"github.com/coldpipe/coldpipe/internal/wizard"
)

var (
	runEnv  string
	runLive bool
	runYes  bool
	runJSON bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the export-and-purge lifecycle (dry-run by default)",
	Long: `Run parses the environment's script and executes the lifecycle.

Without --live this is a dry run: every mutating statement is replaced by
a count query and the store is never written. With --live the run marks,
exports, and deletes the batch; unless --yes is given you must confirm by
typing the table name.`,
	Run: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runEnv, "env", "", "environment name (default from coldpipe.toml)")
	runCmd.Flags().BoolVar(&runLive, "live", false, "disable the dry-run gate and mutate the store")
	runCmd.Flags().BoolVar(&runYes, "yes", false, "skip the interactive confirmation (for schedulers)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run outcome as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := resolveEnvironment(runEnv)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	runID := uuid.NewString()
	plan, artifactKey, err := loadPlan(env, runID)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	table, err := planTable(env, plan)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	st, err := openStore(env)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = st.Close() }()

	journal, err := openJournal(env)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = journal.Close() }()

	lk, err := acquireLease(ctx, st, env, table)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			log.Fatalf("Error: %v", err)
		}
		log.Fatalf("Error: failed to acquire run lease: %v", err)
	}
	defer func() { _ = lk.Release() }()

	cfg := engineConfig(env, runLive)
	cfg.Table = table
	cfg.RunID = runID

	if runLive && !runYes {
		// Preview the batch before asking: the operator should know how
		// many rows are about to leave the hot store.
		preview := cfg
		preview.Live = false
		preview.RunID = ""
		previewOutcome, err := engine.New(st, nil, preview).Run(ctx, plan)
		if err != nil {
			log.Fatalf("Error: dry-run preview failed: %v", err)
		}
		ok, err := wizard.RunConfirm(table, previewOutcome.UnexportedRows)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		if !ok {
			fmt.Println("Cancelled.")
			return
		}
	}

	if runLive {
		fmt.Printf("Live run %s against %s (artifact %s)\n", runID, table, artifactKey)
	}

	outcome, runErr := engine.New(st, journal, cfg).Run(ctx, plan)

	if runJSON {
		data, err := outcome.JSON()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(outcome.Summary())
	}

	if runErr != nil {
		if outcome.ExportedButNotDeleted() {
			fmt.Fprintln(os.Stderr, "Hint: the batch is archived; run `coldpipe resume-delete` to finish the cycle.")
		}
		os.Exit(1)
	}
}
