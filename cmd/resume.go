package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coldpipe/coldpipe/internal/engine"
	"github.com/coldpipe/coldpipe/internal/history"
)

var (
	resumeEnv string
	resumeYes bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume-delete",
	Short: "Finish an interrupted cycle by re-running the Delete phase only",
	Long: `Resume-delete handles the exported-but-not-deleted state: the journal's
last live run proves the marked batch was fully exported, so the rows
still carrying the marker can be deleted without re-exporting. It refuses
to run when the journal offers no such proof, or when more rows carry the
marker than the proven export covered.`,
	Run: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeEnv, "env", "", "environment name (default from coldpipe.toml)")
	resumeCmd.Flags().BoolVar(&resumeYes, "yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := resolveEnvironment(resumeEnv)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	plan, _, err := loadPlan(env, "resume")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	table, err := planTable(env, plan)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	journal, err := openJournal(env)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = journal.Close() }()

	last, err := journal.LastLive(table)
	if err != nil {
		if errors.Is(err, history.ErrNoRuns) {
			log.Fatalf("Error: no live runs recorded for %s; nothing to resume", table)
		}
		log.Fatalf("Error: %v", err)
	}

	if !last.ExportedButNotDeleted() {
		log.Fatalf("Error: last live run %s reached %q; only an exported-but-not-deleted run can be resumed",
			last.RunID, last.PhaseReached)
	}

	fmt.Printf("Resuming delete for %s: run %s exported %d rows but did not delete them.\n",
		table, last.RunID, last.RowsExported)
	if !resumeYes {
		fmt.Print("Type 'delete' to continue: ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "delete" {
			fmt.Println("Cancelled.")
			return
		}
	}

	st, err := openStore(env)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = st.Close() }()

	lk, err := acquireLease(ctx, st, env, table)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = lk.Release() }()

	cfg := engineConfig(env, true)
	cfg.Table = table

	outcome, runErr := engine.New(st, journal, cfg).ResumeDelete(ctx, plan, last)
	fmt.Println(outcome.Summary())
	if runErr != nil {
		os.Exit(1)
	}
}
