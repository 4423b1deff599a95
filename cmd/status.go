package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/coldpipe/coldpipe/internal/dryrun"
	"github.com/coldpipe/coldpipe/internal/history"
	"github.com/coldpipe/coldpipe/internal/script"
	"github.com/coldpipe/coldpipe/internal/store"
)

var (
	statusEnv   string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the marker census and recent run history for a table",
	Long: `Status counts the table through the script's own predicates (unexported
rows, rows still carrying the export marker, total rows) and lists the
most recent journal entries. A non-zero marked count outside a run means
an interrupted cycle; see resume-delete.`,
	Run: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusEnv, "env", "", "environment name (default from coldpipe.toml)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 5, "number of journal entries to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	env, err := resolveEnvironment(statusEnv)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	plan, _, err := loadPlan(env, "status")
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

	fmt.Printf("Table: %s\n", table)

	if stmts := plan.ByRole(script.RoleMark); len(stmts) > 0 {
		n, err := countFor(ctx, st, stmts[0])
		if err != nil {
			log.Fatalf("Error: unexported count: %v", err)
		}
		fmt.Printf("  unexported rows:       %d\n", n)
	}

	marked := plan.ByRole(script.RoleDelete)
	if len(marked) == 0 {
		marked = plan.ByRole(script.RoleExport)
	}
	if len(marked) > 0 {
		n, err := countFor(ctx, st, marked[0])
		if err != nil {
			log.Fatalf("Error: marked count: %v", err)
		}
		fmt.Printf("  rows carrying marker:  %d\n", n)
		if n > 0 {
			fmt.Println("  warning: leftover markers mean an interrupted cycle")
		}
	}

	total, err := st.Count(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table))
	if err != nil {
		log.Fatalf("Error: total count: %v", err)
	}
	fmt.Printf("  total rows:            %d\n", total)

	journal, err := openJournal(env)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = journal.Close() }()

	runs, err := journal.Recent(table, statusLimit)
	if err != nil && !errors.Is(err, history.ErrNoRuns) {
		log.Fatalf("Error: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("\nNo recorded runs.")
		return
	}

	fmt.Printf("\nRecent runs (newest first):\n")
	for _, run := range runs {
		mode := "live"
		if run.DryRun {
			mode = "dry"
		}
		status := "ok"
		if run.Error != "" {
			status = "FAILED at " + run.PhaseReached
		}
		fmt.Printf("  %s  %-4s  %-20s  %s\n",
			run.StartedAt.Local().Format(time.DateTime), mode, status, run.Summary())
	}
}

// countFor runs the count rewrite of one mutating statement.
func countFor(ctx context.Context, st store.Store, stmt script.Statement) (int64, error) {
	query, err := dryrun.CountRewrite(stmt)
	if err != nil {
		return 0, err
	}
	return st.Count(ctx, query)
}
