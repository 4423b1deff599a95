package cmd

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/coldpipe/coldpipe/internal/dryrun"
	"github.com/coldpipe/coldpipe/internal/script"
)

var (
	planEnv  string
	planLive bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a run would execute without touching the store",
	Long: `Plan parses the script, substitutes template variables, and prints the
statements a run would send. By default it shows the dry-run form, with
every mutating statement rewritten to its count query; --live shows the
statements a live run would execute.`,
	Run: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planEnv, "env", "", "environment name (default from coldpipe.toml)")
	planCmd.Flags().BoolVar(&planLive, "live", false, "show the live statements instead of the dry-run rewrites")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) {
	env, err := resolveEnvironment(planEnv)
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

	gated, err := dryrun.Build(plan, !planLive)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	mode := "dry-run"
	if planLive {
		mode = "LIVE"
	}
	fmt.Printf("Environment: %s\n", env.Name)
	fmt.Printf("Table:       %s\n", table)
	fmt.Printf("Artifact:    %s\n", artifactKey)
	fmt.Printf("Mode:        %s\n", mode)
	fmt.Printf("Statements:  %d\n\n", plan.Count())

	for i, action := range gated.Actions {
		kind := string(action.Source.Role)
		if action.CountOnly {
			kind += " (count only)"
		}
		fmt.Printf("%2d. line %d, %s\n", i+1, action.Source.Line, kind)
		fmt.Printf("    %s\n", preview(action.SQL))
	}

	if !planLive && len(plan.ByRole(script.RoleMark)) > 0 {
		fmt.Println("\nNo rows will be modified. Use `coldpipe run --live` to execute.")
	}
}

// preview truncates a statement to one readable line.
func preview(sql string) string {
	flat := strings.Join(strings.Fields(sql), " ")
	if len(flat) > 150 {
		return flat[:147] + "..."
	}
	return flat
}
