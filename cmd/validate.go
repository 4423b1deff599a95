package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/coldpipe/coldpipe/internal/dryrun"
	"github.com/coldpipe/coldpipe/internal/script"
)

var (
	validateEnv    string
	validateExpect int
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and check the script without connecting to the store",
	Long: `Validate substitutes template variables, parses the script, and checks
the structural invariants: phase ordering, extractable count rewrites for
every mutating statement, and (with --expect) the statement count.`,
	Run: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateEnv, "env", "", "environment name (default from coldpipe.toml)")
	validateCmd.Flags().IntVar(&validateExpect, "expect", 0, "fail unless the script parses to exactly this many statements")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	env, err := resolveEnvironment(validateEnv)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	plan, _, err := loadPlan(env, "validate")
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	expect := validateExpect
	if expect == 0 {
		expect = env.ExpectStatements
	}
	if expect > 0 && plan.Count() != expect {
		log.Fatalf("Error: script parses to %d statements, expected %d", plan.Count(), expect)
	}

	// Building the gated plan exercises the count rewrites: a statement
	// whose table or predicate cannot be extracted fails here, not at the
	// store.
	if _, err := dryrun.Build(plan, true); err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Script %s is valid: %d statements\n", env.ScriptPath, plan.Count())
	for _, role := range []script.Role{script.RoleMark, script.RoleExport, script.RoleDelete, script.RoleInfo} {
		if n := len(plan.ByRole(role)); n > 0 {
			fmt.Printf("  %-7s %d\n", role, n)
		}
	}
}
