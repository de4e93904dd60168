package main

import (
	"github.com/spf13/cobra"
)

var (
	runFullRefresh    bool
	runFailFast       bool
	runMaxParallelism int
	runTests          bool
	runStart          string
	runEnd            string
)

var runCmd = &cobra.Command{
	Use:   "run [models...]",
	Short: "Materialize the named models (and their upstream dependencies)",
	Long: `run plans and executes the named models plus whatever upstream
models the plan must also run to satisfy their dependencies. With no
model names, run acts on every model (equivalent to run-all).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun(cmd.Context(), args, runOptions{
			fullRefresh:    runFullRefresh,
			failFast:       runFailFast,
			maxParallelism: runMaxParallelism,
			runTests:       runTests,
			backfillStart:  runStart,
			backfillEnd:    runEnd,
		})
	},
}

func init() {
	addRunFlags(runCmd, &runFullRefresh, &runFailFast, &runMaxParallelism, &runTests, &runStart, &runEnd)
}

func addRunFlags(cmd *cobra.Command, fullRefresh, failFast *bool, maxParallelism *int, tests *bool, start, end *string) {
	cmd.Flags().BoolVar(fullRefresh, "full-refresh", false, "Force every targeted model to classify as update")
	cmd.Flags().BoolVar(failFast, "fail-fast", false, "Abort the run on the first model failure instead of collecting all failures")
	cmd.Flags().IntVar(maxParallelism, "max-parallelism", 0, "Maximum models executed concurrently per DAG level (default: profiles.yml's threads)")
	cmd.Flags().BoolVar(tests, "test", false, "Run declared column tests after each model materializes")
	cmd.Flags().StringVar(start, "start", "", "Backfill window start, seeding an incremental time strategy's initial load")
	cmd.Flags().StringVar(end, "end", "", "Backfill window end")
}
