package main

import (
	"github.com/spf13/cobra"
)

var (
	runAllFullRefresh    bool
	runAllFailFast       bool
	runAllMaxParallelism int
	runAllTests          bool
	runAllStart          string
	runAllEnd            string
)

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "Materialize every model",
	Long:  `run-all plans and executes every model in the project, in level-parallel dependency order. A model's enabled flag does not exclude it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doRun(cmd.Context(), nil, runOptions{
			fullRefresh:    runAllFullRefresh,
			failFast:       runAllFailFast,
			maxParallelism: runAllMaxParallelism,
			runTests:       runAllTests,
			backfillStart:  runAllStart,
			backfillEnd:    runAllEnd,
		})
	},
}

func init() {
	addRunFlags(runAllCmd, &runAllFullRefresh, &runAllFailFast, &runAllMaxParallelism, &runAllTests, &runAllStart, &runAllEnd)
}
