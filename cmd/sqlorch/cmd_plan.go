package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sqlorch/internal/types"
)

var planFullRefresh bool

var planCmd = &cobra.Command{
	Use:   "plan [models...]",
	Short: "Show the execution plan without running anything",
	Long: `plan parses every model, diffs it against persisted state, and
prints the resulting create/update/no_change classification plus the
level-parallel execution order — the same plan "run" would act on, shown
here for inspection before anything is mutated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := buildEngine(ctx, runOptions{fullRefresh: planFullRefresh})
		if err != nil {
			return err
		}
		defer eng.Close()

		plan, err := eng.Plan(args, planFullRefresh)
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&planFullRefresh, "full-refresh", false, "Force every targeted model to classify as update")
}

func printPlan(plan *types.ExecutionPlan) {
	for _, c := range plan.Changes {
		fmt.Printf("%-10s %-30s %s\n", c.Type, c.Name, c.Reason)
	}
	fmt.Println()
	fmt.Println("execution order:")
	for i, level := range plan.ExecutionOrder {
		fmt.Printf("  level %d: %v\n", i, level)
	}
}
