package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse every model, validate schema metadata, and check for cycles",
	Long: `validate parses every model and loads every schema*.yml, checking
the incremental/CDC configuration rules (e.g. incremental_strategy "time"
requires time_column) and the dependency graph for cycles, without
touching the warehouse.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngineOffline()
		if err != nil {
			return err
		}

		models := eng.Models()
		fmt.Printf("parsed %d model(s)\n", len(models))

		for name := range models {
			if _, ok := eng.Registry().Get(name); !ok {
				fmt.Printf("warning: %s has no schema.yml entry; run reports it as failed (model not found)\n", name)
			}
		}

		fmt.Println("no circular dependencies, registry configuration is valid")
		return nil
	},
}
