package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var listTag string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every model and its materialization",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngineOffline()
		if err != nil {
			return err
		}

		var names []string
		for name := range eng.Models() {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			cfg, ok := eng.Registry().Get(name)
			if !ok {
				fmt.Printf("%-30s %s\n", name, "(no schema entry)")
				continue
			}
			if listTag != "" && !hasTag(cfg.Tags, listTag) {
				continue
			}
			fmt.Printf("%-30s %-12s %v\n", name, cfg.Materialized, cfg.Tags)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listTag, "tag", "", "Only list models carrying this tag")
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
