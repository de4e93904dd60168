package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var depsFormat string

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Print the model dependency graph",
	Long: `deps prints every model's direct dependencies, either as plain
text (one "model <- dep" line per edge) or as a Graphviz "dot" document
(--format graphviz) suitable for piping into "dot -Tpng".`,
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

		switch depsFormat {
		case "", "text":
			for _, name := range names {
				deps := eng.Graph().Dependencies(name)
				if len(deps) == 0 {
					fmt.Println(name)
					continue
				}
				for _, d := range deps {
					fmt.Printf("%s <- %s\n", name, d)
				}
			}
		case "graphviz":
			fmt.Println("digraph sqlorch {")
			for _, name := range names {
				for _, d := range eng.Graph().Dependencies(name) {
					fmt.Printf("  %q -> %q;\n", d, name)
				}
			}
			fmt.Println("}")
		default:
			return fmt.Errorf("unknown --format %q (want text or graphviz)", depsFormat)
		}
		return nil
	},
}

func init() {
	depsCmd.Flags().StringVar(&depsFormat, "format", "text", "Output format: text or graphviz")
}
