// Package main implements the sqlorch CLI: the run/run-all/plan/list/
// deps/validate/serve command surface from the component design's
// External Interfaces section.
//
// This file is the entry point and command registration hub; each
// subcommand lives in its own cmd_*.go file.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sqlorch/internal/logging"
)

var (
	projectDir  string
	environment string
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sqlorch",
	Short: "sqlorch orchestrates templated SQL transformations against an analytical warehouse",
	Long: `sqlorch parses templated SQL models and their YAML schema metadata,
builds a dependency graph, diffs against persisted per-environment state,
and materializes the resulting plan's create/update changes as views,
tables, incremental tables, or CDC tables.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		if projectDir == "" {
			projectDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve project directory: %w", err)
			}
		}
		abs, err := filepath.Abs(projectDir)
		if err != nil {
			return fmt.Errorf("resolve project directory: %w", err)
		}
		projectDir = abs
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			_ = logger.Sync()
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project-dir", "p", "", "Project directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&environment, "environment", "e", "", "Target environment, as named in profiles.yml (default: profiles.yml's default_target)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")

	rootCmd.AddCommand(
		runCmd,
		runAllCmd,
		planCmd,
		listCmd,
		depsCmd,
		validateCmd,
		serveCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
