package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sqlorch/internal/watch"
)

var (
	serveWatch          bool
	serveDebounce       time.Duration
	serveMaxParallelism int
	serveFailFast       bool
	serveTests          bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run every model once, then (with --watch) keep re-running on file changes",
	Long: `serve executes run-all once. With --watch, it then watches the
models directory for changes to *.sql and schema*.yml files, debouncing
rapid saves, and re-runs the affected plan after each batch of changes
until interrupted. sources.yml and profiles.yml sit in the project
directory, outside the watched tree, so edits to them do not trigger a
re-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		opts := runOptions{
			failFast:       serveFailFast,
			maxParallelism: serveMaxParallelism,
			runTests:       serveTests,
		}

		if err := runOnce(ctx, opts); err != nil {
			return err
		}
		if !serveWatch {
			return nil
		}

		modelsDir := filepath.Join(projectDir, "models")
		onChange := func(paths []string) {
			logger.Info("change detected, re-running", zap.Strings("paths", paths))
			if err := runOnce(ctx, opts); err != nil {
				logger.Error("re-run failed", zap.Error(err))
			}
		}

		w, err := watch.New(modelsDir, serveDebounce, logger, onChange)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		w.Start(ctx)
		defer w.Stop()

		logger.Info("watching for changes", zap.String("dir", modelsDir))
		<-ctx.Done()
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Keep running and re-run on model/schema file changes")
	serveCmd.Flags().DurationVar(&serveDebounce, "debounce", 500*time.Millisecond, "Debounce window for batching rapid file changes")
	serveCmd.Flags().IntVar(&serveMaxParallelism, "max-parallelism", 0, "Maximum models executed concurrently per DAG level")
	serveCmd.Flags().BoolVar(&serveFailFast, "fail-fast", false, "Abort a run on the first model failure")
	serveCmd.Flags().BoolVar(&serveTests, "test", false, "Run declared column tests after each model materializes")
}

// runOnce builds a fresh engine, plans and runs every model, and prints
// the run summary without exiting the process (unlike doRun, since serve
// must keep running after a failed iteration).
func runOnce(ctx context.Context, opts runOptions) error {
	eng, err := buildEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	plan, err := eng.Plan(nil, opts.fullRefresh)
	if err != nil {
		return err
	}
	printPlan(plan)

	rep, runErr := eng.Run(ctx, plan)
	if saveErr := eng.SaveState(); saveErr != nil {
		logger.Error("failed to persist state", zap.Error(saveErr))
	}
	fmt.Println()
	fmt.Println(rep.Summary())
	return runErr
}
