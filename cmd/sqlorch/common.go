package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"sqlorch/internal/errs"
	"sqlorch/internal/orchestrator"
	"sqlorch/internal/profile"
	"sqlorch/internal/report"
	"sqlorch/internal/warehouse"
)

// runOptions carries the flags shared by run/run-all/plan: full refresh,
// fail-fast toggle, max parallelism, whether to run column tests, and an
// optional backfill window.
type runOptions struct {
	fullRefresh    bool
	failFast       bool
	maxParallelism int
	runTests       bool
	backfillStart  string
	backfillEnd    string
}

// buildEngine loads profiles.yml, connects the warehouse client, and
// assembles an orchestrator.Engine rooted at projectDir. Callers must
// call engine.Close() when done.
func buildEngine(ctx context.Context, opts runOptions) (*orchestrator.Engine, error) {
	profilesPath := filepath.Join(projectDir, "profiles.yml")
	prof, err := profile.Load(profilesPath, environment)
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, "load profiles", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", prof.User, prof.Password, prof.Host, prof.Port, prof.Database)
	policy := warehouse.DefaultRetryPolicy(prof.MaxRetries)
	wh, err := warehouse.NewPgxClient(ctx, dsn, prof.PoolSize, prof.LazyInit, policy, logger)
	if err != nil {
		return nil, errs.New(errs.KindConnection, "connect to warehouse", err)
	}

	modelsDir := filepath.Join(projectDir, "models")
	cfg := orchestrator.Config{
		ModelsDir:      modelsDir,
		SchemaDir:      modelsDir,
		SourcesFile:    filepath.Join(projectDir, "sources.yml"),
		RootDir:        projectDir,
		Project:        filepath.Base(projectDir),
		Environment:    prof.Target,
		Database:       prof.Database,
		Schema:         prof.Schema,
		MaxParallelism: opts.maxParallelism,
		FailFast:       opts.failFast,
		RunTests:       opts.runTests,
		BackfillStart:  opts.backfillStart,
		BackfillEnd:    opts.backfillEnd,
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = prof.Threads
	}

	eng, err := orchestrator.New(cfg, wh, logger)
	if err != nil {
		wh.Close()
		return nil, err
	}
	if err := eng.Load(); err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}

// buildEngineOffline assembles an Engine without connecting to the
// warehouse, for commands that only need parsed models, the graph, or
// the registry (list, deps, validate).
func buildEngineOffline() (*orchestrator.Engine, error) {
	modelsDir := filepath.Join(projectDir, "models")
	cfg := orchestrator.Config{
		ModelsDir:   modelsDir,
		SchemaDir:   modelsDir,
		SourcesFile: filepath.Join(projectDir, "sources.yml"),
		RootDir:     projectDir,
		Project:     filepath.Base(projectDir),
		Environment: environment,
	}

	eng, err := orchestrator.New(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	if err := eng.Load(); err != nil {
		return nil, err
	}
	return eng, nil
}

// doRun plans targets, executes the plan, persists state, prints the run
// summary, and exits the process with the report's exit code. Shared by
// the run and run-all subcommands, which differ only in their target set.
func doRun(ctx context.Context, targets []string, opts runOptions) error {
	eng, err := buildEngine(ctx, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	plan, err := eng.Plan(targets, opts.fullRefresh)
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

	exitCode := rep.ExitCode(runErr)
	if exitCode != report.ExitSuccess {
		if runErr != nil {
			fmt.Fprintln(os.Stderr, runErr)
		}
		os.Exit(exitCode)
	}
	return nil
}
