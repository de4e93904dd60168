// Package report implements the run report: the user-visible summary of
// a run's per-model outcomes and the process exit code it maps to.
package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sqlorch/internal/errs"
	"sqlorch/internal/types"
)

// Exit codes per the CLI surface: 0 on a clean run, 1 on an unhandled
// (non-recoverable) error, 2 when the run completed but one or more
// models failed.
const (
	ExitSuccess      = 0
	ExitUnhandled    = 1
	ExitPlanFailures = 2
)

// Report is the full run report: one ModelResult per planned model plus
// the derived summary.
type Report struct {
	RunID   string
	Results []types.ModelResult
}

// New returns an empty report tagged with a fresh run ID, so separate
// invocations (and their log lines) can be correlated even when they
// overlap, e.g. two "serve --watch" re-runs triggered close together.
func New() *Report { return &Report{RunID: uuid.NewString()} }

// Record appends one model's outcome.
func (r *Report) Record(result types.ModelResult) {
	r.Results = append(r.Results, result)
}

// Succeeded reports whether every recorded model succeeded.
func (r *Report) Succeeded() bool {
	for _, res := range r.Results {
		if res.Status != "success" && res.Status != "no_change" {
			return false
		}
	}
	return true
}

// FailureCount returns how many models recorded a "failed" status.
func (r *Report) FailureCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == "failed" {
			n++
		}
	}
	return n
}

// ExitCode maps the report to a process exit code: 0 if every model
// succeeded or was unchanged, 2 if the run completed with per-model
// failures captured (fail_fast=false), or ExitUnhandled if runErr is a
// non-recoverable error that aborted the run entirely.
func (r *Report) ExitCode(runErr error) int {
	if runErr != nil {
		if kindErr, ok := classify(runErr); ok && !kindErr.Recoverable() {
			return ExitUnhandled
		}
	}
	if r.FailureCount() > 0 {
		return ExitPlanFailures
	}
	return ExitSuccess
}

// classify extracts the errs.Kind from any error satisfying the
// "kinded error" duck type (errs.Error, errs.MaterializationError,
// errs.CircularDependency all implement it).
func classify(err error) (kinded, bool) {
	k, ok := err.(kinded)
	return k, ok
}

type kinded interface {
	ErrKind() errs.Kind
}

// Summary renders the human-readable run summary line.
func (r *Report) Summary() string {
	successes, failures := 0, 0
	var total time.Duration
	for _, res := range r.Results {
		total += res.Duration
		if res.Status == "failed" {
			failures++
		} else {
			successes++
		}
	}
	return fmt.Sprintf("run %s: %d succeeded, %d failed, %d model(s), %s elapsed", r.RunID, successes, failures, len(r.Results), total)
}
