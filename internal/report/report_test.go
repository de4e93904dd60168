package report

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sqlorch/internal/errs"
	"sqlorch/internal/types"
)

func TestExitCodeSuccessWhenAllModelsSucceed(t *testing.T) {
	r := New()
	r.Record(types.ModelResult{Name: "a", Status: "success"})
	r.Record(types.ModelResult{Name: "b", Status: "no_change"})
	require.Equal(t, ExitSuccess, r.ExitCode(nil))
}

func TestExitCodePlanFailuresWhenAModelFailed(t *testing.T) {
	r := New()
	r.Record(types.ModelResult{Name: "a", Status: "success"})
	r.Record(types.ModelResult{Name: "b", Status: "failed", Error: errs.ForModel(errs.KindMaterialization, "b", "boom", nil)})
	require.Equal(t, ExitPlanFailures, r.ExitCode(nil))
	require.Equal(t, 1, r.FailureCount())
	require.False(t, r.Succeeded())
}

func TestExitCodeUnhandledOnNonRecoverableRunError(t *testing.T) {
	r := New()
	runErr := errs.New(errs.KindConfiguration, "missing credentials", nil)
	require.Equal(t, ExitUnhandled, r.ExitCode(runErr))
}

func TestExitCodeTreatsRecoverableRunErrLikePlanFailures(t *testing.T) {
	r := New()
	r.Record(types.ModelResult{Name: "a", Status: "failed"})
	runErr := errs.ForModel(errs.KindExecution, "a", "boom", nil)
	require.Equal(t, ExitPlanFailures, r.ExitCode(runErr))
}
