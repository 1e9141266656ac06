package matrix

import (
	"context"
	"testing"
	"time"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/obs"
	"github.com/kuitang/uimatrix/internal/scenario"
)

// RunT runs the matrix as Go subtests: one subtest per scenario label and
// one nested subtest per step. After a failed step the remaining steps are
// reported as skipped and teardown still runs.
func (r *Runner[H]) RunT(t *testing.T, m scenario.Matrix) Report {
	t.Helper()

	ctx := t.Context()
	if obs.CorrelationFromContext(ctx).RunID == "" {
		ctx = obs.WithRunID(ctx, obs.NewRunID())
	}
	rep := r.newReport(ctx, len(m))
	for _, sc := range m {
		var res ScenarioResult
		t.Run(sc.Label(), func(t *testing.T) {
			res = r.runScenario(ctx, sc, subtestExec(t))
			switch {
			case res.Err != nil && res.FailedStep == "":
				t.Fatalf("scenario %q: %v", res.Label, res.Err)
			case res.FailedStep != "":
				for _, s := range res.Steps {
					if s.Status == StepSkipped {
						t.Logf("skipped %q after %q failed", s.Name, res.FailedStep)
					}
				}
			}
			if res.TeardownErr != nil {
				t.Errorf("scenario %q teardown: %v", res.Label, res.TeardownErr)
			}
		})
		rep.Scenarios = append(rep.Scenarios, res)
	}
	rep.Duration = time.Since(rep.Started)
	return rep
}

func subtestExec(t *testing.T) stepExec {
	return func(ctx context.Context, name string, fn func(ctx context.Context) error) error {
		var stepErr error
		ok := t.Run(name, func(t *testing.T) {
			if err := fn(ctx); err != nil {
				stepErr = err
				t.Fatalf("[%s] %v", errs.CodeOf(err), err)
			}
		})
		if !ok && stepErr == nil {
			stepErr = errs.New(errs.Internal, "step "+name+" failed")
		}
		return stepErr
	}
}
