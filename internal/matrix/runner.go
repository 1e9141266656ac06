// Package matrix runs a shared flow once per scenario of a matrix, each run
// scoped by its own fixture. A failing step ends only its own scenario;
// teardown always runs exactly once.
package matrix

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/flow"
	"github.com/kuitang/uimatrix/internal/obs"
	"github.com/kuitang/uimatrix/internal/scenario"
)

// Fixture establishes and releases the isolated environment of one scenario.
type Fixture[H any] interface {
	Setup(ctx context.Context, sc scenario.Scenario) (H, error)
	Teardown(ctx context.Context, h H) error
}

// FailureObserver is implemented by fixtures that want to capture state
// (screenshots, page HTML) after a failed step and before teardown.
type FailureObserver[H any] interface {
	StepFailed(ctx context.Context, h H, sc scenario.Scenario, step string, err error)
}

// Runner executes a flow over a matrix.
type Runner[H any] struct {
	// Group names the matrix in logs and reports.
	Group   string
	Fixture Fixture[H]
	Flow    flow.Flow[H]
	// StepTimeout bounds each step's context. Zero leaves steps bounded only
	// by their own waits.
	StepTimeout time.Duration
}

// stepExec runs one named step body; the testing adapter wraps it in a subtest.
type stepExec func(ctx context.Context, name string, fn func(ctx context.Context) error) error

func directExec(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Execute runs every scenario sequentially in declared order.
func (r *Runner[H]) Execute(ctx context.Context, m scenario.Matrix) Report {
	rep := r.newReport(ctx, len(m))
	for _, sc := range m {
		rep.Scenarios = append(rep.Scenarios, r.runScenario(ctx, sc, directExec))
	}
	rep.Duration = time.Since(rep.Started)
	return rep
}

// Job binds the runner to a matrix for ExecuteGroups.
func (r *Runner[H]) Job(m scenario.Matrix) Job {
	return func(ctx context.Context) Report {
		return r.Execute(ctx, m)
	}
}

func (r *Runner[H]) newReport(ctx context.Context, n int) Report {
	return Report{
		RunID:     obs.RunIDFromContext(ctx),
		Group:     r.Group,
		Started:   time.Now(),
		Scenarios: make([]ScenarioResult, 0, n),
	}
}

func (r *Runner[H]) runScenario(ctx context.Context, sc scenario.Scenario, exec stepExec) (res ScenarioResult) {
	start := time.Now()
	res = ScenarioResult{Label: sc.Label(), Scenario: sc}
	res.enter(StateCreated, -1)

	ctx = obs.WithScenario(obs.WithCorrelation(ctx, obs.Correlation{Group: r.Group}), res.Label)
	logger := obs.From(ctx)
	defer func() {
		res.Duration = time.Since(start)
	}()

	var steps []flow.Step[H]
	err := protect("flow", func() error {
		steps = flow.Number(r.Flow(sc))
		return flow.Validate(steps)
	})
	if err != nil {
		res.Err = err
		res.Steps = append(res.Steps, skipped(steps, 0)...)
		res.enter(StateSetupFailed, -1)
		res.enter(StateDone, -1)
		logger.Error("invalid flow", "error", err)
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Err = errs.Wrap(errs.SessionSetup, "run cancelled before setup", err)
		res.Steps = append(res.Steps, skipped(steps, 0)...)
		res.enter(StateSetupFailed, -1)
		res.enter(StateDone, -1)
		return res
	}

	var h H
	err = protect("setup", func() (err error) {
		h, err = r.Fixture.Setup(ctx, sc)
		return err
	})
	if err != nil {
		if !errs.Is(err, errs.SessionSetup) {
			err = errs.Wrap(errs.SessionSetup, "session setup failed", err)
		}
		res.Err = err
		res.Steps = append(res.Steps, skipped(steps, 0)...)
		res.enter(StateSetupFailed, -1)
		res.enter(StateDone, -1)
		logger.Error("session setup failed", "error", err)
		return res
	}
	res.enter(StateSessionUp, -1)
	logger.Info("session up", "steps", len(steps))

	defer func() {
		terr := protect("teardown", func() error {
			return r.Fixture.Teardown(context.WithoutCancel(ctx), h)
		})
		if terr != nil {
			res.TeardownErr = terr
			logger.Warn("teardown reported errors", "error", terr)
		}
		res.enter(StateSessionTornDown, -1)
		res.enter(StateDone, -1)
	}()

	for i, step := range steps {
		res.enter(StateFlowRunning, i)
		stepCtx := obs.WithStep(ctx, step.Name)
		stepStart := time.Now()
		err := exec(stepCtx, step.Name, func(ctx context.Context) error {
			return r.runStep(ctx, h, step)
		})
		sr := StepResult{Name: step.Name, Status: StepPassed, Duration: time.Since(stepStart)}
		if err != nil {
			sr.Status = StepFailed
			sr.Err = err
			res.Steps = append(res.Steps, sr)
			res.FailedStep = step.Name
			res.Err = err
			obs.From(stepCtx).Error("step failed", "code", errs.CodeOf(err), "error", err)
			if observer, ok := r.Fixture.(FailureObserver[H]); ok {
				if perr := protect("failure observer", func() error {
					observer.StepFailed(stepCtx, h, sc, step.Name, err)
					return nil
				}); perr != nil {
					obs.From(stepCtx).Error("failure observer", "error", perr)
				}
			}
			res.Steps = append(res.Steps, skipped(steps, i+1)...)
			res.enter(StateFlowFailed, -1)
			return res
		}
		res.Steps = append(res.Steps, sr)
	}
	res.enter(StateFlowPassed, -1)
	logger.Info("flow passed")
	return res
}

func (r *Runner[H]) runStep(ctx context.Context, h H, step flow.Step[H]) (err error) {
	if r.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.StepTimeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			err = errs.New(errs.Internal, fmt.Sprintf("step %q panicked: %v\n%s", step.Name, p, debug.Stack()))
		}
	}()
	return step.Do(ctx, h)
}

// protect turns a panic in fn into an errs.Internal error.
func protect(what string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errs.New(errs.Internal, fmt.Sprintf("%s panicked: %v\n%s", what, p, debug.Stack()))
		}
	}()
	return fn()
}
