package matrix

import (
	"time"

	"github.com/kuitang/uimatrix/internal/flow"
	"github.com/kuitang/uimatrix/internal/scenario"
)

// State is a point in the lifecycle of one scenario run.
type State string

const (
	StateCreated         State = "created"
	StateSessionUp       State = "session_up"
	StateFlowRunning     State = "flow_running"
	StateFlowPassed      State = "flow_passed"
	StateFlowFailed      State = "flow_failed"
	StateSetupFailed     State = "setup_failed"
	StateSessionTornDown State = "session_torn_down"
	StateDone            State = "done"
)

// Transition records entering a state. Step is the step index while
// FlowRunning and -1 otherwise.
type Transition struct {
	State State
	Step  int
}

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Status   StepStatus
	Err      error
	Duration time.Duration
}

// ScenarioResult is the outcome of one scenario group.
type ScenarioResult struct {
	Label       string
	Scenario    scenario.Scenario
	Steps       []StepResult
	Transitions []Transition
	// FailedStep is empty when the scenario passed or never started a step.
	FailedStep  string
	Err         error
	TeardownErr error
	Duration    time.Duration
}

func (r *ScenarioResult) enter(s State, step int) {
	r.Transitions = append(r.Transitions, Transition{State: s, Step: step})
}

func skipped[H any](steps []flow.Step[H], from int) []StepResult {
	if from >= len(steps) {
		return nil
	}
	out := make([]StepResult, 0, len(steps)-from)
	for _, s := range steps[from:] {
		out = append(out, StepResult{Name: s.Name, Status: StepSkipped})
	}
	return out
}

// Passed reports whether setup and every step succeeded.
func (r ScenarioResult) Passed() bool {
	return r.Err == nil
}

// Final returns the last state entered.
func (r ScenarioResult) Final() State {
	if len(r.Transitions) == 0 {
		return ""
	}
	return r.Transitions[len(r.Transitions)-1].State
}

// Visited reports whether the run entered state s.
func (r ScenarioResult) Visited(s State) bool {
	for _, tr := range r.Transitions {
		if tr.State == s {
			return true
		}
	}
	return false
}

// Report collects the results of one matrix.
type Report struct {
	RunID     string
	Group     string
	Started   time.Time
	Duration  time.Duration
	Scenarios []ScenarioResult
}

// Passed reports whether every scenario passed.
func (r Report) Passed() bool {
	for _, s := range r.Scenarios {
		if !s.Passed() {
			return false
		}
	}
	return true
}

// Failed returns the failing scenarios in declared order.
func (r Report) Failed() []ScenarioResult {
	var out []ScenarioResult
	for _, s := range r.Scenarios {
		if !s.Passed() {
			out = append(out, s)
		}
	}
	return out
}
