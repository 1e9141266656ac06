package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/uimatrix/internal/artifacts"
	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/matrix"
	"github.com/kuitang/uimatrix/internal/scenario"
)

func sampleReport() matrix.Report {
	failErr := errs.New(errs.AssertionFailure, `#editar is still visible <script>alert(1)</script>`)
	return matrix.Report{
		RunID:    "run-1",
		Group:    "permisos",
		Duration: 3 * time.Second,
		Scenarios: []matrix.ScenarioResult{
			{
				Label:    "4",
				Scenario: scenario.Of("ID_OPERACION", 4),
				Steps: []matrix.StepResult{
					{Name: "goto /operaciones", Status: matrix.StepPassed},
					{Name: "expect visible #editar", Status: matrix.StepPassed},
				},
				Transitions: []matrix.Transition{{State: matrix.StateCreated, Step: -1}, {State: matrix.StateDone, Step: -1}},
			},
			{
				Label:      "8",
				Scenario:   scenario.Of("ID_OPERACION", 8),
				FailedStep: "expect hidden #editar",
				Err:        failErr,
				Steps: []matrix.StepResult{
					{Name: "goto /operaciones", Status: matrix.StepPassed},
					{Name: "expect hidden #editar", Status: matrix.StepFailed, Err: failErr},
					{Name: "click #guardar | confirm", Status: matrix.StepSkipped},
				},
				Transitions: []matrix.Transition{{State: matrix.StateFlowFailed, Step: 1}, {State: matrix.StateDone, Step: -1}},
			},
			{
				Label:       "",
				Err:         errs.New(errs.SessionSetup, "browser did not start"),
				Transitions: []matrix.Transition{{State: matrix.StateSetupFailed, Step: -1}, {State: matrix.StateDone, Step: -1}},
			},
		},
	}
}

func TestFromMatrix_Counts(t *testing.T) {
	s := FromMatrix("run-1", sampleReport(), matrix.Report{})
	require.Equal(t, 1, s.Passed)
	require.Equal(t, 2, s.Failed)
	require.False(t, s.OK())
	require.Len(t, s.Groups, 2)
	require.Equal(t, "matrix", s.Groups[1].Name)

	failed := s.Groups[0].Scenarios[1]
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, "assertion_failure", failed.Code)
	require.Equal(t, "expect hidden #editar", failed.FailedStep)
	require.Equal(t, "done", failed.FinalState)
	require.Equal(t, StatusSetupFailed, s.Groups[0].Scenarios[2].Status)
}

func TestMarkdown_NamesScenarioAndStep(t *testing.T) {
	md := FromMatrix("run-1", sampleReport()).Markdown()
	require.Contains(t, md, "# Run run-1")
	require.Contains(t, md, "**1 passed, 2 failed**")
	require.Contains(t, md, "| 8 | failed | expect hidden #editar | assertion_failure:")
	require.Contains(t, md, "- [x] goto /operaciones")
	require.Contains(t, md, `- [ ] click #guardar | confirm _(skipped)_`)
	require.Contains(t, md, "session_setup: browser did not start")
	require.NotContains(t, md, "| click #guardar | confirm |")
}

func TestHTML_IsSanitized(t *testing.T) {
	out, err := FromMatrix("run-1", sampleReport()).HTML()
	require.NoError(t, err)
	html := string(out)
	require.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	require.Contains(t, html, "<title>Run run-1</title>")
	require.Contains(t, html, "<table>")
	require.NotContains(t, html, "<script>alert(1)</script>")
}

func TestJSON_RoundTrip(t *testing.T) {
	s := FromMatrix("run-1", sampleReport())
	var buf bytes.Buffer
	require.NoError(t, s.WriteJSON(&buf))
	require.Contains(t, buf.String(), `"run_id": "run-1"`)

	back, err := ReadJSON(&buf)
	require.NoError(t, err)
	require.Equal(t, s.Markdown(), back.Markdown())
}

func TestReadJSON_Invalid(t *testing.T) {
	_, err := ReadJSON(strings.NewReader("{"))
	require.Error(t, err)
}

func TestPublish_WritesEveryFormat(t *testing.T) {
	t.Parallel()

	store := artifacts.TestS3Store(t, "reports", "ci")
	summary := FromMatrix("run-1", sampleReport())

	keys, err := summary.Publish(t.Context(), store)
	require.NoError(t, err)
	require.Equal(t, []string{"run-1/report.json", "run-1/report.md", "run-1/report.html"}, keys)

	data, err := store.Get(t.Context(), "run-1/report.json")
	require.NoError(t, err)
	back, err := ReadJSON(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, summary.Failed, back.Failed)

	page, err := store.Get(t.Context(), "run-1/report.html")
	require.NoError(t, err)
	require.NotContains(t, string(page), "<script>alert")
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket gone")
}

func TestPublish_StoreError(t *testing.T) {
	t.Parallel()

	keys, err := FromMatrix("run-1", sampleReport()).Publish(t.Context(), failingStore{})
	require.ErrorContains(t, err, "bucket gone")
	require.Empty(t, keys)
}

func TestCollector_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	var c Collector
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add(sampleReport())
		}()
	}
	wg.Wait()

	require.Equal(t, 8, c.Len())
	s := c.Summary("run-2")
	require.Equal(t, "run-2", s.RunID)
	require.Len(t, s.Groups, 8)
	require.Equal(t, 8, s.Passed)
	require.Equal(t, 16, s.Failed)
}
