package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuitang/uimatrix/internal/artifacts"
	"github.com/kuitang/uimatrix/internal/config"
	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/flow"
	"github.com/kuitang/uimatrix/internal/intercept"
	"github.com/kuitang/uimatrix/internal/matrix"
	"github.com/kuitang/uimatrix/internal/obs"
	"github.com/kuitang/uimatrix/internal/report"
	"github.com/kuitang/uimatrix/internal/scenario"
	"github.com/kuitang/uimatrix/internal/session"
	"github.com/kuitang/uimatrix/internal/ui"
)

func permisoRules(sc scenario.Scenario) []intercept.Rule {
	return []intercept.Rule{
		intercept.FromScenario("permiso", "**/api/operaciones/permiso", []string{"data", "permiso"}, sc),
		intercept.FromScenario("estado", "**/api/estado", nil, sc),
	}
}

func newFixture(t *testing.T, app *App, options ...session.Option) *session.Fixture {
	t.Helper()
	f, err := session.NewFixture(app.Options(), append([]session.Option{session.WithRules(permisoRules)}, options...)...)
	if err != nil {
		t.Fatalf("NewFixture: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

var permisos = scenario.Matrix{
	scenario.Of("ID_OPERACION", 4),
	scenario.Of("ID_OPERACION", 8),
}

func permisoFlow(sc scenario.Scenario) []ui.Step {
	return flow.Steps(
		[]ui.Step{
			ui.ExpectText("#permiso-nombre", "Caja principal"),
			ui.ExpectText("#error", "sin datos"),
		},
		flow.Branch(sc, "ID_OPERACION", 4,
			[]ui.Step{ui.ExpectVisible("#editar")},
			[]ui.Step{ui.ExpectHidden("#editar")},
		),
	)
}

func TestPermissionMatrix(t *testing.T) {
	RequireBrowser(t)
	app := NewApp(t)

	var handles []*session.Handle
	runner := &matrix.Runner[*session.Handle]{
		Group:   "permisos",
		Fixture: newFixture(t, app),
		Flow: func(sc scenario.Scenario) []ui.Step {
			return append(permisoFlow(sc), flow.New("record handle", func(_ context.Context, h *session.Handle) error {
				handles = append(handles, h)
				return nil
			}))
		},
	}

	rep := runner.RunT(t, permisos)
	suite.Add(rep)
	if !rep.Passed() {
		t.Fatalf("matrix failed: %+v", rep.Failed())
	}
	if len(handles) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(handles))
	}
	if handles[0] == handles[1] || handles[0].Page == handles[1].Page {
		t.Fatal("scenarios shared a session")
	}
	for _, h := range handles {
		if !h.Page.IsClosed() {
			t.Fatalf("page of %s left open after teardown", h.Label())
		}
		ic, ok := h.Interceptor("permiso")
		if !ok || ic.Stats().Rewritten != 1 {
			t.Fatalf("permiso interceptor stats for %s: %+v", h.Label(), ic.Stats())
		}
		est, _ := h.Interceptor("estado")
		if st := est.Stats(); st.Rewritten != 0 || st.PassThrough != 1 {
			t.Fatalf("single-field envelope must pass through, got %+v", st)
		}
	}
	if app.PermisoHits() != 2 {
		t.Fatalf("real backend should be hit once per scenario, got %d", app.PermisoHits())
	}
}

func TestFailingScenarioIsIsolated(t *testing.T) {
	RequireBrowser(t)
	app := NewApp(t)
	artifactsDir := t.TempDir()

	// Both scenarios claim edit access; only ID_OPERACION 4 renders it.
	runner := &matrix.Runner[*session.Handle]{
		Group:   "permisos-invertidos",
		Fixture: newFixture(t, app, session.WithArtifacts(artifacts.DirStore{Root: artifactsDir})),
		Flow: func(scenario.Scenario) []ui.Step {
			return []ui.Step{ui.ExpectVisible("#editar"), ui.ExpectText("h1", "Operaciones")}
		},
	}

	ctx := obs.WithRunID(t.Context(), "run-browser")
	rep := runner.Execute(ctx, scenario.Matrix{scenario.Of("ID_OPERACION", 8), scenario.Of("ID_OPERACION", 4)})

	failed, passed := rep.Scenarios[0], rep.Scenarios[1]
	if failed.Passed() || !errs.Is(failed.Err, errs.AssertionFailure) {
		t.Fatalf("scenario 8 should fail with an assertion failure, got %v", failed.Err)
	}
	if failed.FailedStep != "expect visible #editar" {
		t.Fatalf("failed step = %q", failed.FailedStep)
	}
	if failed.Final() != matrix.StateDone || !failed.Visited(matrix.StateSessionTornDown) {
		t.Fatalf("scenario 8 did not tear down: %+v", failed.Transitions)
	}
	if !passed.Passed() {
		t.Fatalf("scenario 4 should pass after 8 failed: %v", passed.Err)
	}

	shot := filepath.Join(artifactsDir, filepath.FromSlash(artifacts.Key("run-browser", "8", failed.FailedStep, "png")))
	if _, err := os.Stat(shot); err != nil {
		t.Fatalf("expected failure screenshot: %v", err)
	}
}

func TestAuthStateReportsUploadAndDialog(t *testing.T) {
	RequireBrowser(t)
	app := NewApp(t)

	statePath := filepath.Join(t.TempDir(), "auth", "state.json")
	login := session.FormLogin(app.URL, session.LoginForm{
		Path:             "/login",
		UserSelector:     `input[name="username"]`,
		PasswordSelector: `input[type="password"]`,
		SubmitSelector:   `button[type="submit"]`,
		DoneURL:          app.URL + "/",
	}, session.Credentials{User: "cajero", Password: "secreto"})
	if err := session.CaptureAuthState(t.Context(), app.Options(), login, statePath); err != nil {
		t.Fatalf("CaptureAuthState: %v", err)
	}
	before, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}

	opts := app.Options()
	opts.StorageStatePath = statePath
	opts.KeepBrowser = true
	fixture, err := session.NewFixture(opts, session.WithRules(permisoRules))
	if err != nil {
		t.Fatalf("NewFixture: %v", err)
	}
	t.Cleanup(func() { _ = fixture.Close() })

	upload := WriteUploadFile(t, "comprobante.txt")
	runner := &matrix.Runner[*session.Handle]{
		Group:   "caja",
		Fixture: fixture,
		Flow: func(sc scenario.Scenario) []ui.Step {
			return flow.Steps(
				[]ui.Step{
					ui.ExpectLocalStorageText("#sucursal", "sucursal"),
					flow.New("seeded user", func(_ context.Context, h *session.Handle) error {
						if v, ok := h.Storage().LookupField("usuario", "nombre"); !ok || v != "cajero" {
							return errs.New(errs.AssertionFailure, "usuario.nombre = "+v)
						}
						return nil
					}),
					ui.ClickAndReap("#imprimir", 2),
					ui.Upload("#archivo", upload),
					ui.ExpectText("#archivo-nombre", "comprobante.txt"),
					ui.ExpectDialog("#anular", "Confirma"),
					ui.ExpectText("#estado", "anulado"),
				},
			)
		},
	}
	rep := runner.RunT(t, permisos)
	suite.Add(rep)
	if !rep.Passed() {
		t.Fatalf("flow failed: %+v", rep.Failed())
	}

	after, err := os.ReadFile(statePath)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("storage state file changed during the run")
	}
}

func TestReapWrongCountFails(t *testing.T) {
	RequireBrowser(t)
	app := NewApp(t)

	opts := app.Options()
	opts.Reaper.Timeout = 500 * time.Millisecond
	fixture, err := session.NewFixture(opts)
	if err != nil {
		t.Fatalf("NewFixture: %v", err)
	}
	h, err := fixture.Setup(t.Context(), scenario.Of("ID_OPERACION", 4))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() { _ = fixture.Teardown(context.WithoutCancel(t.Context()), h) }()

	err = ui.ClickAndReap("#imprimir", 3).Do(t.Context(), h)
	if !errs.Is(err, errs.WindowCountMismatch) {
		t.Fatalf("expected window_count_mismatch waiting for 3 of 2 windows, got %v", err)
	}
}

// Independent groups run concurrently from an environment configuration,
// each with its own fixture, and the run report lands in the artifacts dir.
func TestConfiguredGroupsPublishReport(t *testing.T) {
	RequireBrowser(t)
	app := NewApp(t)
	artifactsDir := t.TempDir()

	t.Setenv("BASE_URL", app.URL)
	t.Setenv("BROWSER", "chromium")
	t.Setenv("HEADLESS", "true")
	t.Setenv("SKIP_INSTALL", "true")
	t.Setenv("TIMEOUT", browserMaxTimeout.String())
	t.Setenv("ARTIFACTS_DIR", artifactsDir)
	t.Setenv("ARTIFACTS_BUCKET", "")
	t.Setenv("STORAGE_STATE", "")
	t.Setenv("ACTION_RPS", "20")
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	runners := make([]*matrix.Runner[*session.Handle], 2)
	for i, group := range []string{"caja", "boveda"} {
		fixture, release, err := cfg.Fixture(t.Context(), permisoRules)
		if err != nil {
			t.Fatalf("Fixture: %v", err)
		}
		t.Cleanup(release)
		runners[i] = &matrix.Runner[*session.Handle]{Group: group, Fixture: fixture, Flow: permisoFlow}
	}

	runID := obs.NewRunID()
	ctx := obs.WithRunID(t.Context(), runID)
	reports := matrix.ExecuteGroups(ctx, 2,
		runners[0].Job(permisos),
		runners[1].Job(scenario.Matrix{scenario.Of("ID_OPERACION", 8)}),
	)
	suite.Add(reports...)

	summary := report.FromMatrix(runID, reports...)
	if !summary.OK() || summary.Passed != 3 {
		t.Fatalf("expected 3 passing scenarios, got %+v", summary)
	}
	store, err := cfg.ArtifactStore(t.Context())
	if err != nil {
		t.Fatalf("ArtifactStore: %v", err)
	}
	if _, err := summary.Publish(t.Context(), store); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	f, err := os.Open(filepath.Join(artifactsDir, filepath.FromSlash(artifacts.RunKey(runID, "report.json"))))
	if err != nil {
		t.Fatalf("report.json not written: %v", err)
	}
	defer f.Close()
	back, err := report.ReadJSON(f)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(back.Groups) != 2 || back.Groups[0].Name != "caja" || back.Groups[1].Name != "boveda" {
		t.Fatalf("groups out of order: %+v", back.Groups)
	}
}
