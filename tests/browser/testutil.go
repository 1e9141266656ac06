// Package browser runs scenario matrices in a real browser against a small
// in-process application that behaves like the screens under test: a
// permissions API, report popups, an upload and a confirmation dialog.
package browser

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uimatrix/internal/session"
)

const (
	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeout = 5 * time.Second
)

var (
	probeOnce sync.Once
	probeErr  error
)

// RequireBrowser skips the test unless Chromium can be launched.
func RequireBrowser(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in -short mode")
	}
	probeOnce.Do(func() {
		pw, err := playwright.Run()
		if err != nil {
			probeErr = err
			return
		}
		defer func() { _ = pw.Stop() }()
		b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(true)})
		if err != nil {
			probeErr = err
			return
		}
		_ = b.Close()
	})
	if probeErr != nil {
		t.Skip("Playwright not available:", probeErr)
	}
}

// App is the application under test.
type App struct {
	Server *httptest.Server
	URL    string

	permisoHits atomic.Int64
}

// NewApp starts the application.
func NewApp(t *testing.T) *App {
	t.Helper()
	app := &App{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", app.home)
	mux.HandleFunc("GET /login", app.loginPage)
	mux.HandleFunc("GET /api/operaciones/permiso", app.permiso)
	mux.HandleFunc("GET /api/estado", app.estado)
	mux.HandleFunc("GET /reporte/{n}", app.reporte)
	app.Server = httptest.NewServer(mux)
	app.URL = app.Server.URL
	t.Cleanup(app.Server.Close)
	return app
}

// PermisoHits counts permission API requests that reached the server.
func (a *App) PermisoHits() int64 { return a.permisoHits.Load() }

// Options returns session options for this app.
func (a *App) Options() session.Options {
	return session.Options{
		BaseURL:     a.URL,
		Browser:     session.Chromium,
		Headless:    true,
		Timeout:     browserMaxTimeout,
		Viewport:    &session.Size{Width: 1280, Height: 800},
		SkipInstall: true,
	}
}

// The live backend grants edit (ID_OPERACION 1) to everyone; scenarios
// rewrite it.
func (a *App) permiso(w http.ResponseWriter, _ *http.Request) {
	a.permisoHits.Add(1)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok","data":{"permiso":{"ID_OPERACION":1,"NOMBRE":"Caja principal"}}}`)
}

// A single-field error envelope, never rewritten.
func (a *App) estado(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"error":"sin datos"}`)
}

func (a *App) reporte(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><title>Reporte %s</title><h1>Reporte %s</h1>", r.PathValue("n"), r.PathValue("n"))
}

func (a *App) loginPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, loginHTML)
}

func (a *App) home(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, homeHTML)
}

const loginHTML = `<!DOCTYPE html>
<html><body>
<form id="login">
  <input name="username">
  <input type="password" name="password">
  <button type="submit">Ingresar</button>
</form>
<script>
document.getElementById('login').addEventListener('submit', function (e) {
  e.preventDefault();
  localStorage.setItem('sucursal', 'Centro');
  localStorage.setItem('usuario', JSON.stringify({nombre: this.username.value}));
  document.cookie = 'JSESSIONID=abc; path=/';
  location.href = '/';
});
</script>
</body></html>`

const homeHTML = `<!DOCTYPE html>
<html><body>
<h1>Operaciones</h1>
<p>Sucursal: <span id="sucursal"></span></p>
<p id="permiso-nombre"></p>
<div id="acciones"></div>
<button id="imprimir">Imprimir</button>
<input type="file" id="archivo">
<span id="archivo-nombre"></span>
<button id="anular">Anular</button>
<span id="estado">vigente</span>
<p id="error"></p>
<script>
document.getElementById('sucursal').textContent = localStorage.getItem('sucursal') || '';
fetch('/api/operaciones/permiso').then(r => r.json()).then(body => {
  const p = body.data.permiso;
  document.getElementById('permiso-nombre').textContent = p.NOMBRE;
  if (p.ID_OPERACION === 4 || p.ID_OPERACION === 1) {
    const b = document.createElement('button');
    b.id = 'editar';
    b.textContent = 'Editar';
    document.getElementById('acciones').appendChild(b);
  }
});
fetch('/api/estado').then(r => r.json()).then(body => {
  document.getElementById('error').textContent = body.error || '';
});
document.getElementById('imprimir').addEventListener('click', () => {
  window.open('/reporte/1', '_blank');
  window.open('/reporte/2', '_blank');
});
document.getElementById('archivo').addEventListener('change', e => {
  document.getElementById('archivo-nombre').textContent = e.target.files[0].name;
});
document.getElementById('anular').addEventListener('click', () => {
  if (confirm('Confirma la anulacion?')) {
    document.getElementById('estado').textContent = 'anulado';
  }
});
</script>
</body></html>`

// WriteUploadFile creates a small file to upload.
func WriteUploadFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("comprobante"), 0o600); err != nil {
		t.Fatalf("write upload file: %v", err)
	}
	return path
}
