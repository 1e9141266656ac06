package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/obs"
	"github.com/kuitang/uimatrix/internal/scenario"
	"github.com/kuitang/uimatrix/internal/urlutil"
)

// Login drives the application's login on page.
type Login func(ctx context.Context, page playwright.Page) error

// Credentials for a form login.
type Credentials struct {
	User     string
	Password string
}

// LoginForm locates the login form and the page reached after signing in.
type LoginForm struct {
	// Path of the login page relative to the base URL; empty stays on the
	// landing page.
	Path             string
	UserSelector     string
	PasswordSelector string
	SubmitSelector   string
	// DoneURL is a URL glob that matches once the login completed.
	DoneURL string
}

// DefaultLoginForm matches a plain username/password form.
var DefaultLoginForm = LoginForm{
	UserSelector:     `input[name="username"]`,
	PasswordSelector: `input[type="password"]`,
	SubmitSelector:   `button[type="submit"]`,
}

// FormLogin fills form with creds and submits it.
func FormLogin(baseURL string, form LoginForm, creds Credentials) Login {
	return func(ctx context.Context, page playwright.Page) error {
		if strings.TrimSpace(creds.User) == "" || creds.Password == "" {
			return errs.New(errs.InvalidArgument, "login needs a user and a password")
		}
		if form.Path != "" {
			if _, err := page.Goto(urlutil.BuildAbsolute(baseURL, form.Path), playwright.PageGotoOptions{
				WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			}); err != nil {
				return fmt.Errorf("open login page: %w", err)
			}
		}
		if err := page.Locator(form.UserSelector).Fill(creds.User); err != nil {
			return fmt.Errorf("fill user: %w", err)
		}
		if err := page.Locator(form.PasswordSelector).Fill(creds.Password); err != nil {
			return fmt.Errorf("fill password: %w", err)
		}
		if err := page.Locator(form.SubmitSelector).Click(); err != nil {
			return fmt.Errorf("submit login: %w", err)
		}
		if form.DoneURL != "" {
			if err := page.WaitForURL(form.DoneURL); err != nil {
				return errs.Wrap(errs.AssertionFailure, "login did not reach "+form.DoneURL, err)
			}
		}
		obs.From(ctx).Info("logged in", "pkg", "session", "user", creds.User)
		return nil
	}
}

// CaptureAuthState logs in once with a fresh context and writes the
// resulting cookies and local storage to path. Later sessions read the file
// through Options.StorageStatePath.
func CaptureAuthState(ctx context.Context, opts Options, login Login, path string) error {
	if strings.TrimSpace(path) == "" {
		return errs.New(errs.InvalidArgument, "storage state path is required")
	}
	opts.StorageStatePath = ""
	opts.KeepBrowser = false

	f, err := NewFixture(opts)
	if err != nil {
		return err
	}
	h, err := f.Setup(ctx, scenario.Scenario{})
	if err != nil {
		return err
	}
	defer func() { _ = f.Teardown(ctx, h) }()

	if err := login(ctx, h.Page); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if _, err := h.Context.StorageState(path); err != nil {
		return fmt.Errorf("write storage state: %w", err)
	}
	return nil
}
