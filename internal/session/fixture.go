// Package session opens and closes the isolated browser session each
// scenario runs in.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uimatrix/internal/artifacts"
	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/intercept"
	"github.com/kuitang/uimatrix/internal/matrix"
	"github.com/kuitang/uimatrix/internal/obs"
	"github.com/kuitang/uimatrix/internal/ratelimit"
	"github.com/kuitang/uimatrix/internal/reaper"
	"github.com/kuitang/uimatrix/internal/scenario"
)

var (
	_ matrix.Fixture[*Handle]         = (*Fixture)(nil)
	_ matrix.FailureObserver[*Handle] = (*Fixture)(nil)
)

// RuleFunc chooses the response rewrites for a scenario.
type RuleFunc func(sc scenario.Scenario) []intercept.Rule

// Fixture is the matrix fixture backed by Playwright.
type Fixture struct {
	opts   Options
	rules  RuleFunc
	pacer  *ratelimit.RateLimiter
	store  artifacts.Store
	logger *slog.Logger

	installOnce sync.Once
	installErr  error

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// Option customizes a Fixture.
type Option func(*Fixture)

// WithRules installs the interceptors rules(sc) returns before each
// scenario's first navigation.
func WithRules(rules RuleFunc) Option {
	return func(f *Fixture) { f.rules = rules }
}

// WithPacer paces UI actions per scenario.
func WithPacer(p *ratelimit.RateLimiter) Option {
	return func(f *Fixture) { f.pacer = p }
}

// WithArtifacts stores a screenshot and the page HTML of every failed step.
func WithArtifacts(s artifacts.Store) Option {
	return func(f *Fixture) { f.store = s }
}

// NewFixture validates opts and returns a fixture.
func NewFixture(opts Options, options ...Option) (*Fixture, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	f := &Fixture{opts: opts.withDefaults(), logger: obs.Pkg("session")}
	for _, o := range options {
		o(f)
	}
	return f, nil
}

// Options returns the effective options.
func (f *Fixture) Options() Options { return f.opts }

// Setup opens the scenario's session: browser, context seeded from the
// storage state, one page with the scenario's interceptors, then the first
// navigation. Anything opened before a failure is closed again.
func (f *Fixture) Setup(ctx context.Context, sc scenario.Scenario) (_ *Handle, err error) {
	logger := obs.From(ctx).With("pkg", "session")
	h := newHandle(sc, f.opts, logger)
	h.pacer = f.pacer

	defer func() {
		if err == nil {
			return
		}
		if cerr := h.close(); cerr != nil {
			logger.Warn("cleanup after failed setup", "error", cerr)
		}
		err = errs.Wrap(errs.SessionSetup, fmt.Sprintf("set up session for %q", sc.Label()), err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.opts.StorageStatePath != "" {
		st, err := ReadStorageState(f.opts.StorageStatePath)
		if err != nil {
			return nil, err
		}
		h.storage = st
	}

	browser, err := f.browserFor(h)
	if err != nil {
		return nil, err
	}
	h.Browser = browser

	bctx, err := browser.NewContext(f.opts.contextOptions())
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	h.onClose("context", func() error { return bctx.Close() })
	bctx.SetDefaultTimeout(f.opts.timeoutMS())
	bctx.SetDefaultNavigationTimeout(f.opts.timeoutMS())
	h.Context = bctx

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	h.onClose("page", func() error { return page.Close() })
	h.Page = page

	feed := reaper.NewFeed(0)
	reaper.Watch(bctx, page, feed)
	h.reaper = reaper.New(feed, f.opts.Reaper)

	if f.rules != nil {
		for _, rule := range f.rules(sc) {
			if _, dup := h.interceptors[rule.Name]; dup {
				return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("intercept rule %q declared twice", rule.Name))
			}
			ic, err := intercept.Install(page, rule, logger)
			if err != nil {
				return nil, err
			}
			h.interceptors[rule.Name] = ic
		}
	}

	resp, err := page.Goto(f.opts.BaseURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(f.opts.timeoutMS()),
	})
	if err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", f.opts.BaseURL, err)
	}
	if resp != nil && resp.Status() >= 500 {
		return nil, fmt.Errorf("navigate to %s: status %d", f.opts.BaseURL, resp.Status())
	}

	logger.Info("session up", "browser", f.opts.Browser, "interceptors", len(h.interceptors))
	return h, nil
}

// Teardown closes page, context and, unless the browser is shared, the
// browser and driver. Every step runs even when an earlier one fails.
func (f *Fixture) Teardown(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	f.pacer.Forget(h.Label())
	err := h.close()
	if err != nil {
		obs.From(ctx).Warn("session teardown incomplete", "pkg", "session", "error", err)
	}
	return err
}

// StepFailed stores a full-page screenshot, the page HTML and the error of
// a failed step under <run>/<scenario>/<step>.
func (f *Fixture) StepFailed(ctx context.Context, h *Handle, sc scenario.Scenario, step string, stepErr error) {
	if f.store == nil || h == nil || h.Page == nil {
		return
	}
	logger := obs.From(ctx).With("pkg", "session")
	runID := obs.RunIDFromContext(ctx)
	label := sc.Label()

	put := func(ext, contentType string, content []byte) {
		key := artifacts.Key(runID, label, step, ext)
		if err := f.store.Put(ctx, key, content, contentType); err != nil {
			logger.Warn("store artifact", "key", key, "error", err)
		}
	}

	if png, err := h.Page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)}); err != nil {
		logger.Warn("screenshot failed", "error", err)
	} else {
		put("png", "image/png", png)
	}
	if html, err := h.Page.Content(); err != nil {
		logger.Warn("page content failed", "error", err)
	} else {
		put("html", "text/html; charset=utf-8", []byte(html))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\nstep: %s\nurl: %s\ncode: %s\nerror: %v\n",
		label, step, h.Page.URL(), errs.CodeOf(stepErr), stepErr)
	put("txt", "text/plain; charset=utf-8", []byte(b.String()))
}

// Close stops the shared browser, if any.
func (f *Fixture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.pw != nil {
		if serr := f.pw.Stop(); err == nil {
			err = serr
		}
		f.pw = nil
	}
	return err
}

func (f *Fixture) install() error {
	f.installOnce.Do(func() {
		if f.opts.SkipInstall {
			return
		}
		f.installErr = playwright.Install(&playwright.RunOptions{Browsers: []string{f.opts.Browser}})
	})
	return f.installErr
}

// browserFor returns the browser for h, registering its closers unless the
// browser is shared.
func (f *Fixture) browserFor(h *Handle) (playwright.Browser, error) {
	if err := f.install(); err != nil {
		return nil, fmt.Errorf("install %s: %w", f.opts.Browser, err)
	}
	if f.opts.KeepBrowser {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.browser != nil && f.browser.IsConnected() {
			return f.browser, nil
		}
		pw, browser, err := launch(f.opts)
		if err != nil {
			return nil, err
		}
		f.pw, f.browser = pw, browser
		return browser, nil
	}

	pw, browser, err := launch(f.opts)
	if err != nil {
		return nil, err
	}
	h.onClose("playwright", pw.Stop)
	h.onClose("browser", func() error { return browser.Close() })
	return browser, nil
}

func launch(opts Options) (*playwright.Playwright, playwright.Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start playwright: %w", err)
	}
	var bt playwright.BrowserType
	switch opts.Browser {
	case Firefox:
		bt = pw.Firefox
	case WebKit:
		bt = pw.WebKit
	default:
		bt = pw.Chromium
	}
	browser, err := bt.Launch(opts.launchOptions())
	if err != nil {
		_ = pw.Stop()
		return nil, nil, fmt.Errorf("launch %s: %w", opts.Browser, err)
	}
	return pw, browser, nil
}
