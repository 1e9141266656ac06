package intercept

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/logutil"
	"github.com/kuitang/uimatrix/internal/obs"
	"github.com/kuitang/uimatrix/internal/scenario"
)

const logBodyBytes = 512

// Rule says which responses to rewrite and with what.
type Rule struct {
	// Name identifies the rule in logs and in Handle lookups.
	Name string
	// Pattern is a Playwright URL glob, e.g. "**/api/operaciones/permiso*".
	Pattern string
	// Path is the nested object to merge into, e.g. ["data", "permiso"].
	// Empty means the body root.
	Path []string
	// Fields are merged into the object at Path.
	Fields map[string]any
	// MinFields defaults to DefaultMinFields.
	MinFields int
}

// FromScenario builds a rule injecting every field of sc.
func FromScenario(name, pattern string, path []string, sc scenario.Scenario) Rule {
	return Rule{Name: name, Pattern: pattern, Path: path, Fields: sc.Map()}
}

// Validate rejects rules that could never match.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("intercept rule %q has no URL pattern", r.Name))
	}
	return nil
}

// Route is the part of a Playwright route the interceptor drives.
type Route interface {
	Request() playwright.Request
	Fetch(options ...playwright.RouteFetchOptions) (playwright.APIResponse, error)
	Fulfill(options ...playwright.RouteFulfillOptions) error
	Continue(options ...playwright.RouteContinueOptions) error
}

// Stats counts what an interceptor did.
type Stats struct {
	Matched     int64
	Rewritten   int64
	PassThrough int64
	Errors      int64
}

// Interceptor applies one rule to matching requests.
type Interceptor struct {
	rule   Rule
	logger *slog.Logger

	matched     atomic.Int64
	rewritten   atomic.Int64
	passThrough atomic.Int64
	errors      atomic.Int64
}

// New returns an interceptor for rule.
func New(rule Rule, logger *slog.Logger) (*Interceptor, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = obs.Pkg("intercept")
	}
	return &Interceptor{rule: rule, logger: logger.With("rule", rule.Name, "pattern", rule.Pattern)}, nil
}

// Install registers rule on page. It must run before the navigation that
// triggers the matching request, or early requests escape the rewrite.
func Install(page playwright.Page, rule Rule, logger *slog.Logger) (*Interceptor, error) {
	ic, err := New(rule, logger)
	if err != nil {
		return nil, err
	}
	if err := page.Route(rule.Pattern, func(route playwright.Route) {
		ic.Handle(route)
	}); err != nil {
		return nil, fmt.Errorf("install route %q: %w", rule.Pattern, err)
	}
	return ic, nil
}

// Rule returns the rule this interceptor applies.
func (ic *Interceptor) Rule() Rule { return ic.rule }

// Stats returns a snapshot of the counters.
func (ic *Interceptor) Stats() Stats {
	return Stats{
		Matched:     ic.matched.Load(),
		Rewritten:   ic.rewritten.Load(),
		PassThrough: ic.passThrough.Load(),
		Errors:      ic.errors.Load(),
	}
}

// Handle serves one matched request: fetch the real response, rewrite it
// when the shape allows, and always let the request complete.
func (ic *Interceptor) Handle(route Route) {
	ic.matched.Add(1)
	url := ""
	if req := route.Request(); req != nil {
		url = req.URL()
	}
	logger := ic.logger.With("url", url)

	resp, err := route.Fetch()
	if err != nil {
		ic.errors.Add(1)
		logger.Warn("fetch failed, continuing request unmodified", "error", err)
		if cerr := route.Continue(); cerr != nil {
			logger.Error("continue failed", "error", cerr)
		}
		return
	}

	body, err := resp.Body()
	if err != nil {
		ic.passThrough.Add(1)
		logger.Warn("response body unreadable, passing through", "status", resp.Status(), "error", err)
		ic.fulfill(route, logger, playwright.RouteFulfillOptions{Response: resp})
		return
	}

	out, outcome := Rewrite(body, ic.rule.Path, ic.rule.Fields, ic.rule.MinFields)
	if outcome != Rewritten {
		ic.passThrough.Add(1)
		headers := resp.Headers()
		logger.Info("response shape not rewritable, passing through",
			"outcome", outcome,
			"status", resp.Status(),
			"headers", logutil.FormatHeadersForLog(headers),
			"body", logutil.FormatBodyForLog(headers["content-type"], body, logBodyBytes),
		)
		ic.fulfill(route, logger, playwright.RouteFulfillOptions{Response: resp})
		return
	}

	ic.rewritten.Add(1)
	logger.Debug("response rewritten", "status", resp.Status(), "fields", len(ic.rule.Fields))
	ic.fulfill(route, logger, playwright.RouteFulfillOptions{Response: resp, Body: string(out)})
}

func (ic *Interceptor) fulfill(route Route, logger *slog.Logger, opts playwright.RouteFulfillOptions) {
	if err := route.Fulfill(opts); err != nil {
		ic.errors.Add(1)
		logger.Error("fulfill failed", "error", err)
	}
}
