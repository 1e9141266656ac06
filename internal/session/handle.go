package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uimatrix/internal/intercept"
	"github.com/kuitang/uimatrix/internal/ratelimit"
	"github.com/kuitang/uimatrix/internal/reaper"
	"github.com/kuitang/uimatrix/internal/scenario"
	"github.com/kuitang/uimatrix/internal/urlutil"
)

// Handle is the live session of one scenario. It is created by
// Fixture.Setup and released by Fixture.Teardown; nothing in it outlives
// the scenario.
type Handle struct {
	Page     playwright.Page
	Context  playwright.BrowserContext
	Browser  playwright.Browser
	Scenario scenario.Scenario

	opts         Options
	storage      *StorageState
	reaper       *reaper.Reaper
	pacer        *ratelimit.RateLimiter
	interceptors map[string]*intercept.Interceptor
	logger       *slog.Logger

	closers   []namedCloser
	closeOnce sync.Once
	closeErr  error
}

type namedCloser struct {
	name string
	fn   func() error
}

func newHandle(sc scenario.Scenario, opts Options, logger *slog.Logger) *Handle {
	return &Handle{
		Scenario:     sc,
		opts:         opts,
		interceptors: make(map[string]*intercept.Interceptor),
		logger:       logger,
	}
}

// onClose registers a resource; resources close in reverse registration order.
func (h *Handle) onClose(name string, fn func() error) {
	h.closers = append(h.closers, namedCloser{name: name, fn: fn})
}

// close releases every registered resource, newest first. A failing closer
// does not stop the ones after it. Later calls return the first result.
func (h *Handle) close() error {
	h.closeOnce.Do(func() {
		var joined error
		for i := len(h.closers) - 1; i >= 0; i-- {
			c := h.closers[i]
			if err := c.fn(); err != nil {
				joined = errors.Join(joined, fmt.Errorf("close %s: %w", c.name, err))
				if h.logger != nil {
					h.logger.Warn("close failed", "resource", c.name, "error", err)
				}
			}
		}
		h.closeErr = joined
	})
	return h.closeErr
}

// Label is the scenario label; it also keys the action pacer.
func (h *Handle) Label() string { return h.Scenario.Label() }

// Origin is the scheme and host of the application under test.
func (h *Handle) Origin() string { return urlutil.Origin(h.opts.BaseURL) }

// URL resolves path against the base URL.
func (h *Handle) URL(path string) string { return urlutil.BuildAbsolute(h.opts.BaseURL, path) }

// Timeout is the default wait for actions and assertions.
func (h *Handle) Timeout() time.Duration { return h.opts.Timeout }

// Storage is the state snapshot read at setup, or nil without a state file.
func (h *Handle) Storage() *StorageState { return h.storage }

// LocalStorage reads a pre-seeded value for the application's origin,
// falling back to any origin in the snapshot.
func (h *Handle) LocalStorage(key string) (string, bool) {
	if v, ok := h.storage.LocalStorage(h.Origin(), key); ok {
		return v, true
	}
	return h.storage.Lookup(key)
}

// Pace blocks until the next UI action of this session may run.
func (h *Handle) Pace(ctx context.Context) error {
	return h.pacer.Wait(ctx, h.Label())
}

// Reap runs action and closes the n windows it opens.
func (h *Handle) Reap(ctx context.Context, n int, action func(ctx context.Context) error) ([]string, error) {
	return h.reaper.Reap(ctx, n, action)
}

// Interceptor returns the installed interceptor for a rule name.
func (h *Handle) Interceptor(name string) (*intercept.Interceptor, bool) {
	ic, ok := h.interceptors[name]
	return ic, ok
}

// Attach wraps a page the caller already owns. Teardown of the returned
// handle closes nothing; windows are reaped only when bctx is given.
func Attach(bctx playwright.BrowserContext, page playwright.Page, sc scenario.Scenario, opts Options) *Handle {
	opts = opts.withDefaults()
	h := newHandle(sc, opts, nil)
	h.Context = bctx
	h.Page = page
	feed := reaper.NewFeed(0)
	if bctx != nil {
		reaper.Watch(bctx, page, feed)
	}
	h.reaper = reaper.New(feed, opts.Reaper)
	return h
}

// WithStorage sets the storage snapshot LocalStorage reads from.
func (h *Handle) WithStorage(st *StorageState) *Handle {
	h.storage = st
	return h
}

// WithPacer paces this handle's actions.
func (h *Handle) WithPacer(p *ratelimit.RateLimiter) *Handle {
	h.pacer = p
	return h
}
