// Package reaper waits for the auxiliary windows an action spawns (print
// previews, reports, reprints) and closes them so the main page keeps focus.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/obs"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultGrace      = 250 * time.Millisecond
	DefaultFeedBuffer = 16
)

// Window is an auxiliary browser window.
type Window interface {
	URL() string
	Close() error
}

// Feed buffers windows as the browser reports them. Push never blocks the
// event goroutine; a window that does not fit is closed immediately.
type Feed struct {
	ch      chan Window
	seen    atomic.Int64
	dropped atomic.Int64
}

// NewFeed returns a feed holding up to buffer unreaped windows.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Feed{ch: make(chan Window, buffer)}
}

// Push records a newly opened window.
func (f *Feed) Push(w Window) {
	f.seen.Add(1)
	select {
	case f.ch <- w:
	default:
		f.dropped.Add(1)
		_ = w.Close()
	}
}

// Seen is the number of windows ever pushed.
func (f *Feed) Seen() int64 { return f.seen.Load() }

// Dropped is the number of windows closed because the buffer was full.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

// Config tunes a Reaper.
type Config struct {
	// Timeout bounds the wait for each expected window.
	Timeout time.Duration
	// Grace is how long to keep watching for unexpected extra windows after
	// the expected ones closed. Zero means DefaultGrace; a negative value only
	// counts extras that are already queued.
	Grace time.Duration
}

// Reaper consumes windows from a feed.
type Reaper struct {
	feed   *Feed
	cfg    Config
	logger *slog.Logger
}

// New returns a reaper over feed.
func New(feed *Feed, cfg Config) *Reaper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}
	return &Reaper{feed: feed, cfg: cfg, logger: obs.Pkg("reaper")}
}

// Reap runs action and then waits for exactly n new windows, closing each in
// the order it appeared. It returns the URLs of the reaped windows.
//
// More windows than n fail with errs.WindowCountMismatch when they arrive
// within the grace period. Windows that show up later, or that opened without
// a reap, are closed at the start of the next Reap, which then fails without
// running its action so they are never counted against it.
func (r *Reaper) Reap(ctx context.Context, n int, action func(ctx context.Context) error) ([]string, error) {
	if n < 0 {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("expected window count must be >= 0, got %d", n))
	}
	logger := obs.From(ctx).With("pkg", "reaper", "expected", n)

	if stale := r.drain(); stale > 0 {
		logger.Error("windows opened after the previous reap", "count", stale)
		return nil, errs.New(errs.WindowCountMismatch,
			fmt.Sprintf("%d unexpected windows opened after the previous action", stale))
	}

	if err := action(ctx); err != nil {
		return nil, err
	}

	got := make([]Window, 0, n)
	for len(got) < n {
		w, err := r.next(ctx, r.cfg.Timeout)
		if err != nil {
			closeErr := closeAll(got)
			logger.Error("window wait failed", "received", len(got), "error", err)
			return urls(got), errors.Join(errs.Wrap(errs.WindowCountMismatch,
				fmt.Sprintf("expected %d new windows, got %d", n, len(got)), err), closeErr)
		}
		got = append(got, w)
	}

	reaped := urls(got)
	if err := closeAll(got); err != nil {
		return reaped, errs.Wrap(errs.Internal, "close reaped windows", err)
	}

	if extra := r.collectExtra(ctx); extra > 0 {
		logger.Error("unexpected extra windows", "extra", extra)
		return reaped, errs.New(errs.WindowCountMismatch,
			fmt.Sprintf("expected %d new windows, got %d", n, n+extra))
	}
	logger.Debug("windows reaped", "urls", reaped)
	return reaped, nil
}

var errWindowTimeout = errors.New("timed out waiting for window")

func (r *Reaper) next(ctx context.Context, timeout time.Duration) (Window, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case w := <-r.feed.ch:
		return w, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", errWindowTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// collectExtra closes every window already queued or arriving within the
// grace period.
func (r *Reaper) collectExtra(ctx context.Context) int {
	extra := r.drain()
	if r.cfg.Grace < 0 {
		return extra
	}
	deadline := time.NewTimer(r.cfg.Grace)
	defer deadline.Stop()
	for {
		select {
		case w := <-r.feed.ch:
			extra++
			_ = w.Close()
		case <-deadline.C:
			return extra
		case <-ctx.Done():
			return extra
		}
	}
}

func (r *Reaper) drain() int {
	n := 0
	for {
		select {
		case w := <-r.feed.ch:
			n++
			_ = w.Close()
		default:
			return n
		}
	}
}

func closeAll(ws []Window) error {
	var joined error
	for _, w := range ws {
		if err := w.Close(); err != nil {
			joined = errors.Join(joined, fmt.Errorf("close %s: %w", w.URL(), err))
		}
	}
	return joined
}

func urls(ws []Window) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.URL()
	}
	return out
}
