package session

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/reaper"
	"github.com/kuitang/uimatrix/internal/urlutil"
)

const (
	Chromium = "chromium"
	Firefox  = "firefox"
	WebKit   = "webkit"

	DefaultTimeout = 15 * time.Second
)

// Browsers lists the engines a session can launch.
var Browsers = []string{Chromium, Firefox, WebKit}

// Size is a width x height in CSS pixels.
type Size struct {
	Width, Height int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Point is a screen position.
type Point struct {
	X, Y int
}

func (p Point) String() string { return fmt.Sprintf("%d,%d", p.X, p.Y) }

// Options configures how every scenario's session is opened.
type Options struct {
	BaseURL  string
	Browser  string
	Headless bool
	SlowMo   time.Duration

	// WindowPosition and WindowSize place headed windows. They are passed
	// as Chromium switches and ignored by other engines.
	WindowPosition *Point
	WindowSize     *Size
	Viewport       *Size

	// StorageStatePath seeds every context with a saved cookie jar and
	// local storage. The file is only ever read during a run.
	StorageStatePath string

	// Timeout is the default for every action, assertion and navigation.
	Timeout time.Duration

	// KeepBrowser shares one browser process across scenarios; contexts
	// stay per scenario. Close the fixture to release it.
	KeepBrowser bool
	// SkipInstall assumes browsers are already installed.
	SkipInstall bool

	Reaper reaper.Config
}

// Validate reports every problem with o at once.
func (o Options) Validate() error {
	var problems []string
	if err := urlutil.ValidateBase(o.BaseURL); err != nil {
		problems = append(problems, err.Error())
	}
	if o.Browser != "" && !slices.Contains(Browsers, o.Browser) {
		problems = append(problems, fmt.Sprintf("unknown browser %q (want one of %s)", o.Browser, strings.Join(Browsers, ", ")))
	}
	for name, s := range map[string]*Size{"viewport": o.Viewport, "window size": o.WindowSize} {
		if s != nil && (s.Width <= 0 || s.Height <= 0) {
			problems = append(problems, fmt.Sprintf("%s %s must be positive", name, s))
		}
	}
	if o.Timeout < 0 || o.SlowMo < 0 {
		problems = append(problems, "timeout and slow-mo must not be negative")
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return errs.New(errs.InvalidArgument, "session options: "+strings.Join(problems, "; "))
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Browser == "" {
		o.Browser = Chromium
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

func (o Options) timeoutMS() float64 {
	return float64(o.Timeout.Milliseconds())
}

func (o Options) launchArgs() []string {
	if o.Browser != Chromium {
		return nil
	}
	var args []string
	if o.WindowPosition != nil {
		args = append(args, "--window-position="+o.WindowPosition.String())
	}
	if o.WindowSize != nil {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", o.WindowSize.Width, o.WindowSize.Height))
	}
	return args
}

func (o Options) launchOptions() playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(o.Headless),
		Args:     o.launchArgs(),
	}
	if o.SlowMo > 0 {
		opts.SlowMo = playwright.Float(float64(o.SlowMo.Milliseconds()))
	}
	return opts
}

func (o Options) contextOptions() playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		BaseURL: playwright.String(o.BaseURL),
	}
	if o.Viewport != nil {
		opts.Viewport = &playwright.Size{Width: o.Viewport.Width, Height: o.Viewport.Height}
	}
	if o.StorageStatePath != "" {
		opts.StorageStatePath = playwright.String(o.StorageStatePath)
	}
	return opts
}
