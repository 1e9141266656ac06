// Package ui provides the reusable steps flows are written in. Each step
// waits on the session's pacer before touching the page, and reports an
// expectation that never became true as an assertion failure naming the
// selector.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/flow"
	"github.com/kuitang/uimatrix/internal/session"
)

// Step is a flow step over a browser session.
type Step = flow.Step[*session.Handle]

func step(name string, do func(ctx context.Context, h *session.Handle) error) Step {
	return flow.New(name, func(ctx context.Context, h *session.Handle) error {
		if err := h.Pace(ctx); err != nil {
			return err
		}
		return do(ctx, h)
	})
}

// timeoutMS is the session timeout, shortened to the step deadline.
func timeoutMS(ctx context.Context, h *session.Handle) float64 {
	d := h.Timeout()
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < d {
			d = max(left, time.Millisecond)
		}
	}
	return float64(d.Milliseconds())
}

func expect(ctx context.Context, h *session.Handle) playwright.PlaywrightAssertions {
	return playwright.NewPlaywrightAssertions(timeoutMS(ctx, h))
}

func failed(format string, args ...any) func(error) error {
	msg := fmt.Sprintf(format, args...)
	return func(err error) error {
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		var coded *errs.Error
		if errors.As(err, &coded) {
			return err
		}
		return errs.Wrap(errs.AssertionFailure, msg, err)
	}
}

// Goto navigates to path relative to the base URL.
func Goto(path string) Step {
	return step("goto "+path, func(ctx context.Context, h *session.Handle) error {
		_, err := h.Page.Goto(h.URL(path), playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(timeoutMS(ctx, h)),
		})
		return failed("navigate to %s", path)(err)
	})
}

// Click clicks the first element matching selector.
func Click(selector string) Step {
	return step("click "+selector, func(ctx context.Context, h *session.Handle) error {
		return failed("click %s", selector)(click(ctx, h, selector))
	})
}

func click(ctx context.Context, h *session.Handle, selector string) error {
	return h.Page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(timeoutMS(ctx, h)),
	})
}

// Fill types value into the input matching selector.
func Fill(selector, value string) Step {
	return step("fill "+selector, func(ctx context.Context, h *session.Handle) error {
		err := h.Page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
			Timeout: playwright.Float(timeoutMS(ctx, h)),
		})
		return failed("fill %s", selector)(err)
	})
}

// Select chooses options by value in the select matching selector.
func Select(selector string, values ...string) Step {
	return step(fmt.Sprintf("select %s = %s", selector, strings.Join(values, ",")), func(ctx context.Context, h *session.Handle) error {
		_, err := h.Page.Locator(selector).First().SelectOption(
			playwright.SelectOptionValues{Values: &values},
			playwright.LocatorSelectOptionOptions{Timeout: playwright.Float(timeoutMS(ctx, h))},
		)
		return failed("select %v in %s", values, selector)(err)
	})
}

// ExpectVisible asserts selector becomes visible.
func ExpectVisible(selector string) Step {
	return step("expect visible "+selector, func(ctx context.Context, h *session.Handle) error {
		err := expect(ctx, h).Locator(h.Page.Locator(selector).First()).ToBeVisible()
		return failed("%s is not visible", selector)(err)
	})
}

// ExpectHidden asserts selector is absent or hidden.
func ExpectHidden(selector string) Step {
	return step("expect hidden "+selector, func(ctx context.Context, h *session.Handle) error {
		err := expect(ctx, h).Locator(h.Page.Locator(selector)).ToBeHidden()
		return failed("%s is still visible", selector)(err)
	})
}

// ExpectURL asserts the page URL matches pattern, a glob like "**/caja/*".
func ExpectURL(pattern string) Step {
	return step("expect url "+pattern, func(ctx context.Context, h *session.Handle) error {
		err := h.Page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
			Timeout: playwright.Float(timeoutMS(ctx, h)),
		})
		return failed("url never matched %s (at %s)", pattern, h.Page.URL())(err)
	})
}

// ExpectValue asserts the input matching selector holds want.
func ExpectValue(selector, want string) Step {
	return step("expect value "+selector, func(ctx context.Context, h *session.Handle) error {
		err := expect(ctx, h).Locator(h.Page.Locator(selector).First()).ToHaveValue(want)
		return failed("%s value is not %q", selector, want)(err)
	})
}

// ExpectText asserts the element matching selector contains want.
func ExpectText(selector, want string) Step {
	return step("expect text "+selector, func(ctx context.Context, h *session.Handle) error {
		err := expect(ctx, h).Locator(h.Page.Locator(selector).First()).ToContainText(want)
		return failed("%s does not contain %q", selector, want)(err)
	})
}

// ExpectLocalStorageText asserts the element matching selector shows the
// value seeded under key in the session's storage state.
func ExpectLocalStorageText(selector, key string) Step {
	return step(fmt.Sprintf("expect %s shows %s", selector, key), func(ctx context.Context, h *session.Handle) error {
		want, ok := h.LocalStorage(key)
		if !ok {
			return errs.New(errs.AssertionFailure, fmt.Sprintf("no seeded local storage value %q", key))
		}
		err := expect(ctx, h).Locator(h.Page.Locator(selector).First()).ToContainText(want)
		return failed("%s does not show %s=%q", selector, key, want)(err)
	})
}

// ExpectDialog clicks trigger, asserts the dialog it raises contains
// message, and accepts it.
func ExpectDialog(trigger, message string) Step {
	return step("dialog "+trigger, func(ctx context.Context, h *session.Handle) error {
		ev, err := h.Page.ExpectEvent("dialog", func() error {
			return click(ctx, h, trigger)
		}, playwright.PageExpectEventOptions{Timeout: playwright.Float(timeoutMS(ctx, h))})
		if err != nil {
			return failed("no dialog after clicking %s", trigger)(err)
		}
		dialog, ok := ev.(playwright.Dialog)
		if !ok {
			return errs.New(errs.Internal, fmt.Sprintf("dialog event carried %T", ev))
		}
		got := dialog.Message()
		if err := dialog.Accept(); err != nil {
			return errs.Wrap(errs.Internal, "accept dialog", err)
		}
		if !strings.Contains(got, message) {
			return errs.New(errs.AssertionFailure, fmt.Sprintf("dialog says %q, want %q", got, message))
		}
		return nil
	})
}

// Upload clicks trigger and sets files on the chooser it opens. The chooser
// wait is registered before the click.
func Upload(trigger string, files ...string) Step {
	return step("upload via "+trigger, func(ctx context.Context, h *session.Handle) error {
		if len(files) == 0 {
			return errs.New(errs.InvalidArgument, "upload needs at least one file")
		}
		chooser, err := h.Page.ExpectFileChooser(func() error {
			return click(ctx, h, trigger)
		}, playwright.PageExpectFileChooserOptions{Timeout: playwright.Float(timeoutMS(ctx, h))})
		if err != nil {
			return failed("no file chooser after clicking %s", trigger)(err)
		}
		return failed("set files %v", files)(chooser.SetFiles(files))
	})
}

// ClickAndReap clicks selector and closes the n windows it opens.
func ClickAndReap(selector string, n int) Step {
	return step(fmt.Sprintf("click %s and close %d windows", selector, n), func(ctx context.Context, h *session.Handle) error {
		_, err := h.Reap(ctx, n, func(ctx context.Context) error {
			return failed("click %s", selector)(click(ctx, h, selector))
		})
		return err
	})
}

// Wait pauses the flow; some screens animate in after their data loads.
func Wait(d time.Duration) Step {
	return flow.New("wait "+d.String(), func(ctx context.Context, _ *session.Handle) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
