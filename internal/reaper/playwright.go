package reaper

import "github.com/playwright-community/playwright-go"

// Watch pushes every page bctx opens, other than main, onto feed.
func Watch(bctx playwright.BrowserContext, main playwright.Page, feed *Feed) {
	bctx.OnPage(func(p playwright.Page) {
		if p == main {
			return
		}
		feed.Push(pageWindow{page: p})
	})
}

type pageWindow struct {
	page playwright.Page
}

func (w pageWindow) URL() string { return w.page.URL() }

func (w pageWindow) Close() error {
	if w.page.IsClosed() {
		return nil
	}
	return w.page.Close()
}
