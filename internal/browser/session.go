package browser

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// pageSession wraps one isolated browser context and its page.
type pageSession struct {
	bctx playwright.BrowserContext
	page playwright.Page
}

func (s *pageSession) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := float64(opts.TimeoutMs)
	if timeout <= 0 {
		timeout = 10000
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeout),
	})
	if err != nil {
		// Slow sites sometimes never fire DOMContentLoaded in time but
		// do finish a full load; give them one longer chance.
		_, err = s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
			Timeout:   playwright.Float(timeout * 2),
		})
		if err != nil {
			return fmt.Errorf("goto %s: %w", url, err)
		}
	}

	if opts.WaitSelector != "" {
		return s.WaitVisible(ctx, opts.WaitSelector, int(timeout))
	}
	return nil
}

func (s *pageSession) WaitVisible(ctx context.Context, selector string, timeoutMs int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeoutMs)),
	})
	if err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (s *pageSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.Content()
}

func (s *pageSession) Evaluate(ctx context.Context, js string) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.page.Evaluate(js)
}

func (s *pageSession) URL() string { return s.page.URL() }

func (s *pageSession) Close() error {
	if err := s.page.Close(); err != nil {
		_ = s.bctx.Close()
		return err
	}
	return s.bctx.Close()
}
