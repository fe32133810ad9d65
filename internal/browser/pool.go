// Package browser owns the automation sessions the extraction modules
// navigate with. A Pool hands out isolated browsing contexts; every scrape
// worker gets its own session for its whole lifetime, because shared
// contexts get rate-limited together by the target sites.
package browser

import (
	"context"
	"fmt"

	"harvester/internal/logger"

	"github.com/playwright-community/playwright-go"
)

// Session is one exclusive automation session. All methods take a context
// so callers can observe cancellation before starting a new navigation.
type Session interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	WaitVisible(ctx context.Context, selector string, timeoutMs int) error
	Content(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, js string) (interface{}, error)
	URL() string
	Close() error
}

// NavigateOptions tune a single navigation.
type NavigateOptions struct {
	// WaitSelector, when set, must become visible before Navigate returns:
	// the "load then wait for expected content" pattern.
	WaitSelector string
	TimeoutMs    int
}

// Pool creates sessions and owns the underlying browser process. The
// orchestrator creates one pool per run and is solely responsible for
// closing it, on every exit path.
type Pool interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Factory builds a Pool at run start. Keeping pool construction behind a
// factory lets a run fail fast when the browser cannot launch, and lets
// tests substitute a stub.
type Factory func(ctx context.Context) (Pool, error)

// Options configure the playwright-backed pool. UserAgent pins every
// session to one agent; empty means rotate through the built-in profiles.
type Options struct {
	Headless  bool
	UserAgent string
}

// PlaywrightFactory returns a Factory that launches one Chromium process
// per run and serves isolated browser contexts as sessions.
func PlaywrightFactory(opts Options) Factory {
	return func(ctx context.Context) (Pool, error) {
		return newPlaywrightPool(opts)
	}
}

type playwrightPool struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    Options
	log     *logger.Logger
}

func newPlaywrightPool(opts Options) (*playwrightPool, error) {
	log := logger.New("BrowserPool")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("playwright run: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
			"--no-first-run",
			"--disable-default-apps",
			"--disable-extensions",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch: %w", err)
	}

	log.LogDebugf("Chromium launched (headless=%v)", opts.Headless)
	return &playwrightPool{pw: pw, browser: browser, opts: opts, log: log}, nil
}

func (p *playwrightPool) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile := profileFor(p.opts.UserAgent)
	bctx, err := p.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(profile.userAgent),
		ExtraHttpHeaders: profile.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &pageSession{bctx: bctx, page: page}, nil
}

func (p *playwrightPool) Close() error {
	if err := p.browser.Close(); err != nil {
		p.log.LogWarnf("browser close: %v", err)
	}
	return p.pw.Stop()
}
