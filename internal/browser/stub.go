package browser

import (
	"context"
	"fmt"
	"sync"
)

// StubPool is an offline Pool: its sessions serve canned page content by
// URL and never touch a real browser. It backs tests and the mock source.
type StubPool struct {
	mu       sync.Mutex
	pages    map[string]string
	failURLs map[string]error
	opened   int
	closed   bool
}

func NewStubPool() *StubPool {
	return &StubPool{
		pages:    make(map[string]string),
		failURLs: make(map[string]error),
	}
}

// StubFactory wraps an existing StubPool as a Factory.
func StubFactory(p *StubPool) Factory {
	return func(ctx context.Context) (Pool, error) { return p, nil }
}

// FailingFactory returns a Factory whose pool construction always fails,
// for exercising the fatal-error path.
func FailingFactory(err error) Factory {
	return func(ctx context.Context) (Pool, error) { return nil, err }
}

// SetPage registers canned HTML for a URL.
func (p *StubPool) SetPage(url, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[url] = html
}

// FailNavigate makes every navigation to url return err.
func (p *StubPool) FailNavigate(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failURLs[url] = err
}

func (p *StubPool) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("stub pool closed")
	}
	p.opened++
	return &stubSession{pool: p}, nil
}

func (p *StubPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called; tests assert cleanup with it.
func (p *StubPool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SessionsOpened reports how many sessions were handed out.
func (p *StubPool) SessionsOpened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

type stubSession struct {
	pool    *StubPool
	current string
}

func (s *stubSession) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.pool.mu.Lock()
	failErr, failing := s.pool.failURLs[url]
	_, known := s.pool.pages[url]
	s.pool.mu.Unlock()
	if failing {
		return failErr
	}
	if !known {
		return fmt.Errorf("no page registered for %s", url)
	}
	s.current = url
	return nil
}

func (s *stubSession) WaitVisible(ctx context.Context, selector string, timeoutMs int) error {
	return ctx.Err()
}

func (s *stubSession) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()
	html, ok := s.pool.pages[s.current]
	if !ok {
		return "", fmt.Errorf("no page registered for %s", s.current)
	}
	return html, nil
}

func (s *stubSession) Evaluate(ctx context.Context, js string) (interface{}, error) {
	return nil, ctx.Err()
}

func (s *stubSession) URL() string { return s.current }

func (s *stubSession) Close() error { return nil }
