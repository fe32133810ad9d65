package engine

import (
	"context"
	"sync"
)

// Gate is the one-shot go/no-go handshake between the enumerate and
// fetch-detail phases. The pipeline blocks on Wait; an external caller
// resolves it exactly once through Resolve. First resolution wins, so a
// Stop racing a legitimate Confirm cannot deadlock or double-fire.
type Gate struct {
	once sync.Once
	ch   chan bool
}

func newGate() *Gate {
	return &Gate{ch: make(chan bool, 1)}
}

// Resolve delivers the decision. Only the first call has any effect;
// it reports whether this call was the one that decided the gate.
func (g *Gate) Resolve(proceed bool) bool {
	decided := false
	g.once.Do(func() {
		g.ch <- proceed
		decided = true
	})
	return decided
}

// Wait blocks until the gate resolves or ctx is cancelled. Cancellation
// force-resolves the gate as "do not proceed" so no later Resolve can
// fire into a pipeline that already gave up waiting.
func (g *Gate) Wait(ctx context.Context) bool {
	select {
	case proceed := <-g.ch:
		return proceed
	case <-ctx.Done():
		g.Resolve(false)
		return false
	}
}

// openGate claims the engine's single gate slot, blocking while another
// pipeline's gate is outstanding. At most one gate exists at a time, so
// Confirm is never ambiguous about which pipeline it releases.
func (e *Engine) openGate(ctx context.Context) (*Gate, error) {
	select {
	case e.gateSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g := newGate()
	e.gateMu.Lock()
	e.gate = g
	e.gateMu.Unlock()
	return g, nil
}

// closeGate releases the slot after the gate resolved.
func (e *Engine) closeGate() {
	e.gateMu.Lock()
	e.gate = nil
	e.gateMu.Unlock()
	<-e.gateSlot
}

// Confirm resolves the pending confirmation gate. It returns
// ErrNotWaiting when no pipeline is blocked on one.
func (e *Engine) Confirm(proceed bool) error {
	e.gateMu.Lock()
	g := e.gate
	e.gateMu.Unlock()
	if g == nil {
		return ErrNotWaiting
	}
	g.Resolve(proceed)
	return nil
}

// resolvePendingGate force-resolves the current gate, if any, as "do
// not proceed". Stop and the run's cleanup path both use it so nothing
// blocks forever on a gate nobody will answer.
func (e *Engine) resolvePendingGate() {
	e.gateMu.Lock()
	g := e.gate
	e.gateMu.Unlock()
	if g != nil {
		g.Resolve(false)
	}
}
