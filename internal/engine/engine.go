// Package engine orchestrates scrape runs: it resolves sources, owns the
// browser pool for the run, fans per-source pipelines out, funnels every
// candidate through the dedup coordinator and reports merged progress.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"harvester/internal/browser"
	"harvester/internal/dedup"
	"harvester/internal/logger"
	"harvester/internal/source"
	"harvester/internal/store"
)

// Engine runs at most one scrape at a time. Construct once, share across
// handlers and the task worker.
type Engine struct {
	log      *logger.Logger
	registry *source.Registry
	store    store.Store
	factory  browser.Factory
	enricher dedup.Enricher
	cfg      Config

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	// gateSlot serializes confirmation gates across concurrent pipelines:
	// with at most one outstanding gate, Confirm is never ambiguous.
	gateSlot chan struct{}
	gateMu   sync.Mutex
	gate     *Gate
}

// New wires the engine. enricher may be nil; phone enrichment is then
// disabled.
func New(cfg Config, registry *source.Registry, st store.Store, factory browser.Factory, enricher dedup.Enricher) *Engine {
	return &Engine{
		log:      logger.New("ScrapeEngine"),
		registry: registry,
		store:    st,
		factory:  factory,
		enricher: enricher,
		cfg:      cfg.withDefaults(),
		gateSlot: make(chan struct{}, 1),
	}
}

// Running reports whether a run is currently in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Stop cancels the active run, resolving any pending confirmation gate
// as "do not proceed". Safe to call when idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.resolvePendingGate()
}

// Run executes one scrape to completion and returns its terminal result.
// A second call while one is in flight fails fast with no side effects.
// Cleanup (browser pool, pending gate, running flag) is guaranteed on
// every exit path.
func (e *Engine) Run(ctx context.Context, opts Options, hooks Hooks) Result {
	if !e.running.CompareAndSwap(false, true) {
		return Result{Success: false, Error: ErrAlreadyRunning.Error()}
	}
	started := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		e.resolvePendingGate()
		cancel()
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		e.running.Store(false)
	}()

	mods, unknown := e.registry.Resolve(opts.Sources)
	for _, name := range unknown {
		e.log.LogWarnf("Unknown source %q, skipping", name)
		hooks.log(fmt.Sprintf("Unknown source %q, skipping", name))
	}
	if len(mods) == 0 {
		return Result{Success: false, Error: "no known sources requested", Duration: time.Since(started)}
	}

	cfg := e.cfg
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.MaxPages > 0 {
		cfg.MaxPages = opts.MaxPages
	}

	pool, err := e.factory(runCtx)
	if err != nil {
		e.log.LogErrorf("Browser pool launch failed: %v", err)
		return Result{Success: false, Error: fmt.Sprintf("launch browser pool: %v", err), Duration: time.Since(started)}
	}
	defer func() {
		if cerr := pool.Close(); cerr != nil {
			e.log.LogWarnf("Browser pool close: %v", cerr)
		}
	}()

	// One coordinator per run: the dedup cache spans every source and
	// facet, seeded by a single bulk read.
	coord, err := dedup.NewCoordinator(runCtx, e.store, e.enricher)
	if err != nil {
		e.log.LogErrorf("Dedup seed failed: %v", err)
		return Result{Success: false, Error: err.Error(), Duration: time.Since(started)}
	}

	e.log.LogInfof("Run started: sources=%v jobTypes=%v workers=%d maxPages=%d skipConfirm=%v",
		sourceNames(mods), opts.JobTypes, cfg.Workers, cfg.MaxPages, opts.SkipConfirm)

	// Multi-valued job types become sequential single-facet sub-runs;
	// boards take one job type per query.
	facets := opts.JobTypes
	if len(facets) == 0 {
		facets = []string{""}
	}

	var res Result
	var firstErr error
	executed, failed := 0, 0

	for _, facet := range facets {
		if runCtx.Err() != nil {
			break
		}
		if facet != "" {
			hooks.log(fmt.Sprintf("Starting job type %q", facet))
		}

		agg := newAggregator(hooks)
		pipes := make([]*pipeline, 0, len(mods))
		for _, mod := range mods {
			pipes = append(pipes, &pipeline{
				eng:   e,
				mod:   mod,
				pool:  pool,
				coord: coord,
				cfg:   cfg,
				opts:  opts,
				hooks: hooks,
				track: agg.track(mod.Source(), cfg.Workers),
				params: source.Params{
					Keywords:      opts.Keywords,
					Location:      opts.Location,
					Region:        opts.Region,
					JobType:       facet,
					MinSalary:     opts.MinSalary,
					EmployeeRange: opts.EmployeeRange,
					MaxPages:      cfg.MaxPages,
				},
			})
		}

		var (
			wg    sync.WaitGroup
			errMu sync.Mutex
		)
		for _, p := range pipes {
			wg.Add(1)
			executed++
			go func(p *pipeline) {
				defer wg.Done()
				if err := p.run(runCtx); err != nil && !errors.Is(err, errDeclined) && runCtx.Err() == nil {
					errMu.Lock()
					failed++
					if firstErr == nil {
						firstErr = fmt.Errorf("%s: %w", p.mod.Source(), err)
					}
					errMu.Unlock()
				}
			}(p)
		}
		wg.Wait()

		for _, p := range pipes {
			found, newCount, dup, skipped, errs, _, jobsUpd := p.track.counts()
			res.Found += found
			res.New += newCount
			res.Duplicate += dup
			res.Skipped += skipped
			res.Errors += errs
			res.Updated += jobsUpd
		}
	}

	res.Duration = time.Since(started)
	switch {
	case runCtx.Err() != nil:
		res.Success = false
		res.Error = ErrStopped.Error()
	case executed > 0 && failed == executed:
		res.Success = false
		res.Error = firstErr.Error()
	default:
		res.Success = true
	}

	if res.Success {
		e.log.LogSuccessf("Run finished in %s: found=%d new=%d updated=%d duplicate=%d skipped=%d errors=%d",
			res.Duration.Round(time.Millisecond), res.Found, res.New, res.Updated, res.Duplicate, res.Skipped, res.Errors)
	} else {
		e.log.LogWarnf("Run ended without success after %s: %s", res.Duration.Round(time.Millisecond), res.Error)
	}
	hooks.log(fmt.Sprintf("Run finished: found=%d new=%d duplicate=%d skipped=%d errors=%d",
		res.Found, res.New, res.Duplicate, res.Skipped, res.Errors))
	return res
}

func sourceNames(mods []source.Module) []string {
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Source()
	}
	return names
}
