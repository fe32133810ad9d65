package engine

import (
	"sync"
	"time"
)

// aggregator merges the per-source trackers of one sub-run into combined
// snapshots and pushes one to the progress hook on every update from any
// source.
type aggregator struct {
	hooks Hooks

	mu       sync.Mutex
	order    []string
	trackers map[string]*tracker
}

func newAggregator(hooks Hooks) *aggregator {
	return &aggregator{
		hooks:    hooks,
		trackers: make(map[string]*tracker),
	}
}

// track registers a fresh tracker for one source pipeline execution.
func (a *aggregator) track(sourceName string, workers int) *tracker {
	t := &tracker{
		agg:     a,
		source:  sourceName,
		workers: workers,
		status:  sourceStatusCollecting,
	}
	a.mu.Lock()
	if _, exists := a.trackers[sourceName]; !exists {
		a.order = append(a.order, sourceName)
	}
	a.trackers[sourceName] = t
	a.mu.Unlock()
	return t
}

// emit builds the combined snapshot and invokes the hook. Holding the
// lock through the callback keeps snapshots ordered; hooks are expected
// to be quick.
func (a *aggregator) emit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hooks.OnProgress == nil {
		return
	}

	combined := Progress{PerSource: make(map[string]SourceProgress, len(a.order))}
	for _, name := range a.order {
		s := a.trackers[name].snapshot()
		combined.PerSource[name] = s

		combined.Current += s.Current
		combined.Total += s.Total
		combined.New += s.New
		combined.Duplicate += s.Duplicate
		combined.Skipped += s.Skipped
		combined.Errors += s.Errors
		combined.TotalJobs += s.TotalJobs
		if s.WaitingConfirmation {
			combined.WaitingConfirmation = true
		}
		// Sources run concurrently, so the slowest one bounds the run.
		if s.EstimatedMinutes > combined.EstimatedMinutes {
			combined.EstimatedMinutes = s.EstimatedMinutes
		}
	}
	a.hooks.OnProgress(combined)
}

// tracker accumulates one pipeline execution's counters. Every mutation
// re-emits the combined snapshot. Methods release the tracker lock
// before calling emit, which locks the aggregator.
type tracker struct {
	agg     *aggregator
	source  string
	workers int

	mu         sync.Mutex
	status     string
	current    int
	total      int
	found      int
	newCount   int
	dupCount   int
	skipCount  int
	errCount   int
	jobsNew    int
	jobsUpd    int
	totalJobs  int
	waiting    bool
	phaseStart time.Time
}

func (t *tracker) snapshot() SourceProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return SourceProgress{
		Status:              t.status,
		Current:             t.current,
		Total:               t.total,
		New:                 t.newCount,
		Duplicate:           t.dupCount,
		Skipped:             t.skipCount,
		Errors:              t.errCount,
		TotalJobs:           t.totalJobs,
		EstimatedMinutes:    t.etaLocked(),
		WaitingConfirmation: t.waiting,
	}
}

// etaLocked extrapolates the running average time per processed item
// over the remaining queue, spread across the workers. Zero until the
// fetch phase produced at least one result.
func (t *tracker) etaLocked() float64 {
	if t.phaseStart.IsZero() || t.current == 0 || t.total <= t.current {
		return 0
	}
	perItem := time.Since(t.phaseStart).Seconds() / float64(t.current)
	remaining := float64(t.total - t.current)
	workers := float64(t.workers)
	if workers < 1 {
		workers = 1
	}
	return perItem * remaining / workers / 60
}

func (t *tracker) setStatus(status string) {
	t.mu.Lock()
	t.status = status
	t.mu.Unlock()
	t.agg.emit()
}

// markFetching starts the ETA clock for the detail phase.
func (t *tracker) markFetching(total int) {
	t.mu.Lock()
	t.status = sourceStatusFetching
	t.total = total
	t.phaseStart = time.Now()
	t.mu.Unlock()
	t.agg.emit()
}

// markStream starts (or resumes) the ETA clock for a streaming phase
// whose total is discovered as candidates arrive.
func (t *tracker) markStream(status string) {
	t.mu.Lock()
	t.status = status
	if t.phaseStart.IsZero() {
		t.phaseStart = time.Now()
	}
	t.mu.Unlock()
	t.agg.emit()
}

// resetStream re-baselines the progress counters for a fallback pass that
// restarts enumeration from scratch. Outcome counters stay: the writes
// they counted happened.
func (t *tracker) resetStream(status string) {
	t.mu.Lock()
	t.status = status
	t.current = 0
	t.total = 0
	t.found = 0
	t.phaseStart = time.Now()
	t.mu.Unlock()
	t.agg.emit()
}

func (t *tracker) setWaiting(waiting bool, filtered int) {
	t.mu.Lock()
	t.waiting = waiting
	if waiting {
		t.status = sourceStatusWaiting
		t.total = filtered
	}
	t.mu.Unlock()
	t.agg.emit()
}

func (t *tracker) setFound(n int) {
	t.mu.Lock()
	t.found = n
	t.mu.Unlock()
}

// incFound counts one streamed candidate on the sequential path, where
// the total is only known when the producer finishes.
func (t *tracker) incFound() {
	t.mu.Lock()
	t.found++
	t.total++
	t.mu.Unlock()
	t.agg.emit()
}

func (t *tracker) reportTotalJobs(n int) {
	t.mu.Lock()
	t.totalJobs = n
	t.mu.Unlock()
	t.agg.emit()
}

func (t *tracker) stepNew() {
	t.mu.Lock()
	t.current++
	t.newCount++
	t.mu.Unlock()
	t.agg.emit()
}

func (t *tracker) stepDuplicate() {
	t.mu.Lock()
	t.current++
	t.dupCount++
	t.mu.Unlock()
	t.agg.emit()
}

func (t *tracker) stepSkipped() {
	t.mu.Lock()
	t.current++
	t.skipCount++
	t.mu.Unlock()
	t.agg.emit()
}

func (t *tracker) stepError() {
	t.mu.Lock()
	t.current++
	t.errCount++
	t.mu.Unlock()
	t.agg.emit()
}

func (t *tracker) recordJob(inserted, updated bool) {
	t.mu.Lock()
	if inserted {
		t.jobsNew++
	}
	if updated {
		t.jobsUpd++
	}
	t.mu.Unlock()
}

// counts returns the totals a finished pipeline writes to its run log.
func (t *tracker) counts() (found, newCount, dup, skipped, errs, jobsNew, jobsUpd int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.found, t.newCount, t.dupCount, t.skipCount, t.errCount, t.jobsNew, t.jobsUpd
}
