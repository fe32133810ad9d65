package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// progressSink captures combined snapshots in emission order.
type progressSink struct {
	mu    sync.Mutex
	snaps []Progress
}

func (s *progressSink) hook(p Progress) {
	s.mu.Lock()
	s.snaps = append(s.snaps, p)
	s.mu.Unlock()
}

func (s *progressSink) last() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return Progress{}
	}
	return s.snaps[len(s.snaps)-1]
}

func TestTrackerCountsOutcomes(t *testing.T) {
	t.Parallel()

	sink := &progressSink{}
	agg := newAggregator(Hooks{OnProgress: sink.hook})
	tr := agg.track("board", 2)

	tr.setFound(4)
	tr.markFetching(4)
	tr.stepNew()
	tr.stepDuplicate()
	tr.stepSkipped()
	tr.stepError()
	tr.recordJob(true, false)

	snap := tr.snapshot()
	assert.Equal(t, 4, snap.Current)
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 1, snap.New)
	assert.Equal(t, 1, snap.Duplicate)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 1, snap.Errors)
	assert.Equal(t, sourceStatusFetching, snap.Status)

	found, newCount, dup, skipped, errs, jobsNew, jobsUpd := tr.counts()
	assert.Equal(t, 4, found)
	assert.Equal(t, 1, newCount)
	assert.Equal(t, 1, dup)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, jobsNew)
	assert.Equal(t, 0, jobsUpd)

	last := sink.last()
	assert.Equal(t, 4, last.Current)
	assert.Equal(t, snap, last.PerSource["board"])
}

func TestTrackerEstimateSpreadsRemainderAcrossWorkers(t *testing.T) {
	t.Parallel()

	agg := newAggregator(Hooks{})
	tr := agg.track("board", 2)
	tr.markFetching(10)

	// 5 of 10 done in 60s with 2 workers: 12s per item, 5 items left,
	// two at a time, so 30s = 0.5 minutes remain.
	tr.mu.Lock()
	tr.phaseStart = time.Now().Add(-60 * time.Second)
	tr.mu.Unlock()
	for i := 0; i < 5; i++ {
		tr.stepNew()
	}

	assert.InDelta(t, 0.5, tr.snapshot().EstimatedMinutes, 0.02)
}

func TestTrackerEstimateZeroBeforeProgress(t *testing.T) {
	t.Parallel()

	agg := newAggregator(Hooks{})
	tr := agg.track("board", 3)
	assert.Zero(t, tr.snapshot().EstimatedMinutes, "no phase yet")

	tr.markFetching(10)
	assert.Zero(t, tr.snapshot().EstimatedMinutes, "nothing processed yet")

	tr.mu.Lock()
	tr.current = 10
	tr.mu.Unlock()
	assert.Zero(t, tr.snapshot().EstimatedMinutes, "queue drained")
}

func TestAggregatorCombinesSources(t *testing.T) {
	t.Parallel()

	sink := &progressSink{}
	agg := newAggregator(Hooks{OnProgress: sink.hook})
	t1 := agg.track("alpha", 2)
	t2 := agg.track("beta", 2)

	t1.markFetching(10)
	t2.markFetching(20)
	t1.reportTotalJobs(300)
	t2.reportTotalJobs(120)
	t1.stepNew()
	t1.stepNew()
	t2.stepDuplicate()
	t2.setWaiting(true, 20)

	combined := sink.last()
	assert.Equal(t, 3, combined.Current)
	assert.Equal(t, 30, combined.Total)
	assert.Equal(t, 2, combined.New)
	assert.Equal(t, 1, combined.Duplicate)
	assert.Equal(t, 420, combined.TotalJobs)
	assert.True(t, combined.WaitingConfirmation, "any waiting source marks the whole run waiting")
	require.Len(t, combined.PerSource, 2)
	assert.Equal(t, sourceStatusWaiting, combined.PerSource["beta"].Status)
	assert.False(t, combined.PerSource["alpha"].WaitingConfirmation)
}

func TestAggregatorEstimateIsSlowestSource(t *testing.T) {
	t.Parallel()

	sink := &progressSink{}
	agg := newAggregator(Hooks{OnProgress: sink.hook})
	fast := agg.track("fast", 2)
	slow := agg.track("slow", 2)

	fast.markFetching(10)
	slow.markFetching(10)
	fast.mu.Lock()
	fast.phaseStart = time.Now().Add(-10 * time.Second)
	fast.mu.Unlock()
	slow.mu.Lock()
	slow.phaseStart = time.Now().Add(-10 * time.Minute)
	slow.mu.Unlock()

	fast.stepNew()
	slow.stepNew()

	combined := sink.last()
	assert.InDelta(t, combined.PerSource["slow"].EstimatedMinutes, combined.EstimatedMinutes, 0.05,
		"the slowest source bounds the combined estimate")
	assert.Greater(t, combined.PerSource["slow"].EstimatedMinutes, combined.PerSource["fast"].EstimatedMinutes)
}

func TestTrackerStreamingCountsTotalAsFound(t *testing.T) {
	t.Parallel()

	agg := newAggregator(Hooks{})
	tr := agg.track("board", 1)
	tr.markStream(sourceStatusFetching)

	tr.incFound()
	tr.incFound()
	tr.incFound()

	snap := tr.snapshot()
	assert.Equal(t, 3, snap.Total, "streaming total grows with each emitted candidate")
	found, _, _, _, _, _, _ := tr.counts()
	assert.Equal(t, 3, found)
}

func TestTrackerResetStreamKeepsOutcomes(t *testing.T) {
	t.Parallel()

	agg := newAggregator(Hooks{})
	tr := agg.track("board", 2)
	tr.setFound(8)
	tr.markFetching(8)
	tr.stepNew()
	tr.stepError()

	tr.resetStream(sourceStatusFallback)

	snap := tr.snapshot()
	assert.Equal(t, sourceStatusFallback, snap.Status)
	assert.Zero(t, snap.Current, "the fallback pass restarts progress")
	assert.Zero(t, snap.Total)
	assert.Equal(t, 1, snap.New, "outcome counters survive: those writes happened")
	assert.Equal(t, 1, snap.Errors)

	found, newCount, _, _, _, _, _ := tr.counts()
	assert.Zero(t, found, "found re-counts from the fallback enumeration")
	assert.Equal(t, 1, newCount)
}
