package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"harvester/internal/browser"
	"harvester/internal/dedup"
	"harvester/internal/source"
	"harvester/internal/store"
)

// pipeline executes one source for one bound facet. It owns no shared
// state beyond its tracker; the coordinator serializes everything that
// must not race across pipelines.
type pipeline struct {
	eng    *Engine
	mod    source.Module
	pool   browser.Pool
	coord  *dedup.Coordinator
	cfg    Config
	opts   Options
	params source.Params
	hooks  Hooks
	track  *tracker

	// usedSequential records which path actually produced the results,
	// for the run-log row. The fallback flips it after a parallel failure.
	usedSequential bool
}

// run executes the source end to end and writes exactly one run-log row,
// whatever path it took. A parallel-path failure re-executes the source
// sequentially; a declined gate or a cancelled context does not.
func (p *pipeline) run(ctx context.Context) (err error) {
	started := time.Now()
	defer func() {
		p.finalizeStatus(ctx, err)
		p.writeRunLog(started, err)
	}()

	collector, canCollect := p.mod.(source.LinkCollector)
	fetcher, canFetch := p.mod.(source.DetailFetcher)

	if canCollect && canFetch {
		err = p.runParallel(ctx, collector, fetcher)
		if err == nil || errors.Is(err, errDeclined) || ctx.Err() != nil {
			return err
		}
		p.eng.log.LogWarnf("Parallel pipeline failed for %s, retrying sequentially: %v", p.mod.Source(), err)
		p.hooks.log(fmt.Sprintf("[%s] Parallel pipeline failed (%v), retrying sequentially", p.mod.Source(), err))
		p.track.resetStream(sourceStatusFallback)
		err = p.runSequential(ctx)
		return err
	}

	p.track.markStream(sourceStatusFetching)
	err = p.runSequential(ctx)
	return err
}

func (p *pipeline) finalizeStatus(ctx context.Context, err error) {
	switch {
	case errors.Is(err, errDeclined):
		// runParallel already marked the source declined.
	case ctx.Err() != nil:
		p.track.setStatus(sourceStatusStopped)
	case err != nil:
		p.track.setStatus(sourceStatusFailed)
	default:
		p.track.setStatus(sourceStatusDone)
	}
}

// writeRunLog appends the per-source summary row. It runs on a detached
// context: the row must land even when the run was just cancelled.
func (p *pipeline) writeRunLog(started time.Time, runErr error) {
	found, newCount, _, _, errCount, jobsNew, jobsUpd := p.track.counts()

	status := store.RunStatusSuccess
	switch {
	case runErr != nil && found == 0:
		status = store.RunStatusError
	case errCount > found/2:
		status = store.RunStatusPartial
	}

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	scrapeType := "parallel"
	if p.usedSequential {
		scrapeType = "sequential"
	}
	targetURL := ""
	if tu, ok := p.mod.(interface{ TargetURL() string }); ok {
		targetURL = tu.TargetURL()
	}

	// A new company always carries its first job row; when the job write
	// failed the company still counts, so take the larger of the two.
	newJobs := jobsNew
	if newCount > newJobs {
		newJobs = newCount
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry := &store.RunLog{
		ScrapeType:   scrapeType,
		Source:       p.mod.Source(),
		TargetURL:    targetURL,
		Status:       status,
		JobsFound:    found,
		NewJobs:      newJobs,
		UpdatedJobs:  jobsUpd,
		Errors:       errCount,
		ErrorMessage: msg,
		DurationMs:   time.Since(started).Milliseconds(),
		ScrapedAt:    time.Now(),
	}
	if err := p.eng.store.InsertRunLog(ctx, entry); err != nil {
		p.eng.log.LogErrorf("Failed to write run log for %s: %v", p.mod.Source(), err)
	}
}

// runParallel is the two-phase path: enumerate cards with one session,
// pre-filter in memory, hold at the confirmation gate, then fan detail
// fetches out across staggered workers.
func (p *pipeline) runParallel(ctx context.Context, collector source.LinkCollector, fetcher source.DetailFetcher) error {
	src := p.mod.Source()
	p.track.setStatus(sourceStatusCollecting)
	p.hooks.log(fmt.Sprintf("[%s] Collecting listing pages (max %d)", src, p.params.MaxPages))

	sess, err := p.pool.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("enumerate session: %w", err)
	}
	if err := p.login(ctx, sess); err != nil {
		_ = sess.Close()
		return err
	}

	cb := source.Callbacks{Logf: p.logf, ReportTotal: p.track.reportTotalJobs}
	cards, err := collector.CollectLinks(ctx, sess, p.params, cb)
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("collect links: %w", err)
	}
	if tc, ok := p.mod.(source.TotalCounter); ok {
		if n, cntErr := tc.TotalCount(ctx, sess, p.params); cntErr == nil && n > 0 {
			p.track.reportTotalJobs(n)
		}
	}
	_ = sess.Close()

	p.track.setFound(len(cards))
	filtered := p.prefilter(cards)
	p.hooks.log(fmt.Sprintf("[%s] Collected %d cards, %d left after filtering", src, len(cards), len(filtered)))

	if len(filtered) == 0 {
		return nil
	}

	if !p.opts.SkipConfirm {
		gate, err := p.eng.openGate(ctx)
		if err != nil {
			return err
		}
		p.track.setWaiting(true, len(filtered))
		p.hooks.log(fmt.Sprintf("[%s] Waiting for confirmation: %d companies to fetch", src, len(filtered)))

		proceed := gate.Wait(ctx)
		p.eng.closeGate()
		p.track.setWaiting(false, 0)

		if !proceed {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.hooks.log(fmt.Sprintf("[%s] Confirmation declined, skipping detail fetch", src))
			p.track.setStatus(sourceStatusDeclined)
			return errDeclined
		}
		p.hooks.log(fmt.Sprintf("[%s] Confirmed, fetching %d detail pages", src, len(filtered)))
	}

	p.track.markFetching(len(filtered))
	return p.fetchDetails(ctx, fetcher, filtered)
}

// prefilter applies the in-memory phase-2 rules: rank inclusion, collapse
// to one card per company keeping the highest rank (first seen wins
// ties), drop companies the store already knows. Cards without a company
// name pass through; their identity surfaces on the detail page.
func (p *pipeline) prefilter(cards []store.JobCard) []store.JobCard {
	ranked := cards
	if len(p.opts.RankFilter) > 0 {
		keep := make(map[string]struct{}, len(p.opts.RankFilter))
		for _, r := range p.opts.RankFilter {
			keep[strings.ToUpper(strings.TrimSpace(r))] = struct{}{}
		}
		ranked = ranked[:0:0]
		for _, card := range cards {
			if _, ok := keep[strings.ToUpper(card.Rank)]; ok {
				ranked = append(ranked, card)
			}
		}
	}

	collapsed := make([]store.JobCard, 0, len(ranked))
	index := make(map[string]int, len(ranked))
	for _, card := range ranked {
		key := strings.ToLower(strings.TrimSpace(card.CompanyName))
		if key == "" {
			collapsed = append(collapsed, card)
			continue
		}
		if i, seen := index[key]; seen {
			if store.RankWeight(card.Rank) > store.RankWeight(collapsed[i].Rank) {
				collapsed[i] = card
			}
			continue
		}
		index[key] = len(collapsed)
		collapsed = append(collapsed, card)
	}

	kept := make([]store.JobCard, 0, len(collapsed))
	for _, card := range collapsed {
		if strings.TrimSpace(card.CompanyName) != "" && p.coord.Seen(card.CompanyName) {
			continue
		}
		kept = append(kept, card)
	}
	return kept
}

// fetchDetails drains the card queue with N workers. A shared cursor
// hands each card to exactly one worker; workers never share a session.
func (p *pipeline) fetchDetails(ctx context.Context, fetcher source.DetailFetcher, cards []store.JobCard) error {
	workers := p.cfg.Workers
	if workers > len(cards) {
		workers = len(cards)
	}
	if workers < 1 {
		workers = 1
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			// Staggered starts keep the first page loads from arriving
			// as one burst the site can fingerprint.
			if p.cfg.StaggerMs > 0 && idx > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(idx*p.cfg.StaggerMs) * time.Millisecond):
				}
			}

			sess, err := p.pool.NewSession(ctx)
			if err != nil {
				errCh <- fmt.Errorf("worker %d session: %w", idx, err)
				return
			}
			defer sess.Close()
			if err := p.login(ctx, sess); err != nil {
				errCh <- fmt.Errorf("worker %d: %w", idx, err)
				return
			}

			for {
				if ctx.Err() != nil {
					return
				}
				n := int(cursor.Add(1)) - 1
				if n >= len(cards) {
					return
				}
				p.fetchOne(ctx, fetcher, sess, cards[n])
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

// fetchOne resolves a single card into a candidate and pushes it through
// the coordinator. All failures stay inside this call.
func (p *pipeline) fetchOne(ctx context.Context, fetcher source.DetailFetcher, sess browser.Session, card store.JobCard) {
	defer p.politeness(ctx)

	var cand *store.Candidate
	err := withRetry(ctx, p.cfg.MaxRetries, p.cfg.PolitenessMs, p.logf, func() error {
		var ferr error
		cand, ferr = fetcher.FetchDetail(ctx, sess, card, p.logf)
		return ferr
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.track.stepError()
		p.logf("Detail fetch failed for %s: %v", card.URL, err)
		return
	}
	if cand == nil {
		p.track.stepSkipped()
		return
	}
	p.processCandidate(ctx, cand)
}

// runSequential streams candidates from EnumerateAndExtract through a
// bounded queue into a consumer pool. The producer blocks on send when
// consumers lag, which is the only backpressure mechanism.
func (p *pipeline) runSequential(ctx context.Context) error {
	src := p.mod.Source()
	p.usedSequential = true
	p.hooks.log(fmt.Sprintf("[%s] Streaming listings (max %d pages)", src, p.params.MaxPages))

	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queue := make(chan *store.Candidate, 2*workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case cand, ok := <-queue:
					if !ok {
						return
					}
					p.processCandidate(ctx, cand)
				}
			}
		}()
	}

	sess, err := p.pool.NewSession(ctx)
	if err != nil {
		close(queue)
		wg.Wait()
		return fmt.Errorf("enumerate session: %w", err)
	}
	if err := p.login(ctx, sess); err != nil {
		_ = sess.Close()
		close(queue)
		wg.Wait()
		return err
	}

	cb := source.Callbacks{
		Emit: func(cand *store.Candidate) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.track.incFound()
			select {
			case queue <- cand:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		Logf:        p.logf,
		ReportTotal: p.track.reportTotalJobs,
	}

	err = p.mod.EnumerateAndExtract(ctx, sess, p.params, cb)
	_ = sess.Close()
	close(queue)
	wg.Wait()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("enumerate %s: %w", src, err)
	}
	if err != nil {
		return ctx.Err()
	}
	return nil
}

// processCandidate applies the post-fetch filters and hands the survivor
// to the coordinator. Exactly one counter moves per candidate.
func (p *pipeline) processCandidate(ctx context.Context, cand *store.Candidate) {
	if cand.Source == "" {
		cand.Source = p.mod.Source()
	}
	if reason := p.skipReason(cand); reason != "" {
		p.track.stepSkipped()
		p.logf("Skipping %s: %s", cand.CompanyName, reason)
		return
	}

	outcome := p.coord.Process(ctx, cand)
	switch outcome.Kind {
	case dedup.New:
		p.track.stepNew()
		p.track.recordJob(outcome.Job == store.JobInserted, outcome.Job == store.JobUpdated)
		p.logf("New company: %s (%s)", cand.CompanyName, cand.JobTitle)
	case dedup.Duplicate:
		p.track.stepDuplicate()
	case dedup.Error:
		p.track.stepError()
		p.logf("Persist failed for %s: %v", cand.CompanyName, outcome.Err)
	}
}

// skipReason applies the option filters a list page cannot answer:
// salary bounds and employee range only exist on the detail page, and
// the sequential path never saw a rank before now.
func (p *pipeline) skipReason(cand *store.Candidate) string {
	if p.opts.MinSalary > 0 && cand.SalaryMax > 0 && cand.SalaryMax < p.opts.MinSalary {
		return fmt.Sprintf("salary cap %d below minimum %d", cand.SalaryMax, p.opts.MinSalary)
	}
	if p.opts.EmployeeRange != "" && cand.EmployeeCountText != "" &&
		!strings.Contains(cand.EmployeeCountText, p.opts.EmployeeRange) {
		return fmt.Sprintf("employee count %q outside %q", cand.EmployeeCountText, p.opts.EmployeeRange)
	}
	if len(p.opts.RankFilter) > 0 && cand.Rank != "" {
		included := false
		for _, r := range p.opts.RankFilter {
			if strings.EqualFold(strings.TrimSpace(r), cand.Rank) {
				included = true
				break
			}
		}
		if !included {
			return fmt.Sprintf("rank %s excluded", cand.Rank)
		}
	}
	return ""
}

func (p *pipeline) login(ctx context.Context, sess browser.Session) error {
	la, ok := p.mod.(source.LoginAware)
	if !ok {
		return nil
	}
	if err := la.Login(ctx, sess); err != nil {
		return fmt.Errorf("login %s: %w", p.mod.Source(), err)
	}
	return nil
}

func (p *pipeline) politeness(ctx context.Context) {
	if p.cfg.PolitenessMs <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(p.cfg.PolitenessMs) * time.Millisecond):
	}
}

// logf mirrors a line to the service log and the caller's hook stream.
func (p *pipeline) logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	p.eng.log.LogDebugf("[%s] %s", p.mod.Source(), line)
	p.hooks.log(fmt.Sprintf("[%s] %s", p.mod.Source(), line))
}
