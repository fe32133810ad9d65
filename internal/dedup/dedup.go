// Package dedup guarantees at most one persistence attempt per company
// identity within a run, across every source and worker feeding it.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"harvester/internal/logger"
	"harvester/internal/store"
)

// Kind classifies what Process did with a candidate.
type Kind int

const (
	// New: first sight of the company this run, rows written.
	New Kind = iota
	// Duplicate: company already claimed this run or already persisted.
	// Nothing written.
	Duplicate
	// Error: invalid candidate or persistence failure.
	Error
)

func (k Kind) String() string {
	switch k {
	case New:
		return "new"
	case Duplicate:
		return "duplicate"
	case Error:
		return "error"
	}
	return "unknown"
}

// Outcome is the result of one Process call. Job is meaningful only when
// Kind is New with a nil Err. When the company row was written but the
// job write failed, Kind is Error and the claim stands, so a retry of
// the same company within the run stays a duplicate.
type Outcome struct {
	Kind Kind
	Job  store.JobOutcome
	Err  error
}

// ErrInvalidCandidate rejects candidates missing the identity fields.
var ErrInvalidCandidate = errors.New("candidate missing company name or detail url")

// Enricher resolves a phone number for a company name. Implemented by
// enrich.Client; nil disables enrichment.
type Enricher interface {
	Lookup(ctx context.Context, company string) (string, error)
}

const enrichTimeout = 15 * time.Second

// Coordinator owns the in-run dedup cache and serializes the
// check-and-claim step. Store writes happen outside the lock; the claim
// guarantees no two writes ever race on the same company.
type Coordinator struct {
	store    store.Store
	enricher Enricher
	log      *logger.Logger

	mu      sync.Mutex
	claimed map[string]struct{}

	enrichWG sync.WaitGroup
}

// NewCoordinator seeds the cache with every persisted company name in
// one bulk read. A seed failure poisons the whole run: without the
// baseline every persisted company would be re-written.
func NewCoordinator(ctx context.Context, st store.Store, enricher Enricher) (*Coordinator, error) {
	names, err := st.CompanyNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed dedup cache: %w", err)
	}
	claimed := make(map[string]struct{}, len(names))
	for name := range names {
		claimed[cacheKey(name)] = struct{}{}
	}
	return &Coordinator{
		store:    st,
		enricher: enricher,
		log:      logger.New("DedupCoordinator"),
		claimed:  claimed,
	}, nil
}

func cacheKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Seen reports whether the company is already claimed or persisted,
// without claiming it. The pipeline pre-filter uses this to drop known
// companies before spending a detail fetch on them.
func (c *Coordinator) Seen(name string) bool {
	key := cacheKey(name)
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.claimed[key]
	return ok
}

// Process converts a candidate into persisted rows exactly once per
// company identity. Check-and-claim is atomic under the mutex; the
// blocking store calls run after release.
func (c *Coordinator) Process(ctx context.Context, cand *store.Candidate) Outcome {
	name := strings.TrimSpace(cand.CompanyName)
	if name == "" || strings.TrimSpace(cand.DetailURL) == "" {
		return Outcome{Kind: Error, Err: ErrInvalidCandidate}
	}

	key := cacheKey(name)
	c.mu.Lock()
	if _, dup := c.claimed[key]; dup {
		c.mu.Unlock()
		return Outcome{Kind: Duplicate}
	}
	c.claimed[key] = struct{}{}
	c.mu.Unlock()

	company := store.CompanyFromCandidate(cand)
	company.Name = name
	if err := c.store.UpsertCompany(ctx, company); err != nil {
		return Outcome{Kind: Error, Err: fmt.Errorf("upsert company %s: %w", name, err)}
	}

	if c.enricher != nil && strings.TrimSpace(cand.Phone) == "" {
		c.spawnEnrichment(name)
	}

	outcome, err := c.store.UpsertJob(ctx, store.JobFromCandidate(cand))
	if err != nil {
		return Outcome{Kind: Error, Err: fmt.Errorf("upsert job for %s: %w", name, err)}
	}
	return Outcome{Kind: New, Job: outcome}
}

// spawnEnrichment patches the phone in later without holding up the
// worker. Detached from the run context: a cancelled run should not
// strand a half-written company row missing a phone we already paid a
// lookup for.
func (c *Coordinator) spawnEnrichment(name string) {
	c.enrichWG.Add(1)
	go func() {
		defer c.enrichWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		defer cancel()

		phone, err := c.enricher.Lookup(ctx, name)
		if err != nil {
			c.log.LogDebugf("Phone enrichment failed for %s: %v", name, err)
			return
		}
		if phone == "" {
			return
		}
		if err := c.store.SetCompanyPhone(ctx, name, phone); err != nil {
			c.log.LogWarnf("Failed to store enriched phone for %s: %v", name, err)
		}
	}()
}

// WaitEnrichment blocks until every outstanding enrichment lookup has
// settled. Shutdown and tests use it; the scrape path never does.
func (c *Coordinator) WaitEnrichment() {
	c.enrichWG.Wait()
}
