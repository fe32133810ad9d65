package dedup_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"harvester/internal/dedup"
	"harvester/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultStore wraps a memory store with injectable failures per call type.
type faultStore struct {
	store.Store
	namesErr   error
	companyErr error
	jobErr     error
}

func (s *faultStore) CompanyNames(ctx context.Context) (map[string]struct{}, error) {
	if s.namesErr != nil {
		return nil, s.namesErr
	}
	return s.Store.CompanyNames(ctx)
}

func (s *faultStore) UpsertCompany(ctx context.Context, c *store.Company) error {
	if s.companyErr != nil {
		return s.companyErr
	}
	return s.Store.UpsertCompany(ctx, c)
}

func (s *faultStore) UpsertJob(ctx context.Context, j *store.Job) (store.JobOutcome, error) {
	if s.jobErr != nil {
		return store.JobInserted, s.jobErr
	}
	return s.Store.UpsertJob(ctx, j)
}

// stubEnricher records lookups and answers with a fixed phone or error.
type stubEnricher struct {
	phone string
	err   error

	mu    sync.Mutex
	calls []string
}

func (s *stubEnricher) Lookup(ctx context.Context, company string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, company)
	s.mu.Unlock()
	return s.phone, s.err
}

func (s *stubEnricher) lookups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func candidate(name, url string) *store.Candidate {
	return &store.Candidate{
		CompanyName: name,
		DetailURL:   url,
		JobTitle:    "配送ドライバー",
		SalaryText:  "月給25万円〜30万円",
		SalaryMin:   250000,
		SalaryMax:   300000,
		IsActive:    true,
	}
}

func TestProcessWritesCompanyAndJobOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	coord, err := dedup.NewCoordinator(ctx, mem, nil)
	require.NoError(t, err)

	out := coord.Process(ctx, candidate("みらい物流株式会社", "https://board.example.com/jobs/100001"))
	require.NoError(t, out.Err)
	assert.Equal(t, dedup.New, out.Kind)
	assert.Equal(t, store.JobInserted, out.Job)
	assert.Equal(t, 1, mem.CompanyCount())
	assert.Equal(t, 1, mem.JobCount())

	got, err := mem.GetCompany(ctx, "みらい物流株式会社")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://board.example.com/jobs/100001", got.DetailURL)
}

func TestProcessDuplicateWithinRunWritesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	coord, err := dedup.NewCoordinator(ctx, mem, nil)
	require.NoError(t, err)

	first := coord.Process(ctx, candidate("青空建設株式会社", "https://board.example.com/jobs/100001"))
	require.Equal(t, dedup.New, first.Kind)

	// Different listing, same company.
	second := coord.Process(ctx, candidate("青空建設株式会社", "https://board.example.com/jobs/100002"))
	assert.Equal(t, dedup.Duplicate, second.Kind)
	assert.Equal(t, 1, mem.CompanyCount())
	assert.Equal(t, 1, mem.JobCount(), "a duplicate company's job is not written either")
}

func TestProcessIdentityIgnoresCaseAndPadding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	coord, err := dedup.NewCoordinator(ctx, mem, nil)
	require.NoError(t, err)

	first := coord.Process(ctx, candidate("  Acme Logistics  ", "https://board.example.com/jobs/100001"))
	require.Equal(t, dedup.New, first.Kind)
	second := coord.Process(ctx, candidate("acme logistics", "https://board.example.com/jobs/100002"))
	assert.Equal(t, dedup.Duplicate, second.Kind)

	got, err := mem.GetCompany(ctx, "Acme Logistics")
	require.NoError(t, err)
	require.NotNil(t, got, "the stored name is the trimmed original, not the cache key")
}

func TestProcessSeededFromPersistedNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertCompany(ctx, &store.Company{Name: "旭メディカル株式会社"}))

	coord, err := dedup.NewCoordinator(ctx, mem, nil)
	require.NoError(t, err)

	assert.True(t, coord.Seen("旭メディカル株式会社"))
	assert.True(t, coord.Seen("  旭メディカル株式会社  "), "Seen normalizes like Process does")
	assert.False(t, coord.Seen("未知の会社"))

	out := coord.Process(ctx, candidate("旭メディカル株式会社", "https://board.example.com/jobs/100009"))
	assert.Equal(t, dedup.Duplicate, out.Kind)
	assert.Zero(t, mem.JobCount(), "persisted companies are never re-written")
}

func TestNewCoordinatorSeedFailure(t *testing.T) {
	t.Parallel()
	st := &faultStore{Store: store.NewMemory(), namesErr: errors.New("connection refused")}
	_, err := dedup.NewCoordinator(context.Background(), st, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed dedup cache")
}

func TestProcessRejectsCandidatesWithoutIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	coord, err := dedup.NewCoordinator(ctx, mem, nil)
	require.NoError(t, err)

	noName := coord.Process(ctx, candidate("   ", "https://board.example.com/jobs/100001"))
	assert.Equal(t, dedup.Error, noName.Kind)
	require.ErrorIs(t, noName.Err, dedup.ErrInvalidCandidate)

	noURL := coord.Process(ctx, candidate("白石機械株式会社", ""))
	assert.Equal(t, dedup.Error, noURL.Kind)
	require.ErrorIs(t, noURL.Err, dedup.ErrInvalidCandidate)

	assert.Zero(t, mem.CompanyCount())
	assert.Zero(t, mem.JobCount())

	// The rejected name was never claimed; a valid candidate for it works.
	ok := coord.Process(ctx, candidate("白石機械株式会社", "https://board.example.com/jobs/100002"))
	assert.Equal(t, dedup.New, ok.Kind)
}

func TestProcessJobWriteFailureKeepsClaimAndCompany(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &faultStore{Store: store.NewMemory(), jobErr: errors.New("jobs table locked")}
	coord, err := dedup.NewCoordinator(ctx, st, nil)
	require.NoError(t, err)

	out := coord.Process(ctx, candidate("高原印刷株式会社", "https://board.example.com/jobs/100001"))
	assert.Equal(t, dedup.Error, out.Kind)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "upsert job")

	mem := st.Store.(*store.Memory)
	assert.Equal(t, 1, mem.CompanyCount(), "the company row landed before the job write failed")
	assert.Zero(t, mem.JobCount())

	retry := coord.Process(ctx, candidate("高原印刷株式会社", "https://board.example.com/jobs/100001"))
	assert.Equal(t, dedup.Duplicate, retry.Kind, "the claim stands; the run will not retry the company")
}

func TestProcessCompanyWriteFailureKeepsClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &faultStore{Store: store.NewMemory(), companyErr: errors.New("companies table locked")}
	coord, err := dedup.NewCoordinator(ctx, st, nil)
	require.NoError(t, err)

	out := coord.Process(ctx, candidate("南海運輸株式会社", "https://board.example.com/jobs/100001"))
	assert.Equal(t, dedup.Error, out.Kind)
	assert.Contains(t, out.Err.Error(), "upsert company")

	retry := coord.Process(ctx, candidate("南海運輸株式会社", "https://board.example.com/jobs/100001"))
	assert.Equal(t, dedup.Duplicate, retry.Kind)
}

func TestProcessConcurrentSameCompanyWritesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	coord, err := dedup.NewCoordinator(ctx, mem, nil)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	outcomes := make(chan dedup.Kind, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("https://board.example.com/jobs/%06d", 100000+i)
			outcomes <- coord.Process(ctx, candidate("協和工業株式会社", url)).Kind
		}(i)
	}
	wg.Wait()
	close(outcomes)

	var news, dups int
	for kind := range outcomes {
		switch kind {
		case dedup.New:
			news++
		case dedup.Duplicate:
			dups++
		}
	}
	assert.Equal(t, 1, news, "exactly one worker claims the company")
	assert.Equal(t, workers-1, dups)
	assert.Equal(t, 1, mem.CompanyCount())
	assert.Equal(t, 1, mem.JobCount())
}

func TestEnrichmentFillsMissingPhone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	enr := &stubEnricher{phone: "03-1234-5678"}
	coord, err := dedup.NewCoordinator(ctx, mem, enr)
	require.NoError(t, err)

	out := coord.Process(ctx, candidate("光陽フーズ株式会社", "https://board.example.com/jobs/100001"))
	require.Equal(t, dedup.New, out.Kind)
	coord.WaitEnrichment()

	assert.Equal(t, []string{"光陽フーズ株式会社"}, enr.lookups())
	got, err := mem.GetCompany(ctx, "光陽フーズ株式会社")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "03-1234-5678", got.Phone)
}

func TestEnrichmentSkippedWhenPhoneScraped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	enr := &stubEnricher{phone: "03-9999-0000"}
	coord, err := dedup.NewCoordinator(ctx, mem, enr)
	require.NoError(t, err)

	cand := candidate("大和電機株式会社", "https://board.example.com/jobs/100001")
	cand.Phone = "06-1111-2222"
	require.Equal(t, dedup.New, coord.Process(ctx, cand).Kind)
	coord.WaitEnrichment()

	assert.Empty(t, enr.lookups(), "a scraped phone needs no lookup")
	got, err := mem.GetCompany(ctx, "大和電機株式会社")
	require.NoError(t, err)
	assert.Equal(t, "06-1111-2222", got.Phone)
}

func TestEnrichmentFailureLeavesCompanyIntact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory()
	enr := &stubEnricher{err: errors.New("directory unavailable")}
	coord, err := dedup.NewCoordinator(ctx, mem, enr)
	require.NoError(t, err)

	out := coord.Process(ctx, candidate("北斗商事株式会社", "https://board.example.com/jobs/100001"))
	require.Equal(t, dedup.New, out.Kind)
	coord.WaitEnrichment()

	got, err := mem.GetCompany(ctx, "北斗商事株式会社")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Phone, "a failed lookup never touches the row")
}

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "new", dedup.New.String())
	assert.Equal(t, "duplicate", dedup.Duplicate.String())
	assert.Equal(t, "error", dedup.Error.String())
}
