package source_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"harvester/internal/source"
	"harvester/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The mock board must qualify for the parallel pipeline, so it carries
// every optional capability.
var (
	_ source.Module        = (*source.MockBoard)(nil)
	_ source.LinkCollector = (*source.MockBoard)(nil)
	_ source.DetailFetcher = (*source.MockBoard)(nil)
	_ source.TotalCounter  = (*source.MockBoard)(nil)
)

func collectMock(t *testing.T, board *source.MockBoard, params source.Params) []store.JobCard {
	t.Helper()
	cards, err := board.CollectLinks(context.Background(), nil, params, source.Callbacks{})
	require.NoError(t, err)
	return cards
}

func TestMockBoardIsDeterministic(t *testing.T) {
	t.Parallel()
	first := collectMock(t, source.NewMockBoard("townwork", 30), source.Params{})
	second := collectMock(t, source.NewMockBoard("townwork", 30), source.Params{})
	assert.Equal(t, first, second, "same name and size must fabricate the same listings")
}

func TestMockBoardHonorsPageCap(t *testing.T) {
	t.Parallel()
	board := source.NewMockBoard("cap", 150)

	assert.Len(t, collectMock(t, board, source.Params{MaxPages: 2}), 40, "twenty listings per page")
	assert.Len(t, collectMock(t, board, source.Params{}), 150)
}

func TestMockBoardRankCycle(t *testing.T) {
	t.Parallel()
	cards := collectMock(t, source.NewMockBoard("ranks", 12), source.Params{})
	require.Len(t, cards, 12)

	assert.Equal(t, store.RankA, cards[0].Rank)
	assert.Equal(t, store.RankA, cards[10].Rank)
	assert.Equal(t, store.RankB, cards[3].Rank)
	assert.Equal(t, store.RankB, cards[6].Rank)
	assert.Equal(t, store.RankC, cards[1].Rank)
	assert.Equal(t, store.RankC, cards[2].Rank)
}

func TestMockBoardReusesCompanyNames(t *testing.T) {
	t.Parallel()
	cards := collectMock(t, source.NewMockBoard("dedupfeed", 60), source.Params{})
	require.Len(t, cards, 60)

	assert.Equal(t, cards[0].CompanyName, cards[2].CompanyName, "every third listing repeats an earlier company")
	assert.Equal(t, cards[3].CompanyName, cards[5].CompanyName)
	assert.Equal(t, cards[24].CompanyName, cards[26].CompanyName, "reuse crosses the suffix boundary")
	assert.True(t, strings.HasSuffix(cards[27].CompanyName, " B"), "high indexes get a disambiguating suffix")

	for _, card := range cards {
		assert.Contains(t, card.CompanyName, "株式会社")
		assert.NotEmpty(t, card.Title)
		assert.Contains(t, card.URL, "https://dedupfeed.example.com/jobs/")
	}
}

func TestMockBoardFetchDetail(t *testing.T) {
	t.Parallel()
	board := source.NewMockBoard("details", 30)
	cards := collectMock(t, board, source.Params{})

	cand, err := board.FetchDetail(context.Background(), nil, cards[0], nil)
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.Equal(t, cards[0].CompanyName, cand.CompanyName)
	assert.Equal(t, cards[0].URL, cand.DetailURL)
	assert.Equal(t, cards[0].Title, cand.JobTitle)
	assert.Equal(t, cards[0].Rank, cand.Rank)
	assert.Equal(t, "details", cand.Source)
	assert.GreaterOrEqual(t, cand.SalaryMin, 220000)
	assert.Equal(t, cand.SalaryMin+60000, cand.SalaryMax)
	assert.Contains(t, cand.SalaryText, "月給")
	assert.NotEmpty(t, cand.Phone, "every twelfth listing carries a phone number")
	assert.NotEmpty(t, cand.EmployeeCountText)
	assert.NotEmpty(t, cand.EmploymentType)
	assert.True(t, cand.IsActive)

	second, err := board.FetchDetail(context.Background(), nil, cards[1], nil)
	require.NoError(t, err)
	assert.Empty(t, second.Phone)
}

func TestMockBoardTotalCountReportsFullListing(t *testing.T) {
	t.Parallel()
	board := source.NewMockBoard("sized", 42)
	total, err := board.TotalCount(context.Background(), nil, source.Params{MaxPages: 1})
	require.NoError(t, err)
	assert.Equal(t, 42, total, "the probe reports the site total, not the crawl cap")
}

func TestMockBoardEnumerateMatchesCollect(t *testing.T) {
	t.Parallel()
	board := source.NewMockBoard("streamed", 25)
	cards := collectMock(t, board, source.Params{})

	var emitted int
	err := board.EnumerateAndExtract(context.Background(), nil, source.Params{}, source.Callbacks{
		Emit: func(cand *store.Candidate) error {
			emitted++
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, len(cards), emitted)
}

func TestMockBoardEnumerateStopsWhenConsumerQuits(t *testing.T) {
	t.Parallel()
	board := source.NewMockBoard("aborted", 25)

	var emitted int
	err := board.EnumerateAndExtract(context.Background(), nil, source.Params{}, source.Callbacks{
		Emit: func(*store.Candidate) error {
			emitted++
			return errors.New("consumer gone")
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, emitted)
}
