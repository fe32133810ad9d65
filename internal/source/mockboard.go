package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"harvester/internal/browser"
	"harvester/internal/store"
)

// MockBoard is a synthetic source that fabricates a deterministic set of
// listings from its seed. It exercises every pipeline path without any
// network traffic, which makes it the default source for local runs and
// the engine test suite.
type MockBoard struct {
	name     string
	seed     uint64
	listings int
}

func NewMockBoard(name string, listings int) *MockBoard {
	if listings <= 0 {
		listings = 60
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return &MockBoard{name: name, seed: h.Sum64(), listings: listings}
}

func (m *MockBoard) Source() string { return m.name }

func (m *MockBoard) TargetURL() string {
	return fmt.Sprintf("https://%s.example.com/jobs", m.name)
}

func (m *MockBoard) EnumerateAndExtract(ctx context.Context, sess browser.Session, params Params, cb Callbacks) error {
	cards, err := m.CollectLinks(ctx, sess, params, cb)
	if err != nil {
		return err
	}
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return err
		}
		cand, err := m.FetchDetail(ctx, sess, card, cb.Logf)
		if err != nil || cand == nil {
			continue
		}
		if err := cb.Emit(cand); err != nil {
			return nil
		}
	}
	return nil
}

func (m *MockBoard) CollectLinks(ctx context.Context, sess browser.Session, params Params, cb Callbacks) ([]store.JobCard, error) {
	n := m.listings
	if params.MaxPages > 0 && params.MaxPages*20 < n {
		n = params.MaxPages * 20
	}
	cards := make([]store.JobCard, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cards = append(cards, store.JobCard{
			URL:         fmt.Sprintf("https://%s.example.com/jobs/%d", m.name, 100000+m.idx(i)),
			CompanyName: m.companyName(i),
			Title:       m.title(i),
			Rank:        m.rank(i),
			Position:    i + 1,
		})
	}
	cb.Total(m.listings)
	cb.Log("%s: fabricated %d cards", m.name, len(cards))
	return cards, nil
}

func (m *MockBoard) TotalCount(ctx context.Context, sess browser.Session, params Params) (int, error) {
	return m.listings, nil
}

func (m *MockBoard) FetchDetail(ctx context.Context, sess browser.Session, card store.JobCard, logf func(format string, args ...interface{})) (*store.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := card.Position - 1
	salaryMin := 220000 + int(m.idx(i)%8)*15000
	cand := &store.Candidate{
		CompanyName:       card.CompanyName,
		DetailURL:         card.URL,
		Source:            m.name,
		JobTitle:          card.Title,
		Description:       fmt.Sprintf("## About the role\n\n%s is hiring a %s.\n", card.CompanyName, card.Title),
		Address:           fmt.Sprintf("%d Chome, Chiyoda, Tokyo", 1+i%9),
		Industry:          industries[int(m.idx(i))%len(industries)],
		SalaryText:        fmt.Sprintf("月給%d円〜%d円", salaryMin, salaryMin+60000),
		SalaryMin:         salaryMin,
		SalaryMax:         salaryMin + 60000,
		EmployeeCountText: employeeRanges[int(m.idx(i))%len(employeeRanges)],
		ContactPerson:     "採用担当",
		Rank:              card.Rank,
		EmploymentType:    employmentTypes[i%len(employmentTypes)],
		LocationSummary:   "Tokyo",
		PostedDate:        "2025-07-01",
		IsActive:          true,
	}
	if i%12 == 0 {
		cand.Phone = fmt.Sprintf("03-%04d-%04d", m.idx(i)%10000, (m.idx(i)/7)%10000)
	}
	return cand, nil
}

// idx perturbs an index with the board seed so two mock boards never
// produce the same identifiers.
func (m *MockBoard) idx(i int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("%d:%d", m.seed, i)))
	return h.Sum64() % 1000000
}

// companyName reuses a name roughly every third listing so dedup paths
// see realistic collision rates.
func (m *MockBoard) companyName(i int) string {
	base := i
	if i%3 == 2 {
		base = i - 2
	}
	return fmt.Sprintf("%s株式会社", companyStems[int(m.idx(base))%len(companyStems)]) + suffix(base)
}

func (m *MockBoard) title(i int) string {
	return titles[int(m.idx(i)+uint64(i))%len(titles)]
}

func (m *MockBoard) rank(i int) string {
	switch {
	case i%10 == 0:
		return store.RankA
	case i%3 == 0:
		return store.RankB
	default:
		return store.RankC
	}
}

func suffix(i int) string {
	if i < 26 {
		return ""
	}
	return " " + strings.ToUpper(string(rune('a'+i%26)))
}

var (
	companyStems = []string{
		"青空建設", "みらい物流", "さくら製作所", "大和電機", "北斗商事",
		"光陽フーズ", "高原印刷", "若葉介護", "南海運輸", "旭メディカル",
		"協和工業", "瑞穂不動産", "白石機械", "山彦通信", "綾瀬ソフト",
	}
	titles = []string{
		"営業スタッフ", "配送ドライバー", "施工管理", "経理事務", "製造オペレーター",
		"介護スタッフ", "店舗スタッフ", "システムエンジニア", "倉庫管理", "調理師",
	}
	industries = []string{
		"建設業", "運輸業", "製造業", "小売業", "介護福祉", "情報通信業", "飲食業",
	}
	employeeRanges = []string{
		"1〜9名", "10〜29名", "30〜99名", "100〜299名", "300名以上",
	}
	employmentTypes = []string{"正社員", "契約社員", "パート・アルバイト"}
)
