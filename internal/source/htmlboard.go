package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"harvester/internal/browser"
	"harvester/internal/logger"
	"harvester/internal/store"
	"harvester/internal/utils/markdown"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
)

// BoardConfig describes one job board declaratively: where its search
// pages live and which selectors carve listings out of them. Boards whose
// list pages render server-side set static, which scrapes them with a
// plain collector instead of a browser session.
type BoardConfig struct {
	Name       string `yaml:"name"`
	BaseURL    string `yaml:"base_url"`
	SearchPath string `yaml:"search_path"` // {keywords} {location} {region} {job_type} {page} placeholders
	Static     bool   `yaml:"static"`

	MaxPages      int `yaml:"max_pages"`
	PolitenessMs  int `yaml:"politeness_ms"`
	PageTimeoutMs int `yaml:"page_timeout_ms"`

	Selectors BoardSelectors `yaml:"selectors"`
}

type BoardSelectors struct {
	Card     string `yaml:"card"`
	Link     string `yaml:"link"`
	Title    string `yaml:"title"`
	Company  string `yaml:"company"`
	Rank     string `yaml:"rank"`
	Total    string `yaml:"total"`
	NextPage string `yaml:"next_page"`

	Detail DetailSelectors `yaml:"detail"`
}

type DetailSelectors struct {
	Company        string `yaml:"company"`
	Title          string `yaml:"title"`
	Address        string `yaml:"address"`
	Industry       string `yaml:"industry"`
	Salary         string `yaml:"salary"`
	Employees      string `yaml:"employees"`
	Phone          string `yaml:"phone"`
	Contact        string `yaml:"contact"`
	Description    string `yaml:"description"`
	EmploymentType string `yaml:"employment_type"`
	Location       string `yaml:"location"`
	Posted         string `yaml:"posted"`
	Updated        string `yaml:"updated"`
	Expiry         string `yaml:"expiry"`
	Closed         string `yaml:"closed"`
}

// HTMLBoard is the selector-driven module. It implements every optional
// capability, so configured boards always qualify for the parallel path.
// Correct selectors per site are the operator's problem, not this code's.
type HTMLBoard struct {
	cfg  BoardConfig
	base *url.URL
	log  *logger.Logger
}

func NewHTMLBoard(cfg BoardConfig) (*HTMLBoard, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("board needs a name")
	}
	if cfg.BaseURL == "" || cfg.SearchPath == "" {
		return nil, fmt.Errorf("board needs base_url and search_path")
	}
	if cfg.Selectors.Card == "" || cfg.Selectors.Link == "" {
		return nil, fmt.Errorf("board needs card and link selectors")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("base_url: %w", err)
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.PolitenessMs <= 0 {
		cfg.PolitenessMs = 1500
	}
	if cfg.PageTimeoutMs <= 0 {
		cfg.PageTimeoutMs = 10000
	}
	return &HTMLBoard{cfg: cfg, base: base, log: logger.New("Board:" + cfg.Name)}, nil
}

func (b *HTMLBoard) Source() string { return b.cfg.Name }

// TargetURL identifies the board in run-log rows.
func (b *HTMLBoard) TargetURL() string { return b.cfg.BaseURL }

func (b *HTMLBoard) searchURL(params Params, page int) string {
	path := b.cfg.SearchPath
	repl := strings.NewReplacer(
		"{keywords}", url.QueryEscape(params.Keywords),
		"{location}", url.QueryEscape(params.Location),
		"{region}", url.QueryEscape(params.Region),
		"{job_type}", url.QueryEscape(params.JobType),
		"{page}", strconv.Itoa(page),
	)
	return strings.TrimRight(b.cfg.BaseURL, "/") + repl.Replace(path)
}

func (b *HTMLBoard) maxPages(params Params) int {
	n := b.cfg.MaxPages
	if params.MaxPages > 0 && params.MaxPages < n {
		n = params.MaxPages
	}
	return n
}

// EnumerateAndExtract streams candidates page by page: each list page is
// scanned for cards and every card's detail page is fetched before the
// next list page loads, so memory stays flat no matter how deep the board
// paginates.
func (b *HTMLBoard) EnumerateAndExtract(ctx context.Context, sess browser.Session, params Params, cb Callbacks) error {
	cards, total, err := b.collect(ctx, sess, params, b.maxPages(params))
	if err != nil {
		return err
	}
	if total > 0 {
		cb.Total(total)
	}
	cb.Log("%s: %d listings queued for detail extraction", b.cfg.Name, len(cards))

	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return err
		}
		cand, err := b.FetchDetail(ctx, sess, card, cb.Logf)
		if err != nil {
			cb.Log("%s: detail fetch failed for %s: %v", b.cfg.Name, card.URL, err)
			continue
		}
		if cand == nil {
			continue
		}
		if err := cb.Emit(cand); err != nil {
			// The engine has stopped consuming; end enumeration quietly.
			return nil
		}
		if err := politeWait(ctx, b.cfg.PolitenessMs); err != nil {
			return err
		}
	}
	return nil
}

// CollectLinks enumerates the cheap descriptors for the two-phase path.
func (b *HTMLBoard) CollectLinks(ctx context.Context, sess browser.Session, params Params, cb Callbacks) ([]store.JobCard, error) {
	cards, total, err := b.collect(ctx, sess, params, b.maxPages(params))
	if err != nil {
		return nil, err
	}
	if total > 0 {
		cb.Total(total)
	}
	cb.Log("%s: collected %d cards", b.cfg.Name, len(cards))
	return cards, nil
}

// TotalCount probes the first list page for a site-reported result count.
func (b *HTMLBoard) TotalCount(ctx context.Context, sess browser.Session, params Params) (int, error) {
	if b.cfg.Selectors.Total == "" {
		return 0, nil
	}
	_, total, err := b.collect(ctx, sess, params, 1)
	return total, err
}

func (b *HTMLBoard) collect(ctx context.Context, sess browser.Session, params Params, maxPages int) ([]store.JobCard, int, error) {
	if b.cfg.Static {
		return b.collectStatic(ctx, params, maxPages)
	}
	return b.collectDynamic(ctx, sess, params, maxPages)
}

// collectStatic scans server-rendered list pages with a colly collector;
// no browser session is spent on them.
func (b *HTMLBoard) collectStatic(ctx context.Context, params Params, maxPages int) ([]store.JobCard, int, error) {
	var (
		cards []store.JobCard
		total int
	)

	c := colly.NewCollector()
	c.UserAgent = defaultCollectorAgent
	c.Limit(&colly.LimitRule{DomainGlob: "*", RandomDelay: time.Duration(b.cfg.PolitenessMs) * time.Millisecond})

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	sel := b.cfg.Selectors
	c.OnHTML(sel.Card, func(e *colly.HTMLElement) {
		href := e.ChildAttr(sel.Link, "href")
		link := e.Request.AbsoluteURL(href)
		if link == "" {
			return
		}
		cards = append(cards, store.JobCard{
			URL:         link,
			CompanyName: strings.TrimSpace(e.ChildText(sel.Company)),
			Title:       strings.TrimSpace(e.ChildText(sel.Title)),
			Rank:        normalizeRank(e.ChildText(sel.Rank)),
			Position:    len(cards) + 1,
		})
	})
	if sel.Total != "" {
		c.OnHTML(sel.Total, func(e *colly.HTMLElement) {
			if n := firstInt(e.Text); n > 0 && total == 0 {
				total = n
			}
		})
	}

	var pageErr error
	c.OnError(func(r *colly.Response, err error) { pageErr = err })

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return cards, total, err
		}
		before := len(cards)
		pageErr = nil
		if err := c.Visit(b.searchURL(params, page)); err != nil {
			pageErr = err
		}
		if pageErr != nil {
			if page == 1 {
				return nil, 0, fmt.Errorf("list page %d: %w", page, pageErr)
			}
			break
		}
		if len(cards) == before {
			break
		}
	}
	return cards, total, nil
}

// collectDynamic drives the browser session through the list pages and
// parses the rendered HTML.
func (b *HTMLBoard) collectDynamic(ctx context.Context, sess browser.Session, params Params, maxPages int) ([]store.JobCard, int, error) {
	var (
		cards []store.JobCard
		total int
	)

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return cards, total, err
		}
		pageURL := b.searchURL(params, page)
		err := sess.Navigate(ctx, pageURL, browser.NavigateOptions{
			WaitSelector: b.cfg.Selectors.Card,
			TimeoutMs:    b.cfg.PageTimeoutMs,
		})
		if err != nil {
			if page == 1 {
				return nil, 0, fmt.Errorf("list page %d: %w", page, err)
			}
			// Later pages that never render cards mean the listing ended.
			break
		}
		html, err := sess.Content(ctx)
		if err != nil {
			return cards, total, err
		}
		pageCards, pageTotal, hasNext := b.parseList(html, len(cards))
		if total == 0 && pageTotal > 0 {
			total = pageTotal
		}
		if len(pageCards) == 0 {
			break
		}
		cards = append(cards, pageCards...)
		if b.cfg.Selectors.NextPage != "" && !hasNext {
			break
		}
	}
	return cards, total, nil
}

func (b *HTMLBoard) parseList(html string, offset int) (cards []store.JobCard, total int, hasNext bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, false
	}
	sel := b.cfg.Selectors

	doc.Find(sel.Card).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Find(sel.Link).First().Attr("href")
		link := b.absoluteURL(href)
		if link == "" {
			return
		}
		cards = append(cards, store.JobCard{
			URL:         link,
			CompanyName: strings.TrimSpace(s.Find(sel.Company).First().Text()),
			Title:       strings.TrimSpace(s.Find(sel.Title).First().Text()),
			Rank:        normalizeRank(s.Find(sel.Rank).First().Text()),
			Position:    offset + len(cards) + 1,
		})
	})

	if sel.Total != "" {
		total = firstInt(doc.Find(sel.Total).First().Text())
	}
	if sel.NextPage != "" {
		hasNext = doc.Find(sel.NextPage).Length() > 0
	}
	return cards, total, hasNext
}

// FetchDetail loads one detail page and assembles the candidate. Static
// boards fetch it with the collector; dynamic boards render it in the
// session. Card fields back-fill anything the detail page lacks.
func (b *HTMLBoard) FetchDetail(ctx context.Context, sess browser.Session, card store.JobCard, logf func(format string, args ...interface{})) (*store.Candidate, error) {
	var html string

	if b.cfg.Static {
		c := colly.NewCollector()
		c.UserAgent = defaultCollectorAgent
		c.OnResponse(func(r *colly.Response) { html = string(r.Body) })
		var pageErr error
		c.OnError(func(r *colly.Response, err error) { pageErr = err })
		if err := c.Visit(card.URL); err != nil {
			pageErr = err
		}
		if pageErr != nil {
			return nil, fmt.Errorf("detail %s: %w", card.URL, pageErr)
		}
	} else {
		wait := b.cfg.Selectors.Detail.Company
		if wait == "" {
			wait = b.cfg.Selectors.Detail.Description
		}
		err := sess.Navigate(ctx, card.URL, browser.NavigateOptions{
			WaitSelector: wait,
			TimeoutMs:    b.cfg.PageTimeoutMs,
		})
		if err != nil {
			return nil, fmt.Errorf("detail %s: %w", card.URL, err)
		}
		html, err = sess.Content(ctx)
		if err != nil {
			return nil, err
		}
	}

	return b.parseDetail(html, card), nil
}

func (b *HTMLBoard) parseDetail(html string, card store.JobCard) *store.Candidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	d := b.cfg.Selectors.Detail

	text := func(selector string) string {
		if selector == "" {
			return ""
		}
		return strings.TrimSpace(doc.Find(selector).First().Text())
	}

	cand := &store.Candidate{
		CompanyName:       text(d.Company),
		DetailURL:         card.URL,
		Source:            b.cfg.Name,
		JobTitle:          text(d.Title),
		Address:           text(d.Address),
		Industry:          text(d.Industry),
		SalaryText:        text(d.Salary),
		EmployeeCountText: text(d.Employees),
		Phone:             text(d.Phone),
		ContactPerson:     text(d.Contact),
		EmploymentType:    text(d.EmploymentType),
		LocationSummary:   text(d.Location),
		PostedDate:        text(d.Posted),
		UpdatedDate:       text(d.Updated),
		ExpiryDate:        text(d.Expiry),
		Rank:              card.Rank,
		IsActive:          true,
	}

	if d.Description != "" {
		if block, err := doc.Find(d.Description).First().Html(); err == nil {
			cand.Description = markdown.FromHTML(block)
		}
	}
	if d.Closed != "" && doc.Find(d.Closed).Length() > 0 {
		cand.IsActive = false
	}

	if cand.CompanyName == "" {
		cand.CompanyName = card.CompanyName
	}
	if cand.JobTitle == "" {
		cand.JobTitle = card.Title
	}
	if cand.CompanyName == "" && cand.JobTitle == "" {
		// Nothing recognisable on the page; report "no record" upstream.
		return nil
	}

	cand.SalaryMin, cand.SalaryMax = ParseSalaryRange(cand.SalaryText)
	return cand
}

func (b *HTMLBoard) absoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := b.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

const defaultCollectorAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

var (
	numRe    = regexp.MustCompile(`([0-9][0-9,]*)(\s*万)?`)
	digitsRe = regexp.MustCompile(`[0-9][0-9,]*`)
)

// ParseSalaryRange pulls numeric bounds out of a scraped salary string.
// Numbers followed by 万 are scaled to yen. One number fills only the
// lower bound; the upper stays unknown.
func ParseSalaryRange(text string) (min, max int) {
	matches := numRe.FindAllStringSubmatch(text, 2)
	vals := make([]int, 0, 2)
	for _, m := range matches {
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		if strings.TrimSpace(m[2]) != "" {
			n *= 10000
		}
		vals = append(vals, n)
	}
	switch len(vals) {
	case 0:
		return 0, 0
	case 1:
		return vals[0], 0
	default:
		return vals[0], vals[1]
	}
}

// firstInt returns the first integer embedded in a string, ignoring
// thousands separators.
func firstInt(s string) int {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// normalizeRank maps a badge's text onto the A/B/C budget ranks. Plain
// letters pass through; promotion keywords map to their tier; any other
// non-empty badge is the bottom tier; no badge means unranked.
func normalizeRank(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	switch strings.ToUpper(s) {
	case store.RankA, store.RankB, store.RankC:
		return strings.ToUpper(s)
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "premium") || strings.Contains(lower, "sponsor") || strings.Contains(s, "プレミアム"):
		return store.RankA
	case strings.Contains(lower, "featured") || strings.Contains(lower, "plus") || strings.Contains(s, "注目"):
		return store.RankB
	default:
		return store.RankC
	}
}

// politeWait sleeps for the politeness floor, returning early only when
// the run is cancelled.
func politeWait(ctx context.Context, ms int) error {
	if ms <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}
