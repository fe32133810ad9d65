// Package store holds the harvested record types and the persistence
// contract the engine writes through.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// Budget rank tags assigned to a listing from placement/promotion signals.
// Used to prioritize or filter expensive detail fetches.
const (
	RankA = "A"
	RankB = "B"
	RankC = "C"
)

// RankWeight orders ranks for tie-breaking: A beats B beats C; anything
// else loses to all three.
func RankWeight(rank string) int {
	switch rank {
	case RankA:
		return 3
	case RankB:
		return 2
	case RankC:
		return 1
	}
	return 0
}

// Candidate is the raw, denormalized result of scraping one company/job
// pairing. It is transient: the coordinator converts it into a Company and
// a Job before anything touches the store. A candidate with an empty
// CompanyName or DetailURL is rejected outright.
type Candidate struct {
	CompanyName string `json:"company_name"`
	DetailURL   string `json:"detail_url"`
	Source      string `json:"source"`

	JobTitle    string `json:"job_title"`
	Description string `json:"description"`

	Address           string `json:"address"`
	Industry          string `json:"industry"`
	SalaryText        string `json:"salary_text"`
	SalaryMin         int    `json:"salary_min"`
	SalaryMax         int    `json:"salary_max"`
	EmployeeCountText string `json:"employee_count_text"`
	Phone             string `json:"phone"`
	ContactPerson     string `json:"contact_person"`

	Rank            string `json:"rank"`
	JobType         string `json:"job_type"`
	EmploymentType  string `json:"employment_type"`
	LocationSummary string `json:"location_summary"`

	// Date fields are kept as scraped text: sites publish them in
	// arbitrary formats and downstream consumers re-parse as needed.
	PostedDate  string `json:"posted_date"`
	UpdatedDate string `json:"updated_date"`
	ExpiryDate  string `json:"expiry_date"`

	IsActive bool `json:"is_active"`
}

// Company is one persisted row per unique company name. Status, Notes,
// AISummary, AITags and Phone (once set) are curated elsewhere and must
// never be overwritten by a scrape; everything else refreshes on every
// re-observation that supplies a non-empty value.
type Company struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	DetailURL         string `json:"detail_url"`
	Source            string `json:"source"`
	Address           string `json:"address"`
	Industry          string `json:"industry"`
	SalaryText        string `json:"salary_text"`
	EmployeeCountText string `json:"employee_count_text"`
	ContactPerson     string `json:"contact_person"`
	Rank              string `json:"rank"`
	JobType           string `json:"job_type"`
	PostedDate        string `json:"posted_date"`
	UpdatedDate       string `json:"updated_date"`

	// Protected fields.
	Phone     string `json:"phone"`
	Status    string `json:"status"`
	Notes     string `json:"notes"`
	AISummary string `json:"ai_summary"`
	AITags    string `json:"ai_tags"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Job is one persisted row per (source, source-native job id). Jobs are
// never hard-deleted; withdrawal flips IsActive instead.
type Job struct {
	ID          int64  `json:"id"`
	Source      string `json:"source"`
	SourceJobID string `json:"source_job_id"`

	CompanyName string `json:"company_name"`
	DetailURL   string `json:"detail_url"`

	Title           string `json:"title"`
	SalaryMin       int    `json:"salary_min"`
	SalaryMax       int    `json:"salary_max"`
	SalaryText      string `json:"salary_text"`
	Description     string `json:"description"`
	ExpiryDate      string `json:"expiry_date"`
	EmploymentType  string `json:"employment_type"`
	LocationSummary string `json:"location_summary"`
	IsActive        bool   `json:"is_active"`

	JobType    string `json:"job_type"`
	PostedDate string `json:"posted_date"`

	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// JobCard is the minimal descriptor collected during the enumerate phase
// of the two-phase pipeline: just enough to schedule a detail fetch
// without re-deriving fields from the list page.
type JobCard struct {
	URL         string `json:"url"`
	CompanyName string `json:"company_name"`
	Title       string `json:"title"`
	Rank        string `json:"rank"`
	Position    int    `json:"position"`
}

// Run log statuses.
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
	RunStatusPartial = "partial"
)

// RunLog is the append-only per-source run summary. Field names are fixed:
// downstream reporting reads them as-is.
type RunLog struct {
	ID           int64     `json:"id"`
	ScrapeType   string    `json:"scrape_type"`
	Source       string    `json:"source"`
	TargetURL    string    `json:"target_url"`
	Status       string    `json:"status"`
	JobsFound    int       `json:"jobs_found"`
	NewJobs      int       `json:"new_jobs"`
	UpdatedJobs  int       `json:"updated_jobs"`
	Errors       int       `json:"errors"`
	ErrorMessage string    `json:"error_message"`
	DurationMs   int64     `json:"duration_ms"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// CompanyFromCandidate maps the scraped fields onto a Company row.
// Protected fields other than Phone stay empty: the engine never produces
// them.
func CompanyFromCandidate(c *Candidate) *Company {
	return &Company{
		Name:              c.CompanyName,
		DetailURL:         c.DetailURL,
		Source:            c.Source,
		Address:           c.Address,
		Industry:          c.Industry,
		SalaryText:        c.SalaryText,
		EmployeeCountText: c.EmployeeCountText,
		ContactPerson:     c.ContactPerson,
		Rank:              c.Rank,
		JobType:           c.JobType,
		PostedDate:        c.PostedDate,
		UpdatedDate:       c.UpdatedDate,
		Phone:             c.Phone,
	}
}

// JobFromCandidate maps the scraped fields onto a Job row, deriving the
// source-native job id from the detail URL.
func JobFromCandidate(c *Candidate) *Job {
	return &Job{
		Source:          c.Source,
		SourceJobID:     JobKey(c.Source, c.DetailURL),
		CompanyName:     c.CompanyName,
		DetailURL:       c.DetailURL,
		Title:           c.JobTitle,
		SalaryMin:       c.SalaryMin,
		SalaryMax:       c.SalaryMax,
		SalaryText:      c.SalaryText,
		Description:     c.Description,
		ExpiryDate:      c.ExpiryDate,
		EmploymentType:  c.EmploymentType,
		LocationSummary: c.LocationSummary,
		IsActive:        c.IsActive,
		JobType:         c.JobType,
		PostedDate:      c.PostedDate,
	}
}

// jobIDParams are query parameters job boards commonly use for the
// listing's native id.
var jobIDParams = []string{"id", "jk", "jobid", "job_id", "vacancy"}

// JobKey derives a stable source-native job id from a detail URL: an
// id-style query parameter first, then a trailing numeric path segment,
// then a content hash of source and URL as the last resort.
func JobKey(source, detailURL string) string {
	if u, err := url.Parse(detailURL); err == nil {
		q := u.Query()
		for _, p := range jobIDParams {
			if v := q.Get(p); v != "" {
				return v
			}
		}
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := len(segs) - 1; i >= 0; i-- {
			s := strings.TrimSuffix(segs[i], ".html")
			s = strings.TrimSuffix(s, ".htm")
			// Short numeric segments are usually page numbers, not ids.
			if len(s) >= 4 && isDigits(s) {
				return s
			}
		}
	}
	sum := sha256.Sum256([]byte(source + "|" + detailURL))
	return hex.EncodeToString(sum[:])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MaterialChange reports whether the fields that matter for a full job
// update differ between the stored row and the fresh scrape. Anything
// outside this set only refreshes last_checked_at.
func MaterialChange(old, fresh *Job) bool {
	return old.Title != fresh.Title ||
		old.SalaryMin != fresh.SalaryMin ||
		old.SalaryMax != fresh.SalaryMax ||
		old.SalaryText != fresh.SalaryText ||
		old.Description != fresh.Description ||
		old.ExpiryDate != fresh.ExpiryDate ||
		old.EmploymentType != fresh.EmploymentType ||
		old.LocationSummary != fresh.LocationSummary ||
		old.IsActive != fresh.IsActive
}
