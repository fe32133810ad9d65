// Package source defines the contract an extraction module satisfies for
// one external job-listing site, plus the registry the engine resolves
// requested source names against.
//
// A module only has to stream candidates (Module). Everything else is an
// optional capability the engine discovers by type assertion: modules that
// also collect link descriptors and fetch details one by one qualify for
// the two-phase parallel pipeline; the rest run on the sequential path.
package source

import (
	"context"

	"harvester/internal/browser"
	"harvester/internal/store"
)

// Params carry one sub-run's bound query facets. JobType is always a
// single value: the engine expands multi-valued job-type requests into
// sequential sub-runs before any module sees them.
type Params struct {
	Keywords      string `json:"keywords"`
	Location      string `json:"location"`
	Region        string `json:"region"`
	JobType       string `json:"job_type"`
	MinSalary     int    `json:"min_salary"`
	EmployeeRange string `json:"employee_range"`
	MaxPages      int    `json:"max_pages"`
}

// Callbacks let a module report back while it works. Emit pushes one
// candidate to the engine and returns an error when the engine wants
// enumeration to stop. Logf and ReportTotal are optional; use the Log and
// Total helpers, which tolerate nil.
type Callbacks struct {
	Emit        func(*store.Candidate) error
	Logf        func(format string, args ...interface{})
	ReportTotal func(total int)
}

func (cb Callbacks) Log(format string, args ...interface{}) {
	if cb.Logf != nil {
		cb.Logf(format, args...)
	}
}

func (cb Callbacks) Total(n int) {
	if cb.ReportTotal != nil {
		cb.ReportTotal(n)
	}
}

// Module is the minimum contract: enumerate the site's listings for the
// bound params and extract full candidates one at a time, emitting each
// through cb.Emit. Implementations must return promptly once ctx is
// cancelled or Emit returns an error, and must tolerate early termination.
type Module interface {
	Source() string
	EnumerateAndExtract(ctx context.Context, sess browser.Session, params Params, cb Callbacks) error
}

// LinkCollector enumerates cheap link descriptors from the list pages
// without visiting any detail page.
type LinkCollector interface {
	CollectLinks(ctx context.Context, sess browser.Session, params Params, cb Callbacks) ([]store.JobCard, error)
}

// DetailFetcher turns one collected descriptor into a full candidate. A
// nil candidate with a nil error means the page yielded no usable record.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, sess browser.Session, card store.JobCard, logf func(format string, args ...interface{})) (*store.Candidate, error)
}

// TotalCounter probes the site-reported total result count, when the site
// exposes one. Zero with a nil error means unknown.
type TotalCounter interface {
	TotalCount(ctx context.Context, sess browser.Session, params Params) (int, error)
}

// LoginAware modules need an authenticated session before enumeration.
type LoginAware interface {
	Login(ctx context.Context, sess browser.Session) error
}
