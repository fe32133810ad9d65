package engine

import (
	"errors"
	"time"
)

// Sentinel errors surfaced through the control API.
var (
	// ErrAlreadyRunning rejects a second Run while one is in flight.
	ErrAlreadyRunning = errors.New("scrape already running")
	// ErrNotWaiting rejects a Confirm when no gate is pending.
	ErrNotWaiting = errors.New("no scrape waiting for confirmation")
	// ErrStopped reports a run ended by Stop before it could finish.
	ErrStopped = errors.New("scrape stopped")

	// errDeclined ends a parallel pipeline when the gate resolves as
	// "do not proceed". It is not a failure and never triggers the
	// sequential fallback.
	errDeclined = errors.New("confirmation declined")
)

// Options describe one scrape run as requested by the caller. Zero values
// fall back to the engine's configured defaults.
type Options struct {
	// Sources are registry names. Unknown names are logged and skipped.
	Sources []string `json:"sources"`

	Keywords string `json:"keywords,omitempty"`
	Location string `json:"location,omitempty"`
	Region   string `json:"region,omitempty"`

	// JobTypes expand into sequential single-facet sub-runs: several of
	// the boards cannot encode more than one job type in a query.
	JobTypes []string `json:"job_types,omitempty"`

	// RankFilter keeps only cards whose budget rank is listed. Empty
	// means no rank filtering.
	RankFilter []string `json:"rank_filter,omitempty"`

	MinSalary     int    `json:"min_salary,omitempty"`
	EmployeeRange string `json:"employee_range,omitempty"`

	Workers  int `json:"workers,omitempty"`
	MaxPages int `json:"max_pages,omitempty"`

	// SkipConfirm resolves every confirmation gate immediately. Set for
	// cron-scheduled unattended runs.
	SkipConfirm bool `json:"skip_confirm,omitempty"`
}

// Hooks receive the engine's event stream. Both callbacks are optional
// and are invoked serially per event; keep them fast.
type Hooks struct {
	OnProgress func(Progress)
	OnLog      func(line string)
}

func (h Hooks) log(line string) {
	if h.OnLog != nil {
		h.OnLog(line)
	}
}

// Progress is one combined snapshot across every source of the current
// sub-run, emitted on every update from any of them.
type Progress struct {
	Current   int `json:"current"`
	Total     int `json:"total"`
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`

	// TotalJobs is the site-reported result count, when any source
	// exposes one. Zero means unknown.
	TotalJobs int `json:"total_jobs,omitempty"`

	EstimatedMinutes float64 `json:"estimated_minutes,omitempty"`

	// WaitingConfirmation is set while any source blocks on its gate.
	WaitingConfirmation bool `json:"waiting_confirmation,omitempty"`

	PerSource map[string]SourceProgress `json:"per_source,omitempty"`
}

// SourceProgress is one source's slice of a combined snapshot.
type SourceProgress struct {
	Status    string `json:"status"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	New       int    `json:"new"`
	Duplicate int    `json:"duplicate"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	TotalJobs int    `json:"total_jobs,omitempty"`

	EstimatedMinutes    float64 `json:"estimated_minutes,omitempty"`
	WaitingConfirmation bool    `json:"waiting_confirmation,omitempty"`
}

// Per-source pipeline statuses shown in progress snapshots.
const (
	sourceStatusCollecting = "collecting"
	sourceStatusWaiting    = "waiting_confirmation"
	sourceStatusFetching   = "fetching"
	sourceStatusFallback   = "sequential_fallback"
	sourceStatusDone       = "done"
	sourceStatusFailed     = "failed"
	sourceStatusDeclined   = "declined"
	sourceStatusStopped    = "stopped"
)

// Result is the terminal outcome of one Run.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	Found     int `json:"found"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Duplicate int `json:"duplicate"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`

	Duration time.Duration `json:"duration_ms"`
}

// Config carries the engine's tunables. Zero values take the defaults
// below, so a zero Config is usable in tests.
type Config struct {
	Workers       int
	MaxPages      int
	PageTimeoutMs int
	PolitenessMs  int
	StaggerMs     int
	MaxRetries    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 5
	}
	if c.PageTimeoutMs <= 0 {
		c.PageTimeoutMs = 10000
	}
	if c.PolitenessMs < 0 {
		c.PolitenessMs = 0
	}
	if c.StaggerMs < 0 {
		c.StaggerMs = 0
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}
