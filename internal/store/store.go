package store

import "context"

// JobOutcome classifies what UpsertJob did with the row.
type JobOutcome int

const (
	JobInserted JobOutcome = iota
	JobUpdated
	JobTouched
)

func (o JobOutcome) String() string {
	switch o {
	case JobInserted:
		return "inserted"
	case JobUpdated:
		return "updated"
	case JobTouched:
		return "touched"
	}
	return "unknown"
}

// Store is the persistence contract the engine writes through. Every call
// blocks; the engine treats each one as a suspension point. Implementations
// must be safe for concurrent use across different identity keys; the
// coordinator guarantees the same key is never written concurrently.
type Store interface {
	// EnsureSchema creates missing tables and indexes. A no-op for
	// backends that have nothing to bootstrap.
	EnsureSchema(ctx context.Context) error

	// CompanyNames bulk-reads every persisted company name. The engine
	// seeds its in-run dedup cache from this exactly once per run.
	CompanyNames(ctx context.Context) (map[string]struct{}, error)

	// GetCompany returns the row for an exact name, or nil when absent.
	GetCompany(ctx context.Context, name string) (*Company, error)

	// UpsertCompany inserts the company or refreshes an existing row.
	// Unprotected fields update only from non-empty incoming values;
	// protected fields never change once set; the seen timestamps always
	// refresh.
	UpsertCompany(ctx context.Context, c *Company) error

	// SetCompanyPhone patches the phone in only when the stored value is
	// still empty. Used by the async enrichment path.
	SetCompanyPhone(ctx context.Context, name, phone string) error

	// GetJob returns the row for (source, sourceJobID), or nil when absent.
	GetJob(ctx context.Context, source, sourceJobID string) (*Job, error)

	// UpsertJob inserts a new row, fully updates on material change, or
	// touches last_checked_at when nothing material differs.
	UpsertJob(ctx context.Context, j *Job) (JobOutcome, error)

	// InsertRunLog appends one per-source run summary.
	InsertRunLog(ctx context.Context, l *RunLog) error
}
