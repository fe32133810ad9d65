package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harvester/internal/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS companies (
  id bigserial PRIMARY KEY,
  name text NOT NULL UNIQUE,
  detail_url text NOT NULL DEFAULT '',
  source text NOT NULL DEFAULT '',
  address text NOT NULL DEFAULT '',
  industry text NOT NULL DEFAULT '',
  salary_text text NOT NULL DEFAULT '',
  employee_count_text text NOT NULL DEFAULT '',
  contact_person text NOT NULL DEFAULT '',
  rank text NOT NULL DEFAULT '',
  job_type text NOT NULL DEFAULT '',
  posted_date text NOT NULL DEFAULT '',
  updated_date text NOT NULL DEFAULT '',
  phone text NOT NULL DEFAULT '',
  status text NOT NULL DEFAULT '',
  notes text NOT NULL DEFAULT '',
  ai_summary text NOT NULL DEFAULT '',
  ai_tags text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now(),
  last_seen_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
  id bigserial PRIMARY KEY,
  source text NOT NULL,
  source_job_id text NOT NULL,
  company_name text NOT NULL,
  detail_url text NOT NULL DEFAULT '',
  title text NOT NULL DEFAULT '',
  salary_min int NOT NULL DEFAULT 0,
  salary_max int NOT NULL DEFAULT 0,
  salary_text text NOT NULL DEFAULT '',
  description text NOT NULL DEFAULT '',
  expiry_date text NOT NULL DEFAULT '',
  employment_type text NOT NULL DEFAULT '',
  location_summary text NOT NULL DEFAULT '',
  is_active boolean NOT NULL DEFAULT true,
  job_type text NOT NULL DEFAULT '',
  posted_date text NOT NULL DEFAULT '',
  first_seen_at timestamptz NOT NULL DEFAULT now(),
  last_checked_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now(),
  UNIQUE (source, source_job_id)
);

CREATE INDEX IF NOT EXISTS jobs_company_name_idx ON jobs (company_name);

CREATE TABLE IF NOT EXISTS scrape_logs (
  id bigserial PRIMARY KEY,
  scrape_type text NOT NULL,
  source text NOT NULL,
  target_url text NOT NULL DEFAULT '',
  status text NOT NULL,
  jobs_found int NOT NULL DEFAULT 0,
  new_jobs int NOT NULL DEFAULT 0,
  updated_jobs int NOT NULL DEFAULT 0,
  errors int NOT NULL DEFAULT 0,
  error_message text NOT NULL DEFAULT '',
  duration_ms bigint NOT NULL DEFAULT 0,
  scraped_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS scrape_logs_scraped_at_idx ON scrape_logs (scraped_at);
`

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, log: logger.New("Store")}
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.log.LogDebug("Schema ensured")
	return nil
}

func (s *Postgres) CompanyNames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM companies`)
	if err != nil {
		return nil, fmt.Errorf("company names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}

const companyColumns = `id, name, detail_url, source, address, industry, salary_text,
	employee_count_text, contact_person, rank, job_type, posted_date, updated_date,
	phone, status, notes, ai_summary, ai_tags, created_at, updated_at, last_seen_at`

func (s *Postgres) GetCompany(ctx context.Context, name string) (*Company, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE name = $1`, name)
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.DetailURL, &c.Source, &c.Address, &c.Industry,
		&c.SalaryText, &c.EmployeeCountText, &c.ContactPerson, &c.Rank, &c.JobType,
		&c.PostedDate, &c.UpdatedDate, &c.Phone, &c.Status, &c.Notes, &c.AISummary,
		&c.AITags, &c.CreatedAt, &c.UpdatedAt, &c.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}

// UpsertCompany is the safe upsert: one round trip that inserts a new row
// or refreshes an existing one. Unprotected columns take the incoming
// value only when it is non-empty; phone only fills an empty column;
// status, notes and the AI fields are never in the SET list at all.
func (s *Postgres) UpsertCompany(ctx context.Context, c *Company) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO companies
  (name, detail_url, source, address, industry, salary_text, employee_count_text,
   contact_person, rank, job_type, posted_date, updated_date, phone)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (name) DO UPDATE SET
  detail_url          = CASE WHEN EXCLUDED.detail_url          <> '' THEN EXCLUDED.detail_url          ELSE companies.detail_url          END,
  source              = CASE WHEN EXCLUDED.source              <> '' THEN EXCLUDED.source              ELSE companies.source              END,
  address             = CASE WHEN EXCLUDED.address             <> '' THEN EXCLUDED.address             ELSE companies.address             END,
  industry            = CASE WHEN EXCLUDED.industry            <> '' THEN EXCLUDED.industry            ELSE companies.industry            END,
  salary_text         = CASE WHEN EXCLUDED.salary_text         <> '' THEN EXCLUDED.salary_text         ELSE companies.salary_text         END,
  employee_count_text = CASE WHEN EXCLUDED.employee_count_text <> '' THEN EXCLUDED.employee_count_text ELSE companies.employee_count_text END,
  contact_person      = CASE WHEN EXCLUDED.contact_person      <> '' THEN EXCLUDED.contact_person      ELSE companies.contact_person      END,
  rank                = CASE WHEN EXCLUDED.rank                <> '' THEN EXCLUDED.rank                ELSE companies.rank                END,
  job_type            = CASE WHEN EXCLUDED.job_type            <> '' THEN EXCLUDED.job_type            ELSE companies.job_type            END,
  posted_date         = CASE WHEN EXCLUDED.posted_date         <> '' THEN EXCLUDED.posted_date         ELSE companies.posted_date         END,
  updated_date        = CASE WHEN EXCLUDED.updated_date        <> '' THEN EXCLUDED.updated_date        ELSE companies.updated_date        END,
  phone               = CASE WHEN companies.phone = '' THEN EXCLUDED.phone ELSE companies.phone END,
  updated_at          = now(),
  last_seen_at        = now()`,
		c.Name, c.DetailURL, c.Source, c.Address, c.Industry, c.SalaryText,
		c.EmployeeCountText, c.ContactPerson, c.Rank, c.JobType, c.PostedDate,
		c.UpdatedDate, c.Phone)
	if err != nil {
		return fmt.Errorf("upsert company %q: %w", c.Name, err)
	}
	return nil
}

func (s *Postgres) SetCompanyPhone(ctx context.Context, name, phone string) error {
	if phone == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE companies SET phone = $2, updated_at = now() WHERE name = $1 AND phone = ''`,
		name, phone)
	if err != nil {
		return fmt.Errorf("set company phone %q: %w", name, err)
	}
	return nil
}

const jobColumns = `id, source, source_job_id, company_name, detail_url, title,
	salary_min, salary_max, salary_text, description, expiry_date, employment_type,
	location_summary, is_active, job_type, posted_date, first_seen_at, last_checked_at, updated_at`

func (s *Postgres) GetJob(ctx context.Context, source, sourceJobID string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE source = $1 AND source_job_id = $2`,
		source, sourceJobID)
	var j Job
	err := row.Scan(&j.ID, &j.Source, &j.SourceJobID, &j.CompanyName, &j.DetailURL,
		&j.Title, &j.SalaryMin, &j.SalaryMax, &j.SalaryText, &j.Description,
		&j.ExpiryDate, &j.EmploymentType, &j.LocationSummary, &j.IsActive,
		&j.JobType, &j.PostedDate, &j.FirstSeenAt, &j.LastCheckedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// UpsertJob reads the current row, then inserts, fully updates or merely
// touches last_checked_at. The read-compare-write is safe because the
// coordinator never lets two workers hold the same job key at once.
func (s *Postgres) UpsertJob(ctx context.Context, j *Job) (JobOutcome, error) {
	existing, err := s.GetJob(ctx, j.Source, j.SourceJobID)
	if err != nil {
		return JobTouched, err
	}

	if existing == nil {
		_, err := s.pool.Exec(ctx, `
INSERT INTO jobs
  (source, source_job_id, company_name, detail_url, title, salary_min, salary_max,
   salary_text, description, expiry_date, employment_type, location_summary,
   is_active, job_type, posted_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			j.Source, j.SourceJobID, j.CompanyName, j.DetailURL, j.Title,
			j.SalaryMin, j.SalaryMax, j.SalaryText, j.Description, j.ExpiryDate,
			j.EmploymentType, j.LocationSummary, j.IsActive, j.JobType, j.PostedDate)
		if err != nil {
			return JobTouched, fmt.Errorf("insert job %s/%s: %w", j.Source, j.SourceJobID, err)
		}
		return JobInserted, nil
	}

	if MaterialChange(existing, j) {
		_, err := s.pool.Exec(ctx, `
UPDATE jobs SET
  company_name = $3, detail_url = $4, title = $5, salary_min = $6, salary_max = $7,
  salary_text = $8, description = $9, expiry_date = $10, employment_type = $11,
  location_summary = $12, is_active = $13, job_type = $14, posted_date = $15,
  last_checked_at = now(), updated_at = now()
WHERE source = $1 AND source_job_id = $2`,
			j.Source, j.SourceJobID, j.CompanyName, j.DetailURL, j.Title,
			j.SalaryMin, j.SalaryMax, j.SalaryText, j.Description, j.ExpiryDate,
			j.EmploymentType, j.LocationSummary, j.IsActive, j.JobType, j.PostedDate)
		if err != nil {
			return JobTouched, fmt.Errorf("update job %s/%s: %w", j.Source, j.SourceJobID, err)
		}
		return JobUpdated, nil
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE jobs SET last_checked_at = now() WHERE source = $1 AND source_job_id = $2`,
		j.Source, j.SourceJobID)
	if err != nil {
		return JobTouched, fmt.Errorf("touch job %s/%s: %w", j.Source, j.SourceJobID, err)
	}
	return JobTouched, nil
}

func (s *Postgres) InsertRunLog(ctx context.Context, l *RunLog) error {
	scrapedAt := l.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO scrape_logs
  (scrape_type, source, target_url, status, jobs_found, new_jobs, updated_jobs,
   errors, error_message, duration_ms, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ScrapeType, l.Source, l.TargetURL, l.Status, l.JobsFound, l.NewJobs,
		l.UpdatedJobs, l.Errors, l.ErrorMessage, l.DurationMs, scrapedAt)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}
