package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-memory Store. It backs tests and local
// runs without a DATABASE_URL; nothing survives a restart.
type Memory struct {
	mu        sync.Mutex
	companies map[string]*Company
	jobs      map[string]*Job
	runLogs   []RunLog
	nextID    int64
}

func NewMemory() *Memory {
	return &Memory{
		companies: make(map[string]*Company),
		jobs:      make(map[string]*Job),
		nextID:    1,
	}
}

func (m *Memory) EnsureSchema(ctx context.Context) error { return nil }

func (m *Memory) CompanyNames(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make(map[string]struct{}, len(m.companies))
	for name := range m.companies {
		names[name] = struct{}{}
	}
	return names, nil
}

func (m *Memory) GetCompany(ctx context.Context, name string) (*Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[name]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpsertCompany(ctx context.Context, c *Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()

	existing, ok := m.companies[c.Name]
	if !ok {
		cp := *c
		cp.ID = m.nextID
		m.nextID++
		cp.CreatedAt = now
		cp.UpdatedAt = now
		cp.LastSeenAt = now
		m.companies[cp.Name] = &cp
		return nil
	}

	setNonEmpty(&existing.DetailURL, c.DetailURL)
	setNonEmpty(&existing.Source, c.Source)
	setNonEmpty(&existing.Address, c.Address)
	setNonEmpty(&existing.Industry, c.Industry)
	setNonEmpty(&existing.SalaryText, c.SalaryText)
	setNonEmpty(&existing.EmployeeCountText, c.EmployeeCountText)
	setNonEmpty(&existing.ContactPerson, c.ContactPerson)
	setNonEmpty(&existing.Rank, c.Rank)
	setNonEmpty(&existing.JobType, c.JobType)
	setNonEmpty(&existing.PostedDate, c.PostedDate)
	setNonEmpty(&existing.UpdatedDate, c.UpdatedDate)

	// Protected: first non-empty value wins, scrapes never overwrite.
	if existing.Phone == "" {
		existing.Phone = c.Phone
	}
	if existing.Status == "" {
		existing.Status = c.Status
	}
	if existing.Notes == "" {
		existing.Notes = c.Notes
	}
	if existing.AISummary == "" {
		existing.AISummary = c.AISummary
	}
	if existing.AITags == "" {
		existing.AITags = c.AITags
	}

	existing.UpdatedAt = now
	existing.LastSeenAt = now
	return nil
}

func (m *Memory) SetCompanyPhone(ctx context.Context, name, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[name]
	if !ok || c.Phone != "" || phone == "" {
		return nil
	}
	c.Phone = phone
	c.UpdatedAt = time.Now()
	return nil
}

func jobMapKey(source, sourceJobID string) string { return source + "\x00" + sourceJobID }

func (m *Memory) GetJob(ctx context.Context, source, sourceJobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobMapKey(source, sourceJobID)]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) UpsertJob(ctx context.Context, j *Job) (JobOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()

	key := jobMapKey(j.Source, j.SourceJobID)
	existing, ok := m.jobs[key]
	if !ok {
		cp := *j
		cp.ID = m.nextID
		m.nextID++
		cp.FirstSeenAt = now
		cp.LastCheckedAt = now
		cp.UpdatedAt = now
		m.jobs[key] = &cp
		return JobInserted, nil
	}

	if MaterialChange(existing, j) {
		id, firstSeen := existing.ID, existing.FirstSeenAt
		cp := *j
		cp.ID = id
		cp.FirstSeenAt = firstSeen
		cp.LastCheckedAt = now
		cp.UpdatedAt = now
		m.jobs[key] = &cp
		return JobUpdated, nil
	}

	existing.LastCheckedAt = now
	return JobTouched, nil
}

func (m *Memory) InsertRunLog(ctx context.Context, l *RunLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	cp.ID = m.nextID
	m.nextID++
	if cp.ScrapedAt.IsZero() {
		cp.ScrapedAt = time.Now()
	}
	m.runLogs = append(m.runLogs, cp)
	return nil
}

// RunLogs returns a copy of the appended run logs, newest last.
func (m *Memory) RunLogs() []RunLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunLog, len(m.runLogs))
	copy(out, m.runLogs)
	return out
}

// CompanyCount reports the number of distinct persisted companies.
func (m *Memory) CompanyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.companies)
}

// JobCount reports the number of distinct persisted jobs.
func (m *Memory) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func setNonEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
