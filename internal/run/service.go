// Package run mirrors engine runs into redis so API clients can create,
// poll, confirm and stop scrapes without holding a connection open.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"harvester/internal/engine"
	"harvester/internal/logger"
	rds "harvester/internal/platform/redis"
	"harvester/internal/platform/tasks"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ErrNoSources rejects a run request that names nothing to scrape.
var ErrNoSources = errors.New("at least one source is required")

type Service struct {
	redis  *rds.Service
	tasks  *tasks.Client
	engine *engine.Engine
	log    *logger.Logger
}

func NewService(redis *rds.Service, tasks *tasks.Client, eng *engine.Engine) *Service {
	return &Service{redis: redis, tasks: tasks, engine: eng, log: logger.New("RunService")}
}

func key(id string) string     { return "scrape:run:" + id }
func channel(id string) string { return "scrape:updates:" + id }

const latestKey = "scrape:run:latest"

// Terminal snapshots stay readable for an hour; an active run refreshes
// its TTL on every update anyway.
func ttl(s Status) int {
	if s == StatusCompleted || s == StatusFailed {
		return 3600
	}
	return 600
}

// save writes the snapshot, refreshes the latest pointer and publishes an
// update event for live listeners. Runs on a detached context so terminal
// states still land when the task context is already cancelled.
func (s *Service) save(r *Run) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.UpdatedAt = time.Now()
	if err := s.redis.CacheSet(ctx, key(r.ID), r, ttl(r.Status)); err != nil {
		return err
	}
	_ = s.redis.Client().Set(ctx, latestKey, r.ID, time.Duration(ttl(r.Status))*time.Second).Err()
	_ = s.redis.Client().Publish(ctx, channel(r.ID), string(r.Status)).Err()
	return nil
}

// Enqueue validates the request, records the pending run and schedules
// the asynq task. The engine's single-flight check still guards the
// worker; this pre-check just fails fast at the API edge.
func (s *Service) Enqueue(ctx context.Context, opts engine.Options) (string, error) {
	if len(opts.Sources) == 0 {
		return "", ErrNoSources
	}
	if s.engine.Running() {
		return "", engine.ErrAlreadyRunning
	}

	id := uuid.New().String()
	now := time.Now()
	r := Run{ID: id, Status: StatusPending, Options: opts, CreatedAt: now}
	if err := s.save(&r); err != nil {
		return "", fmt.Errorf("store pending run: %w", err)
	}

	payload, _ := json.Marshal(taskPayload{RunID: id, Options: opts})
	task := asynq.NewTask(tasks.TaskTypeScrapeRun, payload)
	// maxRetry 0: a failed run is a failed run. Re-firing a side-effecting
	// scrape behind the caller's back is worse than surfacing the failure.
	if err := s.tasks.Enqueue(task, tasks.QueueScrapes, 0); err != nil {
		return "", fmt.Errorf("enqueue scrape task: %w", err)
	}

	s.log.LogInfof("Enqueued scrape run %s: sources=%v jobTypes=%v", id, opts.Sources, opts.JobTypes)
	return id, nil
}

// Get loads a run snapshot. The id "latest" resolves through the pointer
// key to the most recently updated run.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	if id == "latest" {
		resolved, err := s.redis.Client().Get(ctx, latestKey).Result()
		if err != nil {
			return nil, fmt.Errorf("no runs recorded")
		}
		id = resolved
	}
	var r Run
	if err := s.redis.CacheGet(ctx, key(id), &r); err != nil {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return &r, nil
}

// Confirm resolves the pending confirmation gate of the active run.
func (s *Service) Confirm(ctx context.Context, id string, proceed bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.engine.Confirm(proceed); err != nil {
		return err
	}
	s.log.LogInfof("Run %s confirmation: proceed=%v", id, proceed)
	return nil
}

// Stop cancels the active run. Idempotent; stopping a finished run is a
// no-op.
func (s *Service) Stop(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	s.engine.Stop()
	s.log.LogInfof("Run %s stop requested", id)
	return nil
}

// HandleScrapeRunTask is the asynq handler for scrape:run tasks.
func (s *Service) HandleScrapeRunTask(ctx context.Context, task *asynq.Task) error {
	var p taskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal scrape task: %w", err)
	}
	s.log.LogInfof("Processing scrape run %s", p.RunID)
	s.Execute(ctx, p.RunID, p.Options)
	// The run's outcome lives in its snapshot and run logs; the task
	// itself never retries, so it reports success either way.
	return nil
}

// Execute runs the engine synchronously, mirroring progress and log lines
// into the run snapshot as they happen.
func (s *Service) Execute(ctx context.Context, id string, opts engine.Options) engine.Result {
	state, err := s.Get(ctx, id)
	if err != nil {
		now := time.Now()
		state = &Run{ID: id, Status: StatusPending, Options: opts, CreatedAt: now}
	}

	// Hooks fire concurrently from per-source pipelines; updates are
	// serialized so snapshots never interleave.
	var mu sync.Mutex
	update := func(mutate func(*Run)) {
		mu.Lock()
		defer mu.Unlock()
		mutate(state)
		if err := s.save(state); err != nil {
			s.log.LogWarnf("Failed to store run %s snapshot: %v", id, err)
		}
	}

	update(func(r *Run) { r.Status = StatusRunning })

	hooks := engine.Hooks{
		OnProgress: func(p engine.Progress) {
			update(func(r *Run) {
				snapshot := p
				r.Progress = &snapshot
				if p.WaitingConfirmation {
					r.Status = StatusWaitingConfirmation
				} else if r.Status == StatusWaitingConfirmation {
					r.Status = StatusRunning
				}
			})
		},
		OnLog: func(line string) {
			update(func(r *Run) {
				r.Logs = appendLog(r.Logs, time.Now().Format("15:04:05")+" "+line)
			})
		},
	}

	res := s.engine.Run(ctx, opts, hooks)

	update(func(r *Run) {
		result := res
		r.Result = &result
		if res.Success {
			r.Status = StatusCompleted
		} else {
			r.Status = StatusFailed
		}
	})
	return res
}
