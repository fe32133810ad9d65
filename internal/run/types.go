package run

import (
	"time"

	"harvester/internal/engine"
)

// Status of one scrape run, as exposed to API clients.
type Status string

const (
	StatusPending             Status = "pending"
	StatusRunning             Status = "running"
	StatusWaitingConfirmation Status = "waiting_confirmation"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
)

// Run is the redis-cached snapshot of one scrape run. The engine itself
// holds no run history; this is the only externally visible state.
type Run struct {
	ID      string         `json:"run_id"`
	Status  Status         `json:"status"`
	Options engine.Options `json:"options"`

	Progress *engine.Progress `json:"progress,omitempty"`
	Logs     []string         `json:"logs,omitempty"`
	Result   *engine.Result   `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// logRingCap bounds the per-run log tail kept in redis.
const logRingCap = 200

func appendLog(logs []string, line string) []string {
	logs = append(logs, line)
	if len(logs) > logRingCap {
		logs = logs[len(logs)-logRingCap:]
	}
	return logs
}

// taskPayload travels through asynq from Enqueue to the worker.
type taskPayload struct {
	RunID   string         `json:"run_id"`
	Options engine.Options `json:"options"`
}
