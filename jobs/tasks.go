package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLotSweep releases stale open lots back to the pool.
	TaskLotSweep = "procurement:lot_sweep"
	// TaskBoardWarmup pre-computes the lot board projection.
	TaskBoardWarmup = "procurement:board_warmup"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// LotSweepPayload contains options for the lot sweep job.
type LotSweepPayload struct {
	MaxAgeHours int `json:"max_age_hours"`
}

// NewLotSweepTask builds a lot sweep task.
func NewLotSweepTask(maxAgeHours int) (*asynq.Task, error) {
	body, err := json.Marshal(LotSweepPayload{MaxAgeHours: maxAgeHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLotSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewBoardWarmupTask builds a board warmup task.
func NewBoardWarmupTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskBoardWarmup, nil, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload contains options for the cleanup job.
type IdempotencyCleanupPayload struct {
	TTLHours int `json:"ttl_hours"`
}

// NewIdempotencyCleanupTask builds an idempotency cleanup task.
func NewIdempotencyCleanupTask(ttlHours int) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{TTLHours: ttlHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
