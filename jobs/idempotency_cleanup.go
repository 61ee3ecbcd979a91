package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/obralink/obralink/internal/shared"
)

// IdempotencyCleaner prunes expired idempotency keys.
type IdempotencyCleaner struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
	ttl    time.Duration
}

// NewIdempotencyCleaner constructs the cleanup handler.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, logger *slog.Logger, ttl time.Duration) *IdempotencyCleaner {
	return &IdempotencyCleaner{store: store, logger: logger, ttl: ttl}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	ttl := c.ttl
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.TTLHours > 0 {
			ttl = time.Duration(payload.TTLHours) * time.Hour
		}
	}
	if err := c.store.Cleanup(ctx, ttl); err != nil {
		c.logger.Warn("idempotency cleanup", slog.Any("error", err))
		return err
	}
	return nil
}
