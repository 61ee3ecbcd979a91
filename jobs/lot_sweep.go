package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/obralink/obralink/internal/procurement"
)

// LotSweeper releases lots that sat open longer than the configured age.
type LotSweeper struct {
	service *procurement.Service
	logger  *slog.Logger
	maxAge  time.Duration
}

// NewLotSweeper constructs the sweep handler.
func NewLotSweeper(service *procurement.Service, logger *slog.Logger, maxAge time.Duration) *LotSweeper {
	return &LotSweeper{service: service, logger: logger, maxAge: maxAge}
}

// Handle processes TaskLotSweep tasks.
func (s *LotSweeper) Handle(ctx context.Context, t *asynq.Task) error {
	maxAge := s.maxAge
	var payload LotSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.MaxAgeHours > 0 {
			maxAge = time.Duration(payload.MaxAgeHours) * time.Hour
		}
	}
	released, err := s.service.ReleaseStaleLots(ctx, maxAge)
	if err != nil {
		return err
	}
	if released > 0 {
		s.logger.Info("lot sweep", slog.Int("released", released))
	}
	return nil
}

// BoardWarmer pre-computes the lot board so the first request after an
// invalidation does not pay the load cost.
type BoardWarmer struct {
	service *procurement.Service
	logger  *slog.Logger
}

// NewBoardWarmer constructs the warmup handler.
func NewBoardWarmer(service *procurement.Service, logger *slog.Logger) *BoardWarmer {
	return &BoardWarmer{service: service, logger: logger}
}

// Handle processes TaskBoardWarmup tasks.
func (w *BoardWarmer) Handle(ctx context.Context, t *asynq.Task) error {
	if _, err := w.service.LotBoard(ctx); err != nil {
		w.logger.Warn("board warmup", slog.Any("error", err))
		return err
	}
	return nil
}
