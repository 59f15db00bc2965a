package tick

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler triggers a tick on a fixed wall-clock period.
type Scheduler struct {
	engine *Engine
	every  time.Duration
	logger *slog.Logger
}

// NewScheduler creates a Scheduler running engine every period.
func NewScheduler(engine *Engine, every time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{engine: engine, every: every, logger: logger}
}

// Run ticks until ctx is cancelled. A failed tick is logged and the next
// one runs on schedule; there is no catch-up for missed periods.
// Cancelling ctx does not interrupt a tick in flight: Run returns once it
// has committed or failed.
func (s *Scheduler) Run(ctx context.Context) {
	if s.every <= 0 {
		s.logger.Warn("tick scheduler disabled", "every", s.every)
		return
	}
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	s.logger.Info("tick scheduler started", "every", s.every)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tick scheduler stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				s.logger.Info("tick scheduler stopped")
				return
			}
			s.once(ctx)
		}
	}
}

func (s *Scheduler) once(ctx context.Context) {
	_, err := s.engine.RunTick(context.WithoutCancel(ctx))
	switch {
	case err == nil:
	case errors.Is(err, ErrTickInProgress):
		s.logger.Warn("scheduled tick skipped, previous tick still running")
	default:
		s.logger.Error("market tick failed", "err", err)
	}
}
