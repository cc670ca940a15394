package engine

import (
	"context"
	"time"

	"github.com/liamcoop/salesaudit/internal/logger"
)

// Passer runs a pass
type Passer interface {
	RunPass(ctx context.Context, req PassRequest) (*PassResult, error)
}

// Scheduler runs a persisting pass over a trailing window on a fixed interval
type Scheduler struct {
	passer   Passer
	interval time.Duration
	lookback time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler
func NewScheduler(passer Passer, interval, lookback time.Duration) *Scheduler {
	return &Scheduler{passer: passer, interval: interval, lookback: lookback, now: time.Now}
}

// Run executes one pass immediately and then one per interval until ctx ends.
// Pass errors are logged; the schedule keeps going.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("scheduler started", "interval", s.interval.String(), "lookback", s.lookback.String())
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	to := s.now()
	res, err := s.passer.RunPass(ctx, PassRequest{From: to.Add(-s.lookback), To: to})
	if err != nil {
		logger.Error("scheduled pass failed", "error", err)
		return
	}
	logger.Info("scheduled pass completed", "run_id", res.RunID, "violations", res.Count, "persisted", res.Persisted)
}
