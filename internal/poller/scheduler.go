package poller

import (
	"context"
	"log/slog"
	"time"
)

// Cycle is one full sweep over all accounts
type Cycle interface {
	RunCycle(ctx context.Context) error
}

// Scheduler drives polling cycles on an interval and on demand
type Scheduler struct {
	cycle     Cycle
	interval  time.Duration
	triggerCh chan struct{}
	logger    *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(cycle Cycle, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		cycle:     cycle,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
		logger:    logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is done. A cycle runs immediately, then on every tick
// and every Trigger. Cycles never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.triggerCh:
			s.runCycle(ctx)
		}
	}
}

// Trigger requests an extra cycle as soon as the current one finishes
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
		// A cycle is already queued
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if err := s.cycle.RunCycle(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("poll cycle failed", "error", err)
	}
}
