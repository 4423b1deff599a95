// Package sched runs the lifecycle on a cron schedule.
//
// The real workflow scheduler stays external; this is the thin timer the
// serve command uses for standalone deployments. Overlap protection is
// the run lease, not the scheduler: a tick that fires while a run still
// holds the lease fails fast and waits for the next tick.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// RunFunc executes one lifecycle run.
type RunFunc func(ctx context.Context) error

// Scheduler triggers runs at cron intervals, e.g. "*/5 * * * *" for the
// original five-minute cadence.
type Scheduler struct {
	schedule string
	run      RunFunc
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// New creates a scheduler for the given cron expression.
func New(schedule string, run RunFunc) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		run:      run,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Start validates the expression and begins ticking. It returns
// immediately; runs happen on the cron goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		return fmt.Errorf("no schedule configured")
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.tick(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule runs: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Info("starting scheduled run")
	if err := s.run(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
		return
	}
	s.logger.Info("scheduled run completed")
}

// Stop halts ticking and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for a running job to finish
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is ticking.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
