// Package scheduler drives periodic catalog work on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fanunits/market-engine/internal/model"
)

// Ticker applies one simulator tick to the catalog.
type Ticker interface {
	SimulatorTick(ctx context.Context) ([]model.Instrument, error)
}

// Scheduler manages the cron tasks.
type Scheduler struct {
	Cron    *cron.Cron
	Catalog Ticker
	Ctx     context.Context
	Timeout time.Duration
}

// NewScheduler creates a scheduler with seconds-resolution cron specs.
func NewScheduler(ctx context.Context, cat Ticker) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Catalog: cat,
		Ctx:     ctx,
		Timeout: 30 * time.Second,
	}
}

// Register adds the simulator tick on the given cron spec.
func (s *Scheduler) Register(simulatorCron string) error {
	if _, err := s.Cron.AddFunc(simulatorCron, s.simulatorTask); err != nil {
		return fmt.Errorf("register simulator task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	slog.Info("scheduler started", "entries", len(s.Cron.Entries()))
}

// Stop stops the cron scheduler and waits for a running task to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// RunNow executes the simulator tick immediately (used at start-up).
func (s *Scheduler) RunNow() {
	s.simulatorTask()
}

func (s *Scheduler) simulatorTask() {
	ctx, cancel := context.WithTimeout(s.Ctx, s.Timeout)
	defer cancel()

	changed, err := s.Catalog.SimulatorTick(ctx)
	if err != nil {
		slog.Error("simulator tick failed", "err", err)
		return
	}
	slog.Info("simulator tick applied", "changed", len(changed))
}
