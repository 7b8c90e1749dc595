package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

// Scheduler wires the ticker driver with due vectorization schedules and stale-job recovery.
type Scheduler struct {
	driver     ports.Scheduler
	schedules  ports.ScheduleRepository
	vectorize  *VectorizeEngine
	scrape     *ScrapeEngine
	batchSizes map[string]int
	staleAfter time.Duration
	logger     *slog.Logger
}

// SchedulerDeps groups Scheduler collaborators.
type SchedulerDeps struct {
	Driver     ports.Scheduler
	Schedules  ports.ScheduleRepository
	Vectorize  *VectorizeEngine
	Scrape     *ScrapeEngine
	BatchSizes map[string]int
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	return &Scheduler{
		driver:     deps.Driver,
		schedules:  deps.Schedules,
		vectorize:  deps.Vectorize,
		scrape:     deps.Scrape,
		batchSizes: deps.BatchSizes,
		staleAfter: deps.StaleAfter,
		logger:     componentLogger(deps.Logger, "scheduler"),
	}
}

// Start registers Tick with the provided driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.Tick(ctx, trigger)
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

// Tick runs every due schedule, then closes abandoned scrape jobs.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if s.schedules != nil && s.vectorize != nil {
		s.runDue(ctx, now)
	}
	if s.scrape != nil {
		if n, err := s.scrape.RecoverStale(ctx, s.staleAfter, domain.JobFailed); err != nil {
			s.logger.Error("recover stale jobs", "error", err)
		} else if n > 0 {
			s.logger.Info("stale jobs recovered", "count", n)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	schedules, err := s.schedules.List(ctx)
	if err != nil {
		s.logger.Error("list schedules", "error", err)
		return
	}

	for _, schedule := range schedules {
		if !schedule.Due(now) {
			continue
		}
		log := s.logger.With("schedule", schedule.Name)
		result, err := s.vectorize.Run(ctx, VectorizeRequest{
			BatchSize:     s.batchSizes[schedule.Name],
			AutoScheduled: true,
			ScheduleName:  schedule.Name,
		})
		switch {
		case errors.Is(err, domain.ErrJobBusy):
			log.Debug("vectorization already running")
		case err != nil:
			log.Error("scheduled vectorization", "error", err)
		default:
			log.Info("scheduled vectorization", "processed", result.Processed, "failed", result.Failed, "remaining", result.Remaining)
		}
	}
}
