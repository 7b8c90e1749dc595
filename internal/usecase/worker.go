package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

// Worker resumes long-running jobs from queued continuations.
type Worker struct {
	queue     ports.ContinuationQueue
	jobs      ports.ScrapeJobRepository
	scrape    *ScrapeEngine
	vectorize *VectorizeEngine
	logger    *slog.Logger
}

// NewWorker wires the queue with both engines.
func NewWorker(queue ports.ContinuationQueue, jobs ports.ScrapeJobRepository, scrape *ScrapeEngine, vectorize *VectorizeEngine, logger *slog.Logger) *Worker {
	return &Worker{
		queue:     queue,
		jobs:      jobs,
		scrape:    scrape,
		vectorize: vectorize,
		logger:    componentLogger(logger, "worker"),
	}
}

// Run consumes continuations until ctx is cancelled or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	if w.queue == nil {
		return nil
	}
	w.logger.Info("continuation worker started")
	defer w.logger.Info("continuation worker stopped")
	return w.queue.Consume(ctx, w.Handle)
}

// Handle processes one continuation. Stale or duplicate deliveries are dropped.
func (w *Worker) Handle(ctx context.Context, c domain.Continuation) error {
	log := w.logger.With("kind", c.Kind, "key", c.Key(), "offset", c.Offset)

	var err error
	switch c.Kind {
	case domain.ContinueScrape:
		err = w.handleScrape(ctx, log, c)
	case domain.ContinueVectorize:
		_, err = w.vectorize.Run(ctx, VectorizeRequest{
			BatchSize:     c.BatchSize,
			AutoScheduled: c.AutoScheduled,
			ScheduleName:  c.ScheduleName,
		})
	default:
		return fmt.Errorf("%w: unknown continuation kind %q", domain.ErrInvalidInput, c.Kind)
	}

	if errors.Is(err, domain.ErrJobBusy) {
		log.Debug("continuation dropped, job busy")
		return nil
	}
	return err
}

func (w *Worker) handleScrape(ctx context.Context, log *slog.Logger, c domain.Continuation) error {
	job, err := w.jobs.Get(ctx, c.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("continuation for unknown job dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", c.JobID, err)
	}
	if job.Status.Terminal() {
		log.Debug("continuation for finished job dropped", "status", job.Status)
		return nil
	}
	if job.Cursor() != c.Offset {
		log.Debug("stale continuation dropped", "cursor", job.Cursor())
		return nil
	}

	_, err = w.scrape.StartOrResume(ctx, c.JobID, c.BatchSize)
	return err
}
