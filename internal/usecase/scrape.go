package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

const (
	defaultScrapeBatch       = 20
	maxScrapeBatch           = 50
	defaultScrapeConcurrency = 5
	defaultStaleAfter        = 30 * time.Minute
)

// ScrapeDeps wires the driven adapters of the scrape engine.
type ScrapeDeps struct {
	Source      ports.ArticleSource
	Articles    ports.ArticleRepository
	Jobs        ports.ScrapeJobRepository
	Queue       ports.ContinuationQueue
	Locker      ports.Locker
	Notifier    ports.Notifier
	Logger      *slog.Logger
	BatchSize   int
	Concurrency int
	LockTTL     time.Duration
}

// ScrapeResult reports cumulative job counts after one invocation.
type ScrapeResult struct {
	JobID     string
	Processed int
	Failed    int
	Total     int
	Complete  bool
	NextBatch bool
}

// ScrapeEngine discovers help-center articles and stores them in bounded batches.
type ScrapeEngine struct {
	source      ports.ArticleSource
	articles    ports.ArticleRepository
	jobs        ports.ScrapeJobRepository
	queue       ports.ContinuationQueue
	locker      ports.Locker
	notifier    ports.Notifier
	logger      *slog.Logger
	batchSize   int
	concurrency int
	lockTTL     time.Duration
	now         func() time.Time
}

// NewScrapeEngine constructs the engine.
func NewScrapeEngine(deps ScrapeDeps) *ScrapeEngine {
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultScrapeConcurrency
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &ScrapeEngine{
		source:      deps.Source,
		articles:    deps.Articles,
		jobs:        deps.Jobs,
		queue:       deps.Queue,
		locker:      deps.Locker,
		notifier:    deps.Notifier,
		logger:      componentLogger(deps.Logger, "scrape"),
		batchSize:   clampBatch(deps.BatchSize, defaultScrapeBatch, maxScrapeBatch),
		concurrency: concurrency,
		lockTTL:     ttl,
		now:         time.Now,
	}
}

// StartOrResume creates a job when jobID is empty, otherwise continues the job
// from its persisted cursor. One call processes at most batchSize URLs; zero
// selects the configured default.
func (e *ScrapeEngine) StartOrResume(ctx context.Context, jobID string, batchSize int) (ScrapeResult, error) {
	batchSize = clampBatch(batchSize, e.batchSize, maxScrapeBatch)

	var (
		job domain.ScrapeJob
		err error
	)
	if jobID == "" {
		job, err = e.startJob(ctx)
		if err != nil {
			return ScrapeResult{JobID: job.ID}, err
		}
	} else {
		job, err = e.jobs.Get(ctx, jobID)
		if err != nil {
			return ScrapeResult{JobID: jobID}, fmt.Errorf("load job %s: %w", jobID, err)
		}
	}

	if job.Status.Terminal() {
		return resultFor(job), nil
	}
	if job.Status == domain.JobPending {
		return resultFor(job), fmt.Errorf("job %s has not finished discovery: %w", job.ID, domain.ErrStatusConflict)
	}

	return e.processBatch(ctx, job.ID, batchSize)
}

func (e *ScrapeEngine) startJob(ctx context.Context) (domain.ScrapeJob, error) {
	job, err := e.jobs.Create(ctx)
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("create job: %w", err)
	}
	log := e.logger.With("job_id", job.ID)
	log.Info("scrape job created")

	urls, err := e.source.Discover(ctx)
	if err != nil {
		e.fail(ctx, job.ID, err)
		return job, fmt.Errorf("discover urls: %w", err)
	}
	if err := e.jobs.SaveURLs(ctx, job.ID, urls); err != nil {
		e.fail(ctx, job.ID, err)
		return job, fmt.Errorf("save urls: %w", err)
	}
	if err := e.jobs.MarkRunning(ctx, job.ID, len(urls)); err != nil {
		e.fail(ctx, job.ID, err)
		return job, fmt.Errorf("mark job running: %w", err)
	}
	log.Info("discovery finished", "total_urls", len(urls))

	if len(urls) == 0 {
		if err := e.jobs.Finish(ctx, job.ID, domain.JobCompleted, ""); err != nil {
			return job, fmt.Errorf("finish empty job: %w", err)
		}
	}

	job, err = e.jobs.Get(ctx, job.ID)
	if err != nil {
		return job, fmt.Errorf("reload job: %w", err)
	}
	return job, nil
}

func (e *ScrapeEngine) processBatch(ctx context.Context, jobID string, batchSize int) (ScrapeResult, error) {
	held, err := acquire(ctx, e.locker, domain.ScrapeLockKey(jobID), e.lockTTL)
	if err != nil {
		return ScrapeResult{JobID: jobID}, err
	}
	defer held.release()

	// The cursor may have moved while we waited for the lease.
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return ScrapeResult{JobID: jobID}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return resultFor(job), nil
	}

	log := e.logger.With("job_id", job.ID)
	urls, err := e.jobs.ListURLs(ctx, job.ID, job.Cursor(), batchSize)
	if err != nil {
		return resultFor(job), fmt.Errorf("list urls: %w", err)
	}
	log.Debug("batch started", "offset", job.Cursor(), "urls", len(urls))

	for start := 0; start < len(urls); start += e.concurrency {
		end := min(start+e.concurrency, len(urls))
		ok, failed := e.processSubBatch(ctx, log, urls[start:end])
		if err := ctx.Err(); err != nil {
			return resultFor(job), fmt.Errorf("scrape batch interrupted: %w", err)
		}

		job.Processed += ok
		job.Failed += failed
		if err := e.jobs.Checkpoint(ctx, job.ID, job.Processed, job.Failed); err != nil {
			return resultFor(job), fmt.Errorf("checkpoint job: %w", err)
		}
		if err := held.renew(ctx, log); err != nil {
			return resultFor(job), fmt.Errorf("scrape batch stopped: %w", err)
		}
	}

	result := resultFor(job)
	if job.Done() || len(urls) == 0 {
		if err := e.jobs.Finish(ctx, job.ID, domain.JobCompleted, ""); err != nil {
			return result, fmt.Errorf("finish job: %w", err)
		}
		result.Complete = true
		log.Info("scrape job completed", "processed", job.Processed, "failed", job.Failed, "total", job.TotalURLs)
		notify(ctx, e.notifier, scrapeDigest(job), log)
		return result, nil
	}

	held.release()
	result.NextBatch = enqueue(ctx, e.queue, domain.Continuation{
		Kind:      domain.ContinueScrape,
		JobID:     job.ID,
		Offset:    job.Cursor(),
		BatchSize: batchSize,
	}, log)
	log.Info("scrape batch finished", "processed", job.Processed, "failed", job.Failed, "total", job.TotalURLs, "next_batch", result.NextBatch)
	return result, nil
}

func (e *ScrapeEngine) processSubBatch(ctx context.Context, log *slog.Logger, urls []domain.JobURL) (int, int) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		failed int
	)
	for _, target := range urls {
		wg.Add(1)
		go func(target domain.JobURL) {
			defer wg.Done()
			err := e.scrapeOne(ctx, target)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				level := slog.LevelWarn
				if errors.Is(err, domain.ErrContentTooShort) {
					level = slog.LevelDebug
				}
				log.Log(ctx, level, "article skipped", "url", target.URL, "error", err)
				return
			}
			ok++
		}(target)
	}
	wg.Wait()
	return ok, failed
}

func (e *ScrapeEngine) scrapeOne(ctx context.Context, target domain.JobURL) error {
	article, err := e.source.Fetch(ctx, target)
	if err != nil {
		return fmt.Errorf("fetch article: %w", err)
	}
	if article.URL == "" {
		article.URL = target.URL
	}
	if _, err := e.articles.UpsertByURL(ctx, article); err != nil {
		return fmt.Errorf("store article: %w", err)
	}
	return nil
}

// RecoverStale closes pending or running jobs that stopped making progress for olderThan.
// status must be terminal; an empty status means failed.
func (e *ScrapeEngine) RecoverStale(ctx context.Context, olderThan time.Duration, status domain.JobStatus) (int, error) {
	if olderThan <= 0 {
		olderThan = defaultStaleAfter
	}
	if status == "" {
		status = domain.JobFailed
	}
	if !status.Terminal() {
		return 0, fmt.Errorf("%w: recover with non-terminal status %s", domain.ErrInvalidInput, status)
	}

	stale, err := e.jobs.ListStale(ctx, e.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	recovered := 0
	for _, job := range stale {
		message := fmt.Sprintf("abandoned: no progress since %s", job.UpdatedAt.UTC().Format(time.RFC3339))
		if err := e.jobs.Finish(ctx, job.ID, status, message); err != nil {
			e.logger.Error("recover stale job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
		e.logger.Warn("stale job recovered", "job_id", job.ID, "status", status, "processed", job.Processed, "total", job.TotalURLs)
	}
	return recovered, nil
}

// Job returns a single job.
func (e *ScrapeEngine) Job(ctx context.Context, id string) (domain.ScrapeJob, error) {
	return e.jobs.Get(ctx, id)
}

// RecentJobs lists the newest jobs first.
func (e *ScrapeEngine) RecentJobs(ctx context.Context, limit int) ([]domain.ScrapeJob, error) {
	return e.jobs.ListRecent(ctx, clampBatch(limit, 20, 100))
}

func (e *ScrapeEngine) fail(ctx context.Context, jobID string, cause error) {
	if err := e.jobs.Finish(context.WithoutCancel(ctx), jobID, domain.JobFailed, cause.Error()); err != nil {
		e.logger.Error("mark job failed", "job_id", jobID, "error", err)
		return
	}
	e.logger.Error("scrape job failed", "job_id", jobID, "error", cause)
}

func resultFor(job domain.ScrapeJob) ScrapeResult {
	return ScrapeResult{
		JobID:     job.ID,
		Processed: job.Processed,
		Failed:    job.Failed,
		Total:     job.TotalURLs,
		Complete:  job.Status.Terminal(),
	}
}

func scrapeDigest(job domain.ScrapeJob) string {
	return fmt.Sprintf("*Scrape job finished*\nJob: `%s`\nProcessed: %d\nFailed: %d\nTotal: %d",
		job.ID, job.Processed, job.Failed, job.TotalURLs)
}
