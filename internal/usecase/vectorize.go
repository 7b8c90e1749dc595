package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

const (
	defaultVectorizeBatch       = 50
	defaultVectorizeConcurrency = 3
	defaultScheduleName         = "default"
)

// VectorizeDeps wires the driven adapters of the vectorization engine.
// Embedder may be nil when no API key is configured.
type VectorizeDeps struct {
	Articles      ports.ArticleRepository
	Schedules     ports.ScheduleRepository
	Embedder      ports.Embedder
	Store         ports.VectorStore
	Queue         ports.ContinuationQueue
	Locker        ports.Locker
	Notifier      ports.Notifier
	Logger        *slog.Logger
	Collection    domain.CollectionSpec
	BatchSize     int
	Concurrency   int
	BatchDelay    time.Duration
	MaxInputChars int
	LockTTL       time.Duration
}

// VectorizeRequest selects how much of the backlog one call handles.
type VectorizeRequest struct {
	BatchSize     int
	AutoScheduled bool
	ScheduleName  string
	ForceAll      bool
}

// VectorizeResult reports one invocation.
type VectorizeResult struct {
	Processed int
	Failed    int
	Remaining int
	Complete  bool
	NextBatch bool
}

// VectorizeEngine embeds stored articles and upserts them into the vector store.
type VectorizeEngine struct {
	articles      ports.ArticleRepository
	schedules     ports.ScheduleRepository
	embedder      ports.Embedder
	store         ports.VectorStore
	queue         ports.ContinuationQueue
	locker        ports.Locker
	notifier      ports.Notifier
	logger        *slog.Logger
	collection    domain.CollectionSpec
	batchSize     int
	concurrency   int
	batchDelay    time.Duration
	maxInputChars int
	lockTTL       time.Duration
	now           func() time.Time
	sleep         func(context.Context, time.Duration) error
}

// NewVectorizeEngine constructs the engine.
func NewVectorizeEngine(deps VectorizeDeps) *VectorizeEngine {
	collection := deps.Collection
	if collection.Dimension <= 0 {
		collection.Dimension = defaultEmbedDimension
	}
	if collection.Distance == "" {
		collection.Distance = "Cosine"
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultVectorizeConcurrency
	}
	maxChars := deps.MaxInputChars
	if maxChars <= 0 {
		maxChars = defaultMaxInputRunes
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &VectorizeEngine{
		articles:      deps.Articles,
		schedules:     deps.Schedules,
		embedder:      deps.Embedder,
		store:         deps.Store,
		queue:         deps.Queue,
		locker:        deps.Locker,
		notifier:      deps.Notifier,
		logger:        componentLogger(deps.Logger, "vectorize"),
		collection:    collection,
		batchSize:     clampBatch(deps.BatchSize, defaultVectorizeBatch, 0),
		concurrency:   concurrency,
		batchDelay:    deps.BatchDelay,
		maxInputChars: maxChars,
		lockTTL:       ttl,
		now:           time.Now,
		sleep:         sleepContext,
	}
}

// Run embeds one batch of the backlog and enqueues a continuation while work remains.
func (e *VectorizeEngine) Run(ctx context.Context, req VectorizeRequest) (VectorizeResult, error) {
	if e.embedder == nil {
		return VectorizeResult{}, domain.ErrMissingCredentials
	}
	batchSize := clampBatch(req.BatchSize, e.batchSize, 0)
	if req.AutoScheduled && req.ScheduleName == "" {
		req.ScheduleName = defaultScheduleName
	}

	held, err := acquire(ctx, e.locker, domain.VectorizeLockKey, e.lockTTL)
	if err != nil {
		return VectorizeResult{}, err
	}
	defer held.release()

	log := e.logger.With("batch_size", batchSize, "auto_scheduled", req.AutoScheduled)

	if req.ForceAll {
		reset, err := e.articles.ResetVectorization(ctx)
		if err != nil {
			return VectorizeResult{}, fmt.Errorf("reset vectorization: %w", err)
		}
		log.Info("vector references cleared", "articles", reset)
	}

	if err := e.store.EnsureCollection(ctx, e.collection); err != nil {
		return VectorizeResult{}, fmt.Errorf("ensure collection: %w", err)
	}

	pending, err := e.articles.ListPendingVectorization(ctx, batchSize)
	if err != nil {
		return VectorizeResult{}, fmt.Errorf("list pending articles: %w", err)
	}
	if len(pending) == 0 {
		log.Debug("backlog empty")
		if req.AutoScheduled {
			e.recordSchedule(ctx, log, req.ScheduleName, 0, 0, 0)
		}
		return VectorizeResult{Complete: true}, nil
	}

	var result VectorizeResult
	for start := 0; start < len(pending); start += e.concurrency {
		if start > 0 && e.batchDelay > 0 {
			if err := e.sleep(ctx, e.batchDelay); err != nil {
				return result, fmt.Errorf("vectorize batch interrupted: %w", err)
			}
		}

		end := min(start+e.concurrency, len(pending))
		ok, failed := e.vectorizeSubBatch(ctx, log, pending[start:end])
		result.Processed += ok
		result.Failed += failed
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("vectorize batch interrupted: %w", err)
		}
		if err := held.renew(ctx, log); err != nil {
			return result, fmt.Errorf("vectorize batch stopped: %w", err)
		}
	}

	remaining, err := e.articles.CountPendingVectorization(ctx)
	if err != nil {
		return result, fmt.Errorf("count pending articles: %w", err)
	}
	result.Remaining = remaining
	result.Complete = remaining == 0

	if req.AutoScheduled {
		e.recordSchedule(ctx, log, req.ScheduleName, result.Processed, result.Failed, remaining)
	}
	log.Info("vectorize batch finished", "processed", result.Processed, "failed", result.Failed, "remaining", remaining)

	if result.Complete {
		notify(ctx, e.notifier, vectorizeDigest(result), log)
		return result, nil
	}

	// Every article of the batch failed; looping would only repeat the failures.
	if result.Processed == 0 {
		log.Warn("no progress, continuation withheld", "failed", result.Failed, "remaining", remaining)
		return result, nil
	}

	held.release()
	result.NextBatch = enqueue(ctx, e.queue, domain.Continuation{
		Kind:          domain.ContinueVectorize,
		Offset:        remaining,
		BatchSize:     batchSize,
		AutoScheduled: req.AutoScheduled,
		ScheduleName:  req.ScheduleName,
	}, log)
	return result, nil
}

// Stats summarizes the article table.
func (e *VectorizeEngine) Stats(ctx context.Context) (domain.ArticleStats, error) {
	return e.articles.Stats(ctx)
}

func (e *VectorizeEngine) vectorizeSubBatch(ctx context.Context, log *slog.Logger, articles []domain.Article) (int, int) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		failed int
	)
	for _, article := range articles {
		wg.Add(1)
		go func(article domain.Article) {
			defer wg.Done()
			err := e.vectorizeOne(ctx, article)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warn("article not vectorized", "article_id", article.ID, "url", article.URL, "error", err)
				return
			}
			ok++
		}(article)
	}
	wg.Wait()
	return ok, failed
}

func (e *VectorizeEngine) vectorizeOne(ctx context.Context, article domain.Article) error {
	text := truncateRunes(article.Content, e.maxInputChars)

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	point := domain.VectorPoint{
		ID:      article.ID,
		Vector:  vector,
		Payload: domain.NewArticlePayload(article, text),
	}
	if err := e.store.Upsert(ctx, []domain.VectorPoint{point}); err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}

	if err := e.articles.MarkVectorized(ctx, article, point.ID, e.now().UTC()); err != nil {
		return fmt.Errorf("mark vectorized: %w", err)
	}
	return nil
}

func (e *VectorizeEngine) recordSchedule(ctx context.Context, log *slog.Logger, name string, processed, failed, remaining int) {
	if e.schedules == nil {
		return
	}
	schedule, err := e.schedules.Get(ctx, name)
	if err != nil {
		log.Warn("load schedule", "schedule", name, "error", err)
		return
	}
	schedule.Record(e.now().UTC(), processed, failed, remaining)
	if err := e.schedules.Save(ctx, schedule); err != nil {
		log.Warn("save schedule", "schedule", name, "error", err)
	}
}

func vectorizeDigest(result VectorizeResult) string {
	return fmt.Sprintf("*Vectorization finished*\nProcessed: %d\nFailed: %d", result.Processed, result.Failed)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
