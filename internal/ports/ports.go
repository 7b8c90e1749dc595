package ports

import (
	"context"
	"time"

	"KnowledgeBase/internal/domain"
)

// ArticleSource discovers help-center pages and turns them into articles.
type ArticleSource interface {
	Discover(ctx context.Context) ([]domain.JobURL, error)
	Fetch(ctx context.Context, target domain.JobURL) (domain.Article, error)
}

// ArticleRepository persists scraped articles and their vectorization state.
type ArticleRepository interface {
	UpsertByURL(ctx context.Context, article domain.Article) (domain.Article, error)
	Get(ctx context.Context, id string) (domain.Article, error)
	ListPendingVectorization(ctx context.Context, limit int) ([]domain.Article, error)
	CountPendingVectorization(ctx context.Context) (int, error)
	MarkVectorized(ctx context.Context, article domain.Article, vectorRef string, indexedAt time.Time) error
	ResetVectorization(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (domain.ArticleStats, error)
}

// ScrapeJobRepository keeps job records and their durable URL cursor.
type ScrapeJobRepository interface {
	Create(ctx context.Context) (domain.ScrapeJob, error)
	Get(ctx context.Context, id string) (domain.ScrapeJob, error)
	SaveURLs(ctx context.Context, jobID string, urls []domain.JobURL) error
	ListURLs(ctx context.Context, jobID string, offset, limit int) ([]domain.JobURL, error)
	MarkRunning(ctx context.Context, id string, total int) error
	Checkpoint(ctx context.Context, id string, processed, failed int) error
	Finish(ctx context.Context, id string, status domain.JobStatus, message string) error
	ListRecent(ctx context.Context, limit int) ([]domain.ScrapeJob, error)
	ListStale(ctx context.Context, before time.Time) ([]domain.ScrapeJob, error)
}

// ScheduleRepository stores vectorization schedules.
type ScheduleRepository interface {
	Ensure(ctx context.Context, schedule domain.VectorizationSchedule) error
	Get(ctx context.Context, name string) (domain.VectorizationSchedule, error)
	List(ctx context.Context) ([]domain.VectorizationSchedule, error)
	Save(ctx context.Context, schedule domain.VectorizationSchedule) error
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists and searches article vectors.
type VectorStore interface {
	EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error
	Upsert(ctx context.Context, points []domain.VectorPoint) error
	Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.VectorHit, error)
}

// ContinuationHandler processes one delivered continuation.
type ContinuationHandler func(ctx context.Context, c domain.Continuation) error

// ContinuationQueue carries follow-up work for long-running jobs.
type ContinuationQueue interface {
	Enqueue(ctx context.Context, c domain.Continuation) error
	Consume(ctx context.Context, handler ContinuationHandler) error
	Close() error
}

// Lease is a held lock. Extend fails with domain.ErrLeaseLost once another owner took the key.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release()
}

// Locker grants short leases that keep two workers off the same job.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Notifier streams job digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when recurring work executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
