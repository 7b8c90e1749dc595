package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"KnowledgeBase/internal/api"
	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/infrastructure/embedding"
	"KnowledgeBase/internal/infrastructure/lock"
	"KnowledgeBase/internal/infrastructure/parser"
	"KnowledgeBase/internal/infrastructure/queue"
	"KnowledgeBase/internal/infrastructure/scheduler"
	"KnowledgeBase/internal/infrastructure/storage"
	"KnowledgeBase/internal/infrastructure/telegram"
	"KnowledgeBase/internal/infrastructure/vectorstore"
	"KnowledgeBase/internal/logging"
	"KnowledgeBase/internal/ports"
	"KnowledgeBase/internal/scanner"
	"KnowledgeBase/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db        *storage.DB
	queue     ports.ContinuationQueue
	schedules *storage.ScheduleRepository

	Scrape    *usecase.ScrapeEngine
	Vectorize *usecase.VectorizeEngine
	Search    *usecase.SearchService
	Worker    *usecase.Worker
	Scheduler *usecase.Scheduler

	closers []func() error
}

// New opens storage and builds every adapter selected by cfg.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger.With("component", "app")}

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	if err := a.build(ctx, baseLogger); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context, baseLogger *slog.Logger) error {
	cfg := a.cfg

	articles := storage.NewArticleRepository(a.db)
	jobs := storage.NewJobRepository(a.db)
	a.schedules = storage.NewScheduleRepository(a.db)

	if err := a.seedSchedules(ctx); err != nil {
		return err
	}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewHelpCenterScanner(nil, cfg.Jobs.MinContentLength, baseLogger.With("component", "scanner.helpcenter")))
	source := parser.NewStrategySource(registry, cfg.Sites, baseLogger.With("component", "source"))

	var embedder ports.Embedder
	dimension := cfg.Embedding.Dimensions
	if openai, err := embedding.NewOpenAIEmbedder(cfg.Embedding); err == nil {
		embedder = openai
		if d := openai.Dimensions(); d > 0 {
			dimension = d
		}
	} else if errors.Is(err, domain.ErrMissingCredentials) {
		a.logger.Warn("embedding api key not set; vectorize and search are disabled")
	} else {
		return fmt.Errorf("embedding client: %w", err)
	}

	store, err := a.vectorStore(baseLogger)
	if err != nil {
		return err
	}

	q, err := a.continuationQueue(baseLogger)
	if err != nil {
		return err
	}
	if q != nil {
		a.queue = q
		a.closers = append(a.closers, q.Close)
	}

	locker, err := a.locker(ctx, baseLogger)
	if err != nil {
		return err
	}

	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram, nil); tg.Enabled() {
		notifier = tg
	}

	a.Scrape = usecase.NewScrapeEngine(usecase.ScrapeDeps{
		Source:      source,
		Articles:    articles,
		Jobs:        jobs,
		Queue:       q,
		Locker:      locker,
		Notifier:    notifier,
		Logger:      baseLogger,
		BatchSize:   cfg.Jobs.ScrapeBatchSize,
		Concurrency: cfg.Jobs.ScrapeConcurrency,
		LockTTL:     cfg.Lock.TTL,
	})
	a.Vectorize = usecase.NewVectorizeEngine(usecase.VectorizeDeps{
		Articles:  articles,
		Schedules: a.schedules,
		Embedder:  embedder,
		Store:     store,
		Queue:     q,
		Locker:    locker,
		Notifier:  notifier,
		Logger:    baseLogger,
		Collection: domain.CollectionSpec{
			Name:      cfg.VectorStore.Collection,
			Dimension: dimension,
			Distance:  cfg.VectorStore.Distance,
		},
		BatchSize:     cfg.Jobs.VectorizeBatchSize,
		Concurrency:   cfg.Jobs.VectorizeParallel,
		BatchDelay:    cfg.Jobs.BatchDelay,
		MaxInputChars: cfg.Embedding.MaxInputChars,
		LockTTL:       cfg.Lock.TTL,
	})
	a.Search = usecase.NewSearchService(embedder, store, cfg.Jobs.SearchThreshold, baseLogger)
	a.Worker = usecase.NewWorker(q, jobs, a.Scrape, a.Vectorize, baseLogger)

	batchSizes := make(map[string]int, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		batchSizes[s.Name] = s.BatchSize
	}
	var driver ports.Scheduler
	if cfg.Scheduler.Enabled {
		driver = scheduler.NewIntervalScheduler(cfg.Scheduler.Interval, cfg.Scheduler.Location())
	}
	a.Scheduler = usecase.NewScheduler(usecase.SchedulerDeps{
		Driver:     driver,
		Schedules:  a.schedules,
		Vectorize:  a.Vectorize,
		Scrape:     a.Scrape,
		BatchSizes: batchSizes,
		StaleAfter: cfg.Jobs.StaleAfter,
		Logger:     baseLogger,
	})
	return nil
}

func (a *Application) seedSchedules(ctx context.Context) error {
	now := time.Now().In(a.cfg.Scheduler.Location())
	for _, s := range a.cfg.Schedules {
		schedule := domain.VectorizationSchedule{
			Name:      s.Name,
			Interval:  s.Interval,
			Enabled:   s.Enabled,
			NextRunAt: now.Add(s.Interval),
		}
		if err := a.schedules.Ensure(ctx, schedule); err != nil {
			return fmt.Errorf("seed schedule %s: %w", s.Name, err)
		}
	}
	return nil
}

func (a *Application) vectorStore(baseLogger *slog.Logger) (ports.VectorStore, error) {
	cfg := a.cfg.VectorStore
	switch strings.ToLower(cfg.Backend) {
	case "", "qdrant":
		return vectorstore.NewQdrantStore(cfg, nil), nil
	case "memory":
		baseLogger.Warn("in-memory vector store selected; vectors are lost on restart")
		return vectorstore.NewMemoryStore(), nil
	case "pgvector":
		conn := a.db.Conn()
		if a.db.Driver() != storage.DriverPostgres {
			pg, err := sql.Open("postgres", cfg.URL)
			if err != nil {
				return nil, fmt.Errorf("open pgvector database: %w", err)
			}
			a.closers = append(a.closers, pg.Close)
			conn = pg
		}
		return vectorstore.NewPgvectorStore(conn, cfg.Collection)
	default:
		return nil, fmt.Errorf("%w: unknown vector store backend %q", domain.ErrInvalidInput, cfg.Backend)
	}
}

func (a *Application) continuationQueue(baseLogger *slog.Logger) (ports.ContinuationQueue, error) {
	cfg := a.cfg.Queue
	switch strings.ToLower(cfg.Backend) {
	case "none":
		// One-shot CLI runs drive batches in-process.
		return nil, nil
	case "", "memory":
		return queue.NewMemoryQueue(cfg.Buffer, baseLogger), nil
	case "kafka":
		return queue.NewKafkaQueue(cfg, baseLogger)
	default:
		return nil, fmt.Errorf("%w: unknown queue backend %q", domain.ErrInvalidInput, cfg.Backend)
	}
}

func (a *Application) locker(ctx context.Context, baseLogger *slog.Logger) (ports.Locker, error) {
	cfg := a.cfg.Lock
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return lock.NewMemoryLocker(), nil
	case "redis":
		locker := lock.NewRedisLocker(cfg, baseLogger)
		a.closers = append(a.closers, locker.Close)
		if err := locker.Ping(ctx); err != nil {
			return nil, err
		}
		return locker, nil
	default:
		return nil, fmt.Errorf("%w: unknown lock backend %q", domain.ErrInvalidInput, cfg.Backend)
	}
}

// Handler returns the HTTP API.
func (a *Application) Handler() http.Handler {
	return api.New(api.Deps{
		Scraper:        a.Scrape,
		Vectorizer:     a.Vectorize,
		Searcher:       a.Search,
		Schedules:      a.schedules,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Logger:         a.logger,
	})
}

// Serve runs the HTTP API, the continuation worker and the scheduler until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Worker.Run(ctx); err != nil {
			errs <- fmt.Errorf("continuation worker: %w", err)
			cancel()
		}
	}()

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
			cancel()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer stop()
	shutdownErr := errors.Join(
		srv.Shutdown(shutdownCtx),
		a.Scheduler.Stop(shutdownCtx),
	)
	wg.Wait()
	close(errs)

	for err := range errs {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	return shutdownErr
}

// PendingContinuations reports queued continuations for the in-memory backend, -1 otherwise.
func (a *Application) PendingContinuations() int {
	if mq, ok := a.queue.(*queue.MemoryQueue); ok {
		return mq.Len()
	}
	return -1
}

// Schedules lists stored vectorization schedules.
func (a *Application) Schedules(ctx context.Context) ([]domain.VectorizationSchedule, error) {
	return a.schedules.List(ctx)
}

// Close releases every opened resource in reverse order.
func (a *Application) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
