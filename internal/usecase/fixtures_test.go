package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/infrastructure/lock"
	"KnowledgeBase/internal/infrastructure/queue"
	"KnowledgeBase/internal/infrastructure/storage"
	"KnowledgeBase/internal/infrastructure/vectorstore"
	"KnowledgeBase/internal/logging"
	"KnowledgeBase/internal/ports"
)

type fakeSource struct {
	mu       sync.Mutex
	urls     []domain.JobURL
	failing  map[string]bool
	discover error
	fetched  []string
}

func newFakeSource(n int, failing ...int) *fakeSource {
	src := &fakeSource{failing: map[string]bool{}}
	for i := 0; i < n; i++ {
		u := fmt.Sprintf("https://help.example.com/hc/en-us/articles/%d", i+1)
		src.urls = append(src.urls, domain.JobURL{Position: i, URL: u, Site: "help"})
	}
	for _, i := range failing {
		src.failing[src.urls[i].URL] = true
	}
	return src
}

func (f *fakeSource) Discover(context.Context) ([]domain.JobURL, error) {
	if f.discover != nil {
		return nil, f.discover
	}
	return f.urls, nil
}

func (f *fakeSource) Fetch(_ context.Context, target domain.JobURL) (domain.Article, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, target.URL)
	f.mu.Unlock()

	if f.failing[target.URL] {
		return domain.Article{}, fmt.Errorf("%s: %w", target.URL, domain.ErrContentTooShort)
	}
	return domain.Article{
		Title:    "Article " + target.URL[strings.LastIndex(target.URL, "/")+1:],
		URL:      target.URL,
		Content:  "How to configure the product. " + strings.Repeat("Detailed steps follow. ", 10),
		Category: "Guides",
		Source:   target.Site,
	}, nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	inputs []string
	fail   func(text string) bool
	during func(text string)
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.inputs = append(f.inputs, text)
	during := f.during
	f.mu.Unlock()

	if during != nil {
		during(text)
	}
	if f.fail != nil && f.fail(text) {
		return nil, errors.New("provider rejected input")
	}
	if strings.Contains(strings.ToLower(text), "billing") {
		return []float32{0, 1, 0}, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) PublishDigest(_ context.Context, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, digest)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// scriptedLocker hands out leases whose Extend results come from extendErr.
type scriptedLocker struct {
	mu        sync.Mutex
	extends   int
	released  int
	extendErr func(n int) error
}

func (l *scriptedLocker) TryLock(context.Context, string, time.Duration) (ports.Lease, bool, error) {
	return &scriptedLease{locker: l}, true, nil
}

func (l *scriptedLocker) counts() (extends, released int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends, l.released
}

type scriptedLease struct {
	locker *scriptedLocker
}

func (s *scriptedLease) Extend(context.Context, time.Duration) error {
	l := s.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	if l.extendErr != nil {
		return l.extendErr(l.extends)
	}
	return nil
}

func (s *scriptedLease) Release() {
	l := s.locker
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
}

type harness struct {
	db        *storage.DB
	articles  *storage.ArticleRepository
	jobs      *storage.JobRepository
	schedules *storage.ScheduleRepository
	store     *vectorstore.MemoryStore
	queue     *queue.MemoryQueue
	locker    *lock.MemoryLocker
	notifier  *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := storage.Open(context.Background(), config.DatabaseConfig{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "kb.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, db.Close()) })

	q := queue.NewMemoryQueue(16, logging.Discard())
	t.Cleanup(func() { _ = q.Close() })

	return &harness{
		db:        db,
		articles:  storage.NewArticleRepository(db),
		jobs:      storage.NewJobRepository(db),
		schedules: storage.NewScheduleRepository(db),
		store:     vectorstore.NewMemoryStore(),
		queue:     q,
		locker:    lock.NewMemoryLocker(),
		notifier:  &recordingNotifier{},
	}
}

func (h *harness) scrapeEngine(src *fakeSource) *ScrapeEngine {
	return NewScrapeEngine(ScrapeDeps{
		Source:   src,
		Articles: h.articles,
		Jobs:     h.jobs,
		Queue:    h.queue,
		Locker:   h.locker,
		Notifier: h.notifier,
		Logger:   logging.Discard(),
	})
}

func (h *harness) vectorizeEngine(embedder *fakeEmbedder) *VectorizeEngine {
	deps := VectorizeDeps{
		Articles:   h.articles,
		Schedules:  h.schedules,
		Store:      h.store,
		Queue:      h.queue,
		Locker:     h.locker,
		Notifier:   h.notifier,
		Logger:     logging.Discard(),
		Collection: domain.CollectionSpec{Name: "help_articles", Dimension: 3, Distance: "Cosine"},
	}
	if embedder != nil {
		deps.Embedder = embedder
	}
	engine := NewVectorizeEngine(deps)
	engine.sleep = func(context.Context, time.Duration) error { return nil }
	return engine
}

// seedArticles stores n articles with distinct urls.
func (h *harness) seedArticles(t *testing.T, n int, content func(i int) string) []domain.Article {
	t.Helper()

	out := make([]domain.Article, 0, n)
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("Article %d explains account settings in detail.", i)
		if content != nil {
			text = content(i)
		}
		a, err := h.articles.UpsertByURL(context.Background(), domain.Article{
			Title:   fmt.Sprintf("Article %d", i),
			URL:     fmt.Sprintf("https://help.example.com/hc/en-us/articles/%d", i),
			Content: text,
		})
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}
