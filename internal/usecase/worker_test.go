package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeBase/internal/domain"
)

func TestWorkerDropsStaleScrapeContinuation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := newFakeSource(6)
	engine := h.scrapeEngine(src)
	worker := NewWorker(h.queue, h.jobs, engine, nil, nil)
	ctx := context.Background()

	first, err := engine.StartOrResume(ctx, "", 2)
	require.NoError(t, err)
	require.Equal(t, 2, src.fetchCount())

	// Offset 0 was already processed; replaying it must not refetch.
	err = worker.Handle(ctx, domain.Continuation{Kind: domain.ContinueScrape, JobID: first.JobID, Offset: 0, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, src.fetchCount())

	err = worker.Handle(ctx, domain.Continuation{Kind: domain.ContinueScrape, JobID: first.JobID, Offset: 2, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, src.fetchCount())
}

func TestWorkerDropsFinishedAndUnknownJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := newFakeSource(1)
	engine := h.scrapeEngine(src)
	worker := NewWorker(h.queue, h.jobs, engine, nil, nil)
	ctx := context.Background()

	done, err := engine.StartOrResume(ctx, "", 5)
	require.NoError(t, err)
	require.True(t, done.Complete)

	require.NoError(t, worker.Handle(ctx, domain.Continuation{Kind: domain.ContinueScrape, JobID: done.JobID, Offset: 1}))
	require.NoError(t, worker.Handle(ctx, domain.Continuation{Kind: domain.ContinueScrape, JobID: "missing"}))
	assert.Equal(t, 1, src.fetchCount())

	err = worker.Handle(ctx, domain.Continuation{Kind: "reindex"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWorkerSwallowsBusy(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedArticles(t, 1, nil)
	engine := h.vectorizeEngine(&fakeEmbedder{})
	worker := NewWorker(h.queue, h.jobs, nil, engine, nil)
	ctx := context.Background()

	lease, ok, err := h.locker.TryLock(ctx, domain.VectorizeLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, worker.Handle(ctx, domain.Continuation{Kind: domain.ContinueVectorize, BatchSize: 5}))
	lease.Release()

	require.NoError(t, worker.Handle(ctx, domain.Continuation{Kind: domain.ContinueVectorize, BatchSize: 5}))
	assert.Equal(t, 1, h.store.Len())
}
