package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

const (
	defaultLockTTL        = 10 * time.Minute
	enqueueTimeout        = 5 * time.Second
	notificationTimeout   = 10 * time.Second
	defaultSearchLimit    = 5
	maxSearchLimit        = 50
	defaultSearchScore    = 0.7
	previewRunes          = 300
	defaultMaxInputRunes  = 8000
	defaultEmbedDimension = 1536
)

func clampBatch(size, fallback, ceiling int) int {
	if size <= 0 {
		size = fallback
	}
	if ceiling > 0 && size > ceiling {
		size = ceiling
	}
	return size
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// heldLock wraps a lease with an idempotent release. A nil lease means no locker is configured.
type heldLock struct {
	lease    ports.Lease
	ttl      time.Duration
	released bool
}

// acquire takes the lease for key or fails with ErrJobBusy.
func acquire(ctx context.Context, locker ports.Locker, key string, ttl time.Duration) (*heldLock, error) {
	if locker == nil {
		return &heldLock{}, nil
	}
	lease, ok, err := locker.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrJobBusy)
	}
	return &heldLock{lease: lease, ttl: ttl}, nil
}

// renew pushes the lease expiry out by another ttl. Only a lost lease is an
// error; a failed round trip is logged and the current expiry still applies.
func (h *heldLock) renew(ctx context.Context, logger *slog.Logger) error {
	if h.lease == nil || h.released {
		return nil
	}
	err := h.lease.Extend(ctx, h.ttl)
	if errors.Is(err, domain.ErrLeaseLost) {
		return err
	}
	if err != nil {
		logger.Warn("renew lock", "error", err)
	}
	return nil
}

func (h *heldLock) release() {
	if h.lease == nil || h.released {
		return
	}
	h.released = true
	h.lease.Release()
}

// enqueue schedules a continuation on a context detached from the caller,
// so that a finished HTTP request does not cancel the hand-off.
func enqueue(ctx context.Context, queue ports.ContinuationQueue, c domain.Continuation, logger *slog.Logger) bool {
	if queue == nil {
		logger.Debug("no continuation queue configured", "key", c.Key(), "offset", c.Offset)
		return false
	}

	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	c.EnqueuedAt = time.Now().UTC()
	if err := queue.Enqueue(enqueueCtx, c); err != nil {
		logger.Error("enqueue continuation", "key", c.Key(), "offset", c.Offset, "error", err)
		return false
	}
	logger.Debug("continuation enqueued", "key", c.Key(), "offset", c.Offset, "batch_size", c.BatchSize)
	return true
}

func notify(ctx context.Context, notifier ports.Notifier, digest string, logger *slog.Logger) {
	if notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()
	if err := notifier.PublishDigest(notifyCtx, digest); err != nil {
		logger.Warn("publish digest", "error", err)
	}
}

func componentLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}
