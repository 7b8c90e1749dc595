package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

// MemoryQueue is a buffered in-process continuation queue.
// Identical continuations waiting for delivery are collapsed into one.
type MemoryQueue struct {
	ch     chan domain.Continuation
	done   chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}
}

var _ ports.ContinuationQueue = (*MemoryQueue)(nil)

// NewMemoryQueue allocates a queue holding up to buffer continuations.
func NewMemoryQueue(buffer int, logger *slog.Logger) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		ch:      make(chan domain.Continuation, buffer),
		done:    make(chan struct{}),
		logger:  logger.With("component", "queue", "backend", "memory"),
		pending: map[string]struct{}{},
	}
}

// Enqueue blocks while the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, c domain.Continuation) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	key := dedupKey(c)
	if _, dup := q.pending[key]; dup {
		q.mu.Unlock()
		q.logger.Debug("duplicate continuation dropped", "key", c.Key(), "offset", c.Offset)
		return nil
	}
	q.pending[key] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- c:
		return nil
	case <-q.done:
		q.forget(key)
		return ErrQueueClosed
	case <-ctx.Done():
		q.forget(key)
		return fmt.Errorf("enqueue continuation: %w", ctx.Err())
	}
}

// Consume hands continuations to handler one at a time until ctx ends or the queue closes.
// Handler errors are logged; the continuation is not redelivered.
func (q *MemoryQueue) Consume(ctx context.Context, handler ports.ContinuationHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case c := <-q.ch:
			q.forget(dedupKey(c))
			if err := handler(ctx, c); err != nil {
				q.logger.Error("continuation failed", "kind", c.Kind, "key", c.Key(), "offset", c.Offset, "error", err)
			}
		}
	}
}

// Len reports how many continuations wait for delivery.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close stops consumers; pending continuations are discarded.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

func (q *MemoryQueue) forget(key string) {
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

func dedupKey(c domain.Continuation) string {
	return c.Key() + "@" + strconv.Itoa(c.Offset)
}
