package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

// KafkaQueue stores continuations on a topic keyed by job, so one job stays on one partition.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ ports.ContinuationQueue = (*KafkaQueue)(nil)

// NewKafkaQueue builds the writer and the consumer-group reader for cfg.Topic.
func NewKafkaQueue(cfg config.QueueConfig, logger *slog.Logger) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no kafka brokers configured", domain.ErrInvalidInput)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is empty", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Compression:  kafka.Gzip,
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
	})

	return &KafkaQueue{
		writer: writer,
		reader: reader,
		logger: logger.With("component", "queue", "backend", "kafka", "topic", cfg.Topic),
	}, nil
}

// Enqueue publishes one continuation and waits for all replicas to acknowledge it.
func (k *KafkaQueue) Enqueue(ctx context.Context, c domain.Continuation) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrQueueClosed
	}
	k.mu.Unlock()

	value, err := encodeContinuation(c)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(c.Key()), Value: value}); err != nil {
		return fmt.Errorf("publish continuation: %w", err)
	}
	return nil
}

// Consume fetches, handles and commits messages in order. A message whose handler
// fails is still committed; engines resume from their persisted cursor instead.
func (k *KafkaQueue) Consume(ctx context.Context, handler ports.ContinuationHandler) error {
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, kafka.ErrGroupClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch continuation: %w", err)
		}

		c, err := decodeContinuation(msg.Value)
		if err != nil {
			k.logger.Warn("malformed continuation skipped", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else if err := handler(ctx, c); err != nil {
			k.logger.Error("continuation failed", "kind", c.Kind, "key", c.Key(), "offset", c.Offset, "error", err)
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit continuation: %w", err)
		}
	}
}

// Close flushes the writer and leaves the consumer group.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return errors.Join(k.writer.Close(), k.reader.Close())
}

func encodeContinuation(c domain.Continuation) ([]byte, error) {
	if c.EnqueuedAt.IsZero() {
		c.EnqueuedAt = time.Now().UTC()
	}
	value, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal continuation: %w", err)
	}
	return value, nil
}

func decodeContinuation(value []byte) (domain.Continuation, error) {
	var c domain.Continuation
	if err := json.Unmarshal(value, &c); err != nil {
		return domain.Continuation{}, fmt.Errorf("unmarshal continuation: %w", err)
	}
	switch c.Kind {
	case domain.ContinueScrape:
		if c.JobID == "" {
			return domain.Continuation{}, fmt.Errorf("%w: scrape continuation without job id", domain.ErrInvalidInput)
		}
	case domain.ContinueVectorize:
	default:
		return domain.Continuation{}, fmt.Errorf("%w: unknown continuation kind %q", domain.ErrInvalidInput, c.Kind)
	}
	return c, nil
}
