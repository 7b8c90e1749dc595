package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker shares leases across processes with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ ports.Locker = (*RedisLocker)(nil)

// NewRedisLocker connects lazily to cfg.Addr.
func NewRedisLocker(cfg config.LockConfig, logger *slog.Logger) *RedisLocker {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})
	return NewRedisLockerWithClient(client, cfg.Prefix, logger)
}

// NewRedisLockerWithClient reuses an existing client.
func NewRedisLockerWithClient(client *redis.Client, prefix string, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "lock", "backend", "redis"),
	}
}

// TryLock sets the lease key if absent.
func (r *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (ports.Lease, bool, error) {
	fullKey := r.key(key)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &redisLease{locker: r, key: fullKey, token: token}, true, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

// Extend resets the key's TTL if the lease is still held.
func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.locker.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis extend %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", l.key, domain.ErrLeaseLost)
	}
	return nil
}

// Release uses a fresh context so that a cancelled request still releases its lease.
func (l *redisLease) Release() {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := releaseScript.Run(releaseCtx, l.locker.client, []string{l.key}, l.token).Err(); err != nil {
		l.locker.logger.Warn("release lock failed", "key", l.key, "error", err)
	}
}

// Ping checks connectivity.
func (r *RedisLocker) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client's connections.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

func (r *RedisLocker) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}
