// Package resultcache keeps recently merged inference responses in Redis
// under a short TTL, keyed by image hash and capability flags. Two clients
// streaming the same still scene hit the cache instead of the backends.
// Every failure here degrades to a cache miss; the cache is never on the
// error path of a frame.
package resultcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/vision-relay/internal/protocol"
)

// Store abstracts the Redis operations used by the cache to make testing easier.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisStore is a concrete implementation backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a new Redis-backed store adapter.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Set writes a value to Redis.
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, key).Result()
}

// Cache wraps a Store with serialization, a TTL, and a small retry for
// transient errors.
type Cache struct {
	store          Store
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
}

// New builds a cache over the given store.
func New(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		store:          store,
		ttl:            ttl,
		logger:         logger.Named("resultcache"),
		retryAttempts:  2,
		initialBackoff: 25 * time.Millisecond,
	}
}

// Key derives the cache key for an image and its requested capabilities.
func Key(image []byte, flags protocol.Flags) string {
	sum := sha1.Sum(image)
	return fmt.Sprintf("inference:%s:%d", hex.EncodeToString(sum[:]), flags.Bits())
}

// Lookup returns the cached response for key, or false on miss or any error.
func (c *Cache) Lookup(ctx context.Context, key string) (*protocol.InferenceMessage, bool) {
	var value string
	err := c.withRetry(ctx, func() error {
		var err error
		value, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var msg protocol.InferenceMessage
	if err := json.Unmarshal([]byte(value), &msg); err != nil {
		c.logger.Warn("cached value undecodable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &msg, true
}

// Save stores the response under key for the configured TTL. Errors are
// logged and swallowed.
func (c *Cache) Save(ctx context.Context, key string, msg protocol.InferenceMessage) {
	serialized, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("cache serialize failed", zap.String("key", key), zap.Error(err))
		return
	}
	err = c.withRetry(ctx, func() error {
		return c.store.Set(ctx, key, string(serialized), c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache save failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) withRetry(ctx context.Context, fn func() error) error {
	backoff := c.initialBackoff
	var err error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = fn()
		if err == nil || !isTransientError(err) {
			return err
		}
	}
	return err
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
