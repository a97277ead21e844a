package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueryCache caches query embeddings in Redis.
//
// Query embedding is the latency floor of every search; identical queries are
// common (users refine searches incrementally), so a short-TTL cache saves a
// provider round trip. The cache is strictly best-effort: Redis failures are
// logged and treated as misses.
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// QueryCacheConfig holds Redis cache configuration.
type QueryCacheConfig struct {
	// Addr is the Redis server address. Empty disables the cache.
	Addr string `koanf:"addr"`

	// Password is the Redis password, if any.
	Password string `koanf:"password"`

	// DB is the Redis database number.
	DB int `koanf:"db"`

	// TTL is the cache entry lifetime. Default: 15m
	TTL time.Duration `koanf:"ttl"`
}

// ApplyDefaults sets default values for unset fields.
func (c *QueryCacheConfig) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = 15 * time.Minute
	}
}

// NewQueryCache creates a Redis-backed query embedding cache.
// Returns nil (cache disabled) when no address is configured.
func NewQueryCache(cfg QueryCacheConfig, logger *zap.Logger) *QueryCache {
	if cfg.Addr == "" {
		return nil
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    cfg.TTL,
		logger: logger,
	}
}

// cacheKey derives a stable key from the model and query text.
func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return "semanticd:qemb:" + hex.EncodeToString(sum[:])
}

// Get returns a cached embedding, or nil on miss or cache failure.
func (c *QueryCache) Get(ctx context.Context, model, text string) []float32 {
	if c == nil {
		return nil
	}
	raw, err := c.client.Get(ctx, cacheKey(model, text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("query cache read failed", zap.Error(err))
		}
		return nil
	}
	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		c.logger.Warn("query cache entry corrupt, ignoring", zap.Error(err))
		return nil
	}
	return vector
}

// Put stores an embedding. Failures are logged and swallowed.
func (c *QueryCache) Put(ctx context.Context, model, text string, vector []float32) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		c.logger.Warn("query cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(model, text), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("query cache write failed", zap.Error(err))
	}
}

// Close closes the Redis connection.
func (c *QueryCache) Close() error {
	if c == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
