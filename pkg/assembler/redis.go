package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mercator-hq/ganymede/pkg/thread"
)

// RedisCacheConfig contains configuration for the Redis history cache.
type RedisCacheConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`

	// Password is the Redis password (optional).
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// MaxTurns caps the cached history length per thread.
	// Default: 50
	MaxTurns int `yaml:"max_turns"`

	// TTL is how long a cache entry lives without writes.
	// Default: 30 minutes
	TTL time.Duration `yaml:"ttl"`
}

// RedisCache implements HistoryCache on Redis.
// Each thread's history is a Redis list of JSON-encoded turns, trimmed to
// the newest MaxTurns entries, with a TTL refreshed on every write.
type RedisCache struct {
	client *redis.Client
	config RedisCacheConfig
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, config RedisCacheConfig) (*RedisCache, error) {
	if config.MaxTurns <= 0 {
		config.MaxTurns = 50
	}
	if config.TTL <= 0 {
		config.TTL = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	logger := slog.Default().With("component", "assembler.cache.redis")
	logger.Info("Redis history cache connected", "addr", config.Addr, "db", config.DB)

	return &RedisCache{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

func (c *RedisCache) key(threadID string) string {
	return "ganymede:thread:" + threadID + ":history"
}

// Get implements HistoryCache.
func (c *RedisCache) Get(ctx context.Context, threadID string, limit int) ([]thread.Turn, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := c.client.LRange(ctx, c.key(threadID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrCacheMiss
	}

	turns := make([]thread.Turn, 0, len(raw))
	for _, item := range raw {
		var turn thread.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// A corrupt entry poisons the whole list; drop it and miss.
			c.logger.Warn("corrupt cache entry, invalidating thread",
				"thread_id", threadID, "error", err)
			c.client.Del(ctx, c.key(threadID))
			return nil, ErrCacheMiss
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Put implements HistoryCache.
func (c *RedisCache) Put(ctx context.Context, threadID string, turns []thread.Turn) error {
	key := c.key(threadID)

	encoded := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		encoded = append(encoded, data)
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(encoded) > 0 {
		pipe.RPush(ctx, key, encoded...)
		pipe.LTrim(ctx, key, int64(-c.config.MaxTurns), -1)
		pipe.Expire(ctx, key, c.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Append implements HistoryCache.
func (c *RedisCache) Append(ctx context.Context, threadID string, turns []thread.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	key := c.key(threadID)

	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists == 0 {
		return nil
	}

	encoded := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		encoded = append(encoded, data)
	}

	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, encoded...)
	pipe.LTrim(ctx, key, int64(-c.config.MaxTurns), -1)
	pipe.Expire(ctx, key, c.config.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

// Invalidate implements HistoryCache.
func (c *RedisCache) Invalidate(ctx context.Context, threadID string) error {
	if err := c.client.Del(ctx, c.key(threadID)).Err(); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ HistoryCache = (*RedisCache)(nil)
