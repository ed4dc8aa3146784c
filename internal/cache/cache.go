package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetJob(ctx context.Context, job models.Job, ttl time.Duration) error
	GetJob(ctx context.Context, jobID uuid.UUID) (models.Job, bool, error)
	SetCheckpoint(ctx context.Context, stats models.CheckpointStats, ttl time.Duration) error
	GetCheckpoint(ctx context.Context, batchID uuid.UUID) (models.CheckpointStats, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetJob stores a snapshot of job as JSON.
func (c *RedisCache) SetJob(ctx context.Context, job models.Job, ttl time.Duration) error {
	return c.setJSON(ctx, JobKey(job.ID), job, ttl)
}

func (c *RedisCache) GetJob(ctx context.Context, jobID uuid.UUID) (models.Job, bool, error) {
	var job models.Job
	found, err := c.getJSON(ctx, JobKey(jobID), &job)
	return job, found, err
}

// SetCheckpoint stores the latest checkpoint of a batch, replacing the previous one.
func (c *RedisCache) SetCheckpoint(ctx context.Context, stats models.CheckpointStats, ttl time.Duration) error {
	return c.setJSON(ctx, CheckpointKey(stats.BatchID), stats, ttl)
}

func (c *RedisCache) GetCheckpoint(ctx context.Context, batchID uuid.UUID) (models.CheckpointStats, bool, error) {
	var stats models.CheckpointStats
	found, err := c.getJSON(ctx, CheckpointKey(batchID), &stats)
	return stats, found, err
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

var _ Cache = (*RedisCache)(nil)
