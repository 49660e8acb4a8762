package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bkose/ocr-relay/pkg/models"
)

// RedisStore implements Store on a Redis list plus expiring result keys.
// Layout: one list key holds JSON-encoded pending jobs (RPUSH tail,
// LPOP/BLPOP head), results live at <prefix>:<task_id> with a TTL.
// BLPOP gives the atomic blocking pop: Redis hands each list element to
// exactly one of the blocked clients.
type RedisStore struct {
	client    *redis.Client
	queueKey  string
	resultKey string
	resultTTL time.Duration
}

// RedisConfig holds Redis connection and key layout settings.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	QueueKey     string        // pending list key, default "ocr:input"
	ResultPrefix string        // result key prefix, default "ocr:output"
	ResultTTL    time.Duration // default 3600s
}

// NewRedisStore creates a Redis-backed store. The caller owns the lifecycle
// via Close; construct once at process start and share.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	if cfg.QueueKey == "" {
		cfg.QueueKey = "ocr:input"
	}
	if cfg.ResultPrefix == "" {
		cfg.ResultPrefix = "ocr:output"
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:    client,
		queueKey:  cfg.QueueKey,
		resultKey: cfg.ResultPrefix,
		resultTTL: cfg.ResultTTL,
	}
}

// Push appends the job to the tail of the pending list.
func (s *RedisStore) Push(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := s.client.RPush(ctx, s.queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}

// Pop removes and returns the head of the pending list. With a positive
// timeout it blocks in BLPOP; with zero it does a single non-blocking LPOP.
func (s *RedisStore) Pop(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	var payload string

	if timeout <= 0 {
		val, err := s.client.LPop(ctx, s.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}
		payload = val
	} else {
		vals, err := s.client.BLPop(ctx, timeout, s.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}
		// BLPOP returns (key, value).
		payload = vals[1]
	}

	var job models.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// PutResult stores the result with the configured TTL, overwriting any
// previous attempt's entry.
func (s *RedisStore) PutResult(ctx context.Context, taskID string, result *models.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	key := s.resultKey + ":" + taskID
	if err := s.client.Set(ctx, key, data, s.resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// GetResult returns the stored result or (nil, nil) when absent or expired.
func (s *RedisStore) GetResult(ctx context.Context, taskID string) (*models.Result, error) {
	key := s.resultKey + ":" + taskID
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	var result models.Result
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// Size returns the pending list length.
func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	size, err := s.client.LLen(ctx, s.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return size, nil
}

// Healthy pings Redis.
func (s *RedisStore) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Clear deletes the pending list.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.queueKey).Err(); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
