package sessionstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "tutor:session-state:"

// RedisSnapshotter stores states as JSON strings with a sliding TTL.
type RedisSnapshotter struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSnapshotter connects to redisURL and verifies the connection.
func NewRedisSnapshotter(redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisSnapshotter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis connected for session state")
	return &RedisSnapshotter{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// Save writes s under its session key.
func (r *RedisSnapshotter) Save(ctx context.Context, s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := r.rdb.Set(ctx, keyPrefix+s.SessionID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save session state %s: %w", s.SessionID, err)
	}
	return nil
}

// Load reads the snapshot of sessionID, or (nil, nil) if absent.
func (r *RedisSnapshotter) Load(ctx context.Context, sessionID string) (*State, error) {
	data, err := r.rdb.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session state %s: %w", sessionID, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session state %s: %w", sessionID, err)
	}
	return &s, nil
}

// Delete removes the snapshot of sessionID.
func (r *RedisSnapshotter) Delete(ctx context.Context, sessionID string) error {
	return r.rdb.Del(ctx, keyPrefix+sessionID).Err()
}

// Close shuts down the Redis connection.
func (r *RedisSnapshotter) Close() error {
	return r.rdb.Close()
}
