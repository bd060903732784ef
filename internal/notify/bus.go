package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "tutor:learner:"

// Bus publishes learner events to one Redis stream per learner so any
// number of readers (HTTP subscribers, other replicas) can follow them.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// NewBus connects to redisURL and verifies the connection.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, maxLen: 256, logger: logger}, nil
}

func stream(learnerID string) string { return streamPrefix + learnerID }

// Publish appends ev to the learner's stream. The stream is capped.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream(ev.LearnerID),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream(ev.LearnerID), err)
	}
	ev.ID = id

	b.logger.Debug("event published",
		zap.String("learner", ev.LearnerID),
		zap.String("type", string(ev.Type)),
		zap.String("id", id))
	return nil
}

// FollowupDue publishes a follow-up event for app.
func (b *Bus) FollowupDue(ctx context.Context, app knowledge.ApplicationEvent) error {
	ev := FollowupEvent(app, time.Now().UTC())
	return b.Publish(ctx, &ev)
}

// Subscribe follows the learner's stream from now on. The returned channel
// is closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, learnerID string) <-chan *Event {
	ch := make(chan *Event, 16)
	key := stream(learnerID)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			if ctx.Err() != nil {
				return
			}
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("event stream read failed", zap.String("stream", key), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if err := json.Unmarshal([]byte(data), &ev); err != nil {
						b.logger.Warn("skipping malformed event", zap.String("id", msg.ID), zap.Error(err))
						continue
					}
					ev.ID = msg.ID
					select {
					case ch <- &ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
