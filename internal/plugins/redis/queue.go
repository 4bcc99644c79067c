package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Khambazarov/hello-word-sub000/internal/core/domain"
	"github.com/Khambazarov/hello-word-sub000/pkg/logging"
)

const (
	defaultStream = "chat:events"
	readBlock     = 2 * time.Second
	readCount     = 64
)

// RedisEventBus fans events out through a single stream. Each node reads it
// with its own consumer group, so every node sees every event.
type RedisEventBus struct {
	rdb    *redis.Client
	log    *slog.Logger
	stream string
	maxLen int64
}

func NewRedisEventBus(rdb *redis.Client, log *slog.Logger, stream string, maxLen int64) *RedisEventBus {
	if stream == "" {
		stream = defaultStream
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisEventBus{rdb: rdb, log: log, stream: stream, maxLen: maxLen}
}

func (q *RedisEventBus) Publish(ctx context.Context, env domain.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": payload},
	}).Err()
}

// Subscribe starts reading new events in the background and returns once the
// group exists. The group is destroyed when ctx ends.
func (q *RedisEventBus) Subscribe(
	ctx context.Context,
	group string,
	handler func(ctx context.Context, eventID string, env domain.Envelope) error,
) error {
	// "$": a fresh node only cares about events published from now on
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	consumerName := uuid.NewString()
	log := q.log.With(slog.String("stream", q.stream), slog.String("group", group))

	go func() {
		defer q.destroyGroup(group)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				// Read new messages (">")
				res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
					Group:    group,
					Consumer: consumerName,
					Streams:  []string{q.stream, ">"},
					Count:    readCount,
					Block:    readBlock,
				}).Result()
				if err != nil {
					if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
						log.Error("event bus - read - failed", logging.Err(err))
						time.Sleep(readBlock)
					}
					continue
				}
				for _, stream := range res {
					for _, msg := range stream.Messages {
						q.dispatch(ctx, log, group, msg, handler)
					}
				}
			}
		}
	}()
	return nil
}

func (q *RedisEventBus) dispatch(
	ctx context.Context,
	log *slog.Logger,
	group string,
	msg redis.XMessage,
	handler func(ctx context.Context, eventID string, env domain.Envelope) error,
) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		_ = q.Acknowledge(ctx, group, msg.ID)
		return
	}
	var env domain.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Warn("event bus - decode - dropped", slog.String("event_id", msg.ID), logging.Err(err))
		_ = q.Acknowledge(ctx, group, msg.ID)
		return
	}
	if err := handler(ctx, msg.ID, env); err != nil {
		log.Error("event bus - handle - failed", slog.String("event_id", msg.ID), logging.Event(env.Event), logging.Err(err))
	}
}

func (q *RedisEventBus) Acknowledge(ctx context.Context, group, eventID string) error {
	return q.rdb.XAck(ctx, q.stream, group, eventID).Err()
}

func (q *RedisEventBus) destroyGroup(group string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.rdb.XGroupDestroy(ctx, q.stream, group).Err(); err != nil {
		q.log.Warn("event bus - destroy group - failed", slog.String("group", group), logging.Err(err))
	}
}
