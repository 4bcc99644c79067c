package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "presence:users"

// RedisPresenceStore scores each online user by the time its heartbeat expires.
type RedisPresenceStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisPresenceStore(rdb *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
		now: time.Now,
	}
}

// MarkOnline adds/updates the user with its expiry timestamp.
func (p *RedisPresenceStore) MarkOnline(ctx context.Context, userID string, ttl time.Duration) error {
	return p.rdb.ZAdd(ctx, presenceKey, redis.Z{
		Score:  float64(p.now().Add(ttl).Unix()),
		Member: userID,
	}).Err()
}

func (p *RedisPresenceStore) MarkOffline(ctx context.Context, userID string) error {
	return p.rdb.ZRem(ctx, presenceKey, userID).Err()
}

func (p *RedisPresenceStore) OnlineAmong(ctx context.Context, userIDs []string) (map[string]bool, error) {
	online := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}
	now := p.now().Unix()

	// Remove stale members first (Self-cleaning)
	if err := p.rdb.ZRemRangeByScore(ctx, presenceKey, "-inf", strconv.FormatInt(now, 10)).Err(); err != nil {
		return nil, err
	}

	pipe := p.rdb.Pipeline()
	cmds := make([]*redis.FloatCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.ZScore(ctx, presenceKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, id := range userIDs {
		score, err := cmds[i].Result()
		online[id] = err == nil && int64(score) > now
	}
	return online, nil
}
