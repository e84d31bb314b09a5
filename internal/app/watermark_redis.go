package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// clearScript keeps the newer timestamp and reports whether the write won.
// Equal timestamps are accepted so a retried clear is idempotent.
var clearScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisWatermarks stores cleared-at watermarks in redis so the external
// message store can read the same keys when filtering history.
type RedisWatermarks struct {
	client *redis.Client
}

var _ WatermarkStore = (*RedisWatermarks)(nil)

func NewRedisWatermarks(client *redis.Client) *RedisWatermarks {
	return &RedisWatermarks{client: client}
}

func watermarkKey(user domain.UserID, room domain.RoomID) string {
	return "wm:" + string(user) + ":" + string(room)
}

func (s *RedisWatermarks) Clear(ctx context.Context, user domain.UserID, room domain.RoomID, at time.Time) error {
	n, err := clearScript.Run(ctx, s.client, []string{watermarkKey(user, room)}, at.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	if n == 0 {
		return core.ErrStaleClear
	}
	return nil
}

func (s *RedisWatermarks) Get(ctx context.Context, user domain.UserID, room domain.RoomID) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, watermarkKey(user, room)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get: %w", err)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get: bad watermark %q: %w", val, err)
	}
	return time.UnixMilli(ms), true, nil
}
