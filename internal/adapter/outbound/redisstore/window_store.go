// Package redisstore provides a ratelimit.Store shared between gateway
// replicas through Redis.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pharmalink/pharmagate/internal/domain/ratelimit"
)

// acquireScript prunes, counts and conditionally records in one step.
// Scores are unix milliseconds.
//
// KEYS[1] window key
// ARGV[1] now, ARGV[2] prune cutoff (now - window), ARGV[3] max requests,
// ARGV[4] member, ARGV[5] window in milliseconds
//
// Returns {allowed, count, oldest} with oldest -1 when the set is empty.
var acquireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	count = count + 1
	allowed = 1
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if oldest[2] then
	return {allowed, count, oldest[2]}
end
return {allowed, count, -1}
`)

// scanBatch is the COUNT hint used when iterating keys.
const scanBatch = 200

// WindowStore implements ratelimit.Store on Redis sorted sets, one set per
// key, members scored by request time. Keys expire after one window of
// inactivity so no cleanup loop is needed.
type WindowStore struct {
	client redis.UniversalClient
}

// NewWindowStore creates a store on an existing client. The caller owns
// the client.
func NewWindowStore(client redis.UniversalClient) *WindowStore {
	return &WindowStore{client: client}
}

// Acquire implements ratelimit.Store.
func (s *WindowStore) Acquire(ctx context.Context, key string, now time.Time, policy ratelimit.Policy) (ratelimit.Window, error) {
	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	res, err := acquireScript.Run(ctx, s.client, []string{key},
		nowMs,
		nowMs-windowMs,
		policy.MaxRequests,
		member,
		windowMs,
	).Int64Slice()
	if err != nil {
		return ratelimit.Window{}, fmt.Errorf("acquire script for %s: %w", key, err)
	}
	if len(res) != 3 {
		return ratelimit.Window{}, fmt.Errorf("acquire script for %s: unexpected reply length %d", key, len(res))
	}

	w := ratelimit.Window{
		Allowed: res[0] == 1,
		Count:   int(res[1]),
	}
	if res[2] >= 0 {
		w.Oldest = time.UnixMilli(res[2])
	}
	return w, nil
}

// Peek implements ratelimit.Store.
func (s *WindowStore) Peek(ctx context.Context, key string, now time.Time, policy ratelimit.Policy) (ratelimit.Window, error) {
	lower := "(" + strconv.FormatInt(now.UnixMilli()-policy.Window.Milliseconds(), 10)

	pipe := s.client.Pipeline()
	countCmd := pipe.ZCount(ctx, key, lower, "+inf")
	oldestCmd := pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   lower,
		Max:   "+inf",
		Count: 1,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return ratelimit.Window{}, fmt.Errorf("peek %s: %w", key, err)
	}

	w := ratelimit.Window{Count: int(countCmd.Val())}
	if zs := oldestCmd.Val(); len(zs) > 0 {
		w.Oldest = time.UnixMilli(int64(zs[0].Score))
	}
	return w, nil
}

// Reset implements ratelimit.Store.
func (s *WindowStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ResetAll implements ratelimit.Store.
func (s *WindowStore) ResetAll(ctx context.Context, prefix string) error {
	return s.scan(ctx, prefix, func(keys []string) error {
		return s.client.Del(ctx, keys...).Err()
	})
}

// Stats implements ratelimit.Store.
func (s *WindowStore) Stats(ctx context.Context, prefix string, now time.Time, policy ratelimit.Policy) (ratelimit.Stats, error) {
	var st ratelimit.Stats
	lower := "(" + strconv.FormatInt(now.UnixMilli()-policy.Window.Milliseconds(), 10)

	err := s.scan(ctx, prefix, func(keys []string) error {
		pipe := s.client.Pipeline()
		cmds := make([]*redis.IntCmd, len(keys))
		for i, key := range keys {
			cmds[i] = pipe.ZCount(ctx, key, lower, "+inf")
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		for _, cmd := range cmds {
			valid := int(cmd.Val())
			st.TotalClients++
			st.TotalRequests += valid
			if valid >= policy.MaxRequests {
				st.BlockedClients++
			}
		}
		return nil
	})
	if err != nil {
		return ratelimit.Stats{}, err
	}
	return st, nil
}

// scan calls fn with each non-empty batch of keys starting with prefix.
func (s *WindowStore) scan(ctx context.Context, prefix string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan %s*: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return fmt.Errorf("process %s* batch: %w", prefix, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping checks that Redis is reachable.
func (s *WindowStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Compile-time interface verification.
var _ ratelimit.Store = (*WindowStore)(nil)
