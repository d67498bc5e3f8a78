package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ratelimit:"

// RedisStore implements the Store contract on a Redis server so several
// processes can draw from the same buckets. Each key maps to a hash holding
// the token balance and refill anchor, expired via PEXPIRE.
//
// The store implements only Get/Set/Delete; the decision still happens in the
// Limiter, so the usual read-modify-write caveat applies across processes as
// well as within one.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore wraps a pre-configured client (redis.Client, ClusterClient,
// ...). prefix namespaces the keys; "" selects "ratelimit:".
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (BucketState, bool, error) {
	vals, err := s.client.HMGet(ctx, s.prefix+key, "tokens", "last_refill_ms").Result()
	if err != nil {
		return BucketState{}, false, fmt.Errorf("ratelimit: redis get %q: %w", key, err)
	}
	// HMGET on a missing key returns nils, not an error.
	if vals[0] == nil || vals[1] == nil {
		return BucketState{}, false, nil
	}

	tokens, err := parseRedisFloat(vals[0])
	if err != nil {
		return BucketState{}, false, fmt.Errorf("ratelimit: redis get %q: bad tokens field: %w", key, err)
	}
	lastRefill, err := parseRedisInt(vals[1])
	if err != nil {
		return BucketState{}, false, fmt.Errorf("ratelimit: redis get %q: bad last_refill_ms field: %w", key, err)
	}
	return BucketState{Tokens: tokens, LastRefillMs: lastRefill}, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, state BucketState, ttl time.Duration) error {
	k := s.prefix + key
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k,
		"tokens", strconv.FormatFloat(state.Tokens, 'f', -1, 64),
		"last_refill_ms", strconv.FormatInt(state.LastRefillMs, 10),
	)
	pipe.PExpire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit: redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis delete %q: %w", key, err)
	}
	return nil
}

func parseRedisFloat(v any) (float64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseFloat(str, 64)
}

func parseRedisInt(v any) (int64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseInt(str, 10, 64)
}
