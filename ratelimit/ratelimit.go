// Package ratelimit implements token-bucket admission control with pluggable
// state storage.
//
// A Limiter answers one question per key: may the next unit of work proceed?
// Bucket state is recomputed lazily from the stored (tokens, lastRefill) pair
// on every call, so idle keys cost nothing and there are no per-key timers.
// State lives behind the Store interface; MemoryStore is the in-process
// default and RedisStore shares state through a Redis server.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidCapacity       = errors.New("ratelimit: capacity must be > 0")
	ErrInvalidRefillRate     = errors.New("ratelimit: refill rate must be > 0")
	ErrInvalidRefillInterval = errors.New("ratelimit: refill interval must be > 0")
	ErrInvalidCost           = errors.New("ratelimit: cost must be >= 1")
)

// BucketState is the persisted fill level of one key's bucket.
//
// Tokens may be fractional when RefillRate is not an integer; LastRefillMs is
// Unix milliseconds and always stays aligned to whole refill intervals.
type BucketState struct {
	Tokens       float64
	LastRefillMs int64
}

// Store is the key-value seam the limiter runs on. Implementations may be
// backed by network I/O; all methods honor the context.
//
// Get reports absent keys as (zero, false, nil) — a missing or expired entry
// is not an error. Set upserts and replaces any previous TTL. Delete is a
// no-op for unknown keys.
type Store interface {
	Get(ctx context.Context, key string) (BucketState, bool, error)
	Set(ctx context.Context, key string, state BucketState, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Options define one limiter's refill schedule: RefillRate tokens are added
// every RefillInterval, capped at Capacity. Immutable after construction.
type Options struct {
	Capacity       int64
	RefillRate     float64
	RefillInterval time.Duration
}

func (o Options) validate() error {
	if o.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if o.RefillRate <= 0 || math.IsNaN(o.RefillRate) || math.IsInf(o.RefillRate, 0) {
		return ErrInvalidRefillRate
	}
	if o.RefillInterval < time.Millisecond {
		return ErrInvalidRefillInterval
	}
	return nil
}

// ttl is how long stored state stays readable: twice the time an empty bucket
// needs to refill completely. A bucket can therefore never be evicted while it
// could still be below capacity.
func (o Options) ttl() time.Duration {
	intervals := int64(math.Ceil(float64(o.Capacity) / o.RefillRate))
	return 2 * time.Duration(intervals) * o.RefillInterval
}

// Result is the outcome of a Check or Consume call.
type Result struct {
	// Allowed reports whether the work unit may proceed.
	Allowed bool
	// Remaining is the whole number of tokens left in the bucket.
	Remaining int64
	// ResetAt is when the bucket will next be completely full.
	ResetAt time.Time
	// RetryAfterSeconds is the wait until the next refill event, rounded up
	// to whole seconds. Zero when Allowed, at least 1 otherwise.
	RetryAfterSeconds int
}
