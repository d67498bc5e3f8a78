package ratelimit

import (
	"context"
	"io"
	"math"
	"time"
)

// Limiter applies one refill schedule to any number of independent keys.
// It holds no authoritative state of its own; the store is the single source
// of truth.
type Limiter struct {
	opts      Options
	store     Store
	ownsStore bool

	now func() time.Time
}

// New builds a Limiter backed by its own MemoryStore with the default sweep
// period. Close releases that store.
func New(opts Options) (*Limiter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		opts:      opts,
		store:     NewMemoryStore(0),
		ownsStore: true,
		now:       time.Now,
	}, nil
}

// NewWithStore builds a Limiter on a caller-owned store. Close does not touch
// the store; its lifecycle stays with the caller.
func NewWithStore(opts Options, store Store) (*Limiter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		opts:  opts,
		store: store,
		now:   time.Now,
	}, nil
}

// Options returns the limiter's refill schedule.
func (l *Limiter) Options() Options { return l.opts }

// Check reports whether one unit of work could proceed for key right now,
// without consuming anything. It never writes to the store, so repeated calls
// return identical results until time passes or Consume runs.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	nowMs := l.now().UnixMilli()
	st, err := l.load(ctx, key, nowMs)
	if err != nil {
		return Result{}, err
	}
	st = l.opts.refill(st, nowMs)
	return l.result(st, nowMs, st.Tokens >= 1), nil
}

// Consume takes one token from key's bucket.
func (l *Limiter) Consume(ctx context.Context, key string) (Result, error) {
	return l.ConsumeN(ctx, key, 1)
}

// ConsumeN takes n tokens from key's bucket. On admission the decremented
// state is persisted with the derived TTL; on rejection nothing is written
// and the bucket is left exactly as stored.
//
// The read-modify-write sequence is not atomic: two concurrent calls for the
// same key can both observe the pre-update state, and one consumption is then
// lost. That is a property of the Get/Set store contract, shared by every
// backend.
func (l *Limiter) ConsumeN(ctx context.Context, key string, n int64) (Result, error) {
	if n < 1 {
		return Result{}, ErrInvalidCost
	}
	nowMs := l.now().UnixMilli()
	st, err := l.load(ctx, key, nowMs)
	if err != nil {
		return Result{}, err
	}
	st = l.opts.refill(st, nowMs)

	if st.Tokens < float64(n) {
		return l.result(st, nowMs, false), nil
	}

	st.Tokens -= float64(n)
	if err := l.store.Set(ctx, key, st, l.opts.ttl()); err != nil {
		return Result{}, err
	}
	return l.result(st, nowMs, true), nil
}

// Reset forgets key's bucket; the next call sees a full bucket again.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

// Close releases the store when the limiter owns it (see New). Limiters built
// with NewWithStore leave the store untouched.
func (l *Limiter) Close() error {
	if !l.ownsStore {
		return nil
	}
	if c, ok := l.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// load fetches key's state, treating absence as a fresh full bucket anchored
// at nowMs.
func (l *Limiter) load(ctx context.Context, key string, nowMs int64) (BucketState, error) {
	st, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return BucketState{}, err
	}
	if !ok {
		return BucketState{Tokens: float64(l.opts.Capacity), LastRefillMs: nowMs}, nil
	}
	return st, nil
}

func (l *Limiter) result(st BucketState, nowMs int64, allowed bool) Result {
	res := Result{
		Allowed:   allowed,
		Remaining: int64(math.Floor(st.Tokens)),
		ResetAt:   time.UnixMilli(l.opts.resetAtMs(st)),
	}
	if !allowed {
		res.RetryAfterSeconds = l.opts.retryAfterSeconds(st, nowMs)
	}
	return res
}
