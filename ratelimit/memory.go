package ratelimit

import (
	"context"
	"sync"
	"time"
)

const defaultSweepEvery = time.Minute

type memEntry struct {
	state       BucketState
	expiresAtMs int64
}

// MemoryStore is the in-process reference Store: a map with lazy expiry on
// read and a periodic background sweep that evicts entries nobody reads
// anymore. Safe for concurrent use. Each store owns its own sweep goroutine,
// so independent instances never interfere.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]memEntry

	sweepEvery time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once

	now func() time.Time
}

// NewMemoryStore starts a store whose sweep runs every sweepEvery;
// sweepEvery <= 0 selects the one-minute default. The sweep is best-effort
// maintenance — correctness comes from lazy expiry on Get.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepEvery
	}
	s := &MemoryStore{
		m:          make(map[string]memEntry),
		sweepEvery: sweepEvery,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) (BucketState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok {
		return BucketState{}, false, nil
	}
	if e.expiresAtMs <= s.now().UnixMilli() {
		delete(s.m, key)
		return BucketState{}, false, nil
	}
	return e.state, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, state BucketState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[key] = memEntry{
		state:       state,
		expiresAtMs: s.now().Add(ttl).UnixMilli(),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.m, key)
	return nil
}

// Size is the number of unexpired entries currently held.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	n := 0
	for _, e := range s.m {
		if e.expiresAtMs > nowMs {
			n++
		}
	}
	return n
}

// Close stops the sweep and drops all entries. The store must not be used
// after Close.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	s.m = make(map[string]memEntry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) sweepLoop() {
	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli()
	for k, e := range s.m {
		if e.expiresAtMs <= nowMs {
			delete(s.m, k)
		}
	}
}
