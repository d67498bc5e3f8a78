package mw

import (
	"encoding/json"
	"net/http"
)

// Semaphore caps in-flight requests for the demo handler. A zero or negative
// cap disables it.
type Semaphore struct {
	ch chan struct{}
}

func NewSemaphore(maxInFlight int) *Semaphore {
	if maxInFlight <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{ch: make(chan struct{}, maxInFlight)}
}

func (s *Semaphore) Enabled() bool { return s != nil && s.ch != nil }

func (s *Semaphore) Cap() int {
	if !s.Enabled() {
		return 0
	}
	return cap(s.ch)
}

func (s *Semaphore) InUse() int {
	if !s.Enabled() {
		return 0
	}
	return len(s.ch)
}

func (s *Semaphore) tryAcquire() bool {
	if !s.Enabled() {
		return true
	}
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Semaphore) release() {
	if !s.Enabled() {
		return
	}
	select {
	case <-s.ch:
	default:
	}
}

// ConcurrencyLimit sheds load once maxInFlight requests are already being
// served. Unlike the token-bucket limiter it is global, not per key.
func ConcurrencyLimit(sem *Semaphore, next http.Handler) http.Handler {
	if !sem.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sem.tryAcquire() {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":         "too_busy",
				"max_in_flight": sem.Cap(),
			})
			return
		}
		defer sem.release()
		next.ServeHTTP(w, r)
	})
}
