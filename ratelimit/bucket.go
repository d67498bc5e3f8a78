package ratelimit

import "math"

// refill projects a stored state forward to nowMs. Only whole elapsed
// intervals grant tokens; LastRefillMs advances by exactly the intervals
// granted, so the schedule never drifts and partial intervals carry over to
// the next call.
func (o Options) refill(st BucketState, nowMs int64) BucketState {
	intervalMs := o.RefillInterval.Milliseconds()
	elapsed := nowMs - st.LastRefillMs
	if elapsed < 0 {
		// Clock went backwards (or state came from another host); grant nothing.
		elapsed = 0
	}
	n := elapsed / intervalMs
	tokens := st.Tokens + float64(n)*o.RefillRate
	if tokens > float64(o.Capacity) {
		tokens = float64(o.Capacity)
	}
	return BucketState{
		Tokens:       tokens,
		LastRefillMs: st.LastRefillMs + n*intervalMs,
	}
}

// resetAtMs is the instant the bucket is next completely full: LastRefillMs
// itself when already full, otherwise the whole-interval step that closes the
// remaining gap.
func (o Options) resetAtMs(st BucketState) int64 {
	if st.Tokens >= float64(o.Capacity) {
		return st.LastRefillMs
	}
	intervals := int64(math.Ceil((float64(o.Capacity) - st.Tokens) / o.RefillRate))
	return st.LastRefillMs + intervals*o.RefillInterval.Milliseconds()
}

// retryAfterSeconds is the wait until the next single refill event, not until
// full. After refill, nowMs is always inside the current interval, so a
// rejected call reports at least one second.
func (o Options) retryAfterSeconds(st BucketState, nowMs int64) int {
	waitMs := st.LastRefillMs + o.RefillInterval.Milliseconds() - nowMs
	if waitMs <= 0 {
		return 0
	}
	return int((waitMs + 999) / 1000)
}
