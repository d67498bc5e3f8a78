// Package httplimit adapts a ratelimit.Limiter to net/http. It extracts a
// bucket key from each request, consumes one token, mirrors the decision into
// standard X-RateLimit-* headers and turns rejections into 429 responses.
// Key extraction, bypassing, rejection rendering and store-error policy are
// all injectable.
package httplimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/3xpluto/go-rate-limiter/ratelimit"
)

// KeyFunc derives the bucket key for a request. Returning "" skips limiting
// for that request (e.g. a subject extractor with no fallback).
type KeyFunc func(r *http.Request) string

// RejectFunc renders the response for a denied request. Rate-limit headers
// are already set when it runs.
type RejectFunc func(w http.ResponseWriter, r *http.Request, res ratelimit.Result)

// ErrorFunc decides what happens when the store fails. The default fails
// open: the request proceeds unlimited.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, next http.Handler, err error)

type options struct {
	key      KeyFunc
	skip     func(r *http.Request) bool
	onReject RejectFunc
	onError  ErrorFunc
	metrics  *Metrics
	cost     int64
}

type Option func(*options)

// WithKeyFunc replaces the default RemoteAddrKey strategy.
func WithKeyFunc(f KeyFunc) Option { return func(o *options) { o.key = f } }

// WithSkip bypasses limiting entirely for requests the predicate accepts
// (health checks, allow-listed callers). Skipped requests touch no bucket.
func WithSkip(f func(r *http.Request) bool) Option { return func(o *options) { o.skip = f } }

// WithOnReject replaces the default 429 JSON response.
func WithOnReject(f RejectFunc) Option { return func(o *options) { o.onReject = f } }

// WithOnError replaces the fail-open store-error policy.
func WithOnError(f ErrorFunc) Option { return func(o *options) { o.onError = f } }

// WithMetrics records decisions and store latency on m.
func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

// WithCost charges n tokens per request instead of 1.
func WithCost(n int64) Option { return func(o *options) { o.cost = n } }

// Handler wraps next with per-key admission control on l.
func Handler(l *ratelimit.Limiter, next http.Handler, opts ...Option) http.Handler {
	o := options{
		key:      RemoteAddrKey,
		onReject: defaultReject,
		onError:  failOpen,
		cost:     1,
	}
	for _, opt := range opts {
		opt(&o)
	}

	limit := strconv.FormatInt(l.Options().Capacity, 10)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.skip != nil && o.skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		key := o.key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		res, err := l.ConsumeN(r.Context(), key, o.cost)
		if o.metrics != nil {
			o.metrics.observe(res, err, time.Since(start))
		}
		if err != nil {
			o.onError(w, r, next, err)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.UnixMilli()/1000, 10))

		if !res.Allowed {
			h.Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
			o.onReject(w, r, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func defaultReject(w http.ResponseWriter, r *http.Request, res ratelimit.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":               "rate_limited",
		"retry_after_seconds": res.RetryAfterSeconds,
	})
}

func failOpen(w http.ResponseWriter, r *http.Request, next http.Handler, err error) {
	next.ServeHTTP(w, r)
}

// FailClosed is an ErrorFunc that denies traffic when the store is down,
// for callers that prefer protection over availability.
func FailClosed(w http.ResponseWriter, r *http.Request, next http.Handler, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": "rate_limiter_unavailable",
	})
}
