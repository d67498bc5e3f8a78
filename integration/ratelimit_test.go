package integration_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3xpluto/go-rate-limiter/httplimit"
	"github.com/3xpluto/go-rate-limiter/internal/mw"
	"github.com/3xpluto/go-rate-limiter/ratelimit"
)

// buildHandler assembles the same chain cmd/ratelimitd uses, minus the mux.
func buildHandler(t *testing.T, limiter *ratelimit.Limiter, reg *prometheus.Registry, opts ...httplimit.Option) http.Handler {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"service": "ratelimitd", "path": r.URL.Path})
	})

	var h http.Handler = echo
	h = httplimit.Handler(limiter, h, opts...)
	h = mw.Recover(log, h)
	h = mw.AccessLog(log, h)
	h = mw.Instrument(mw.NewMetrics(reg), h)
	h = mw.RequestID(h)
	return h
}

func TestEndToEndLimitAndRefill(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Options{
		Capacity:       3,
		RefillRate:     1,
		RefillInterval: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer limiter.Close()

	reg := prometheus.NewRegistry()
	limitMetrics := httplimit.NewMetrics(reg)
	srv := httptest.NewServer(buildHandler(t, limiter, reg,
		httplimit.WithMetrics(limitMetrics),
	))
	defer srv.Close()

	get := func() *http.Response {
		resp, err := http.Get(srv.URL + "/work")
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	// Burst drains the bucket.
	for i := 0; i < 3; i++ {
		resp := get()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, resp.StatusCode)
		}
		wantRemaining := strconv.Itoa(3 - i - 1)
		if got := resp.Header.Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Fatalf("request %d: remaining %q, want %q", i+1, got, wantRemaining)
		}
		if resp.Header.Get("X-Request-Id") == "" {
			t.Fatal("request id header missing")
		}
	}

	resp := get()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", resp.StatusCode)
	}
	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Fatalf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("limit header = %q", got)
	}

	// One refill interval later a single token is back.
	time.Sleep(250 * time.Millisecond)
	if resp := get(); resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d after refill, want 200", resp.StatusCode)
	}
	if resp := get(); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429 (only one token refilled)", resp.StatusCode)
	}

	// The decision counters made it to the registry.
	metricsSrv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer metricsSrv.Close()
	mresp, err := http.Get(metricsSrv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer mresp.Body.Close()
	body, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(body), `ratelimit_decisions_total{outcome="limited"}`) {
		t.Fatal("expected limited decisions in /metrics output")
	}
}

func TestEndToEndSubjectScope(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Options{
		Capacity:       2,
		RefillRate:     1,
		RefillInterval: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer limiter.Close()

	secret := []byte("integration-secret")
	srv := httptest.NewServer(buildHandler(t, limiter, prometheus.NewRegistry(),
		httplimit.WithKeyFunc(httplimit.SubjectKey(secret, httplimit.RemoteAddrKey)),
	))
	defer srv.Close()

	getAs := func(sub string) int {
		claims := jwt.MapClaims{
			"sub": sub,
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		if err != nil {
			t.Fatal(err)
		}
		req, _ := http.NewRequest("GET", srv.URL+"/work", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	// Alice spends her budget; Bob still has his own, from the same address.
	for i := 0; i < 2; i++ {
		if code := getAs("alice"); code != http.StatusOK {
			t.Fatalf("alice %d: status %d", i+1, code)
		}
	}
	if code := getAs("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("alice over budget: status %d, want 429", code)
	}
	if code := getAs("bob"); code != http.StatusOK {
		t.Fatalf("bob: status %d, want independent budget", code)
	}
}

func TestEndToEndSkipPaths(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Options{
		Capacity:       1,
		RefillRate:     1,
		RefillInterval: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer limiter.Close()

	srv := httptest.NewServer(buildHandler(t, limiter, prometheus.NewRegistry(),
		httplimit.WithSkip(func(r *http.Request) bool { return r.URL.Path == "/healthz" }),
	))
	defer srv.Close()

	for i := 0; i < 10; i++ {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("health check %d limited: status %d", i+1, resp.StatusCode)
		}
	}
}
