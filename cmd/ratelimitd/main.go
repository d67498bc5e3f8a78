package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/3xpluto/go-rate-limiter/httplimit"
	"github.com/3xpluto/go-rate-limiter/internal/config"
	"github.com/3xpluto/go-rate-limiter/internal/logging"
	"github.com/3xpluto/go-rate-limiter/internal/mw"
	"github.com/3xpluto/go-rate-limiter/internal/netx"
	"github.com/3xpluto/go-rate-limiter/ratelimit"
)

func main() {
	var configPath string
	var validateOnly bool
	flag.StringVar(&configPath, "config", "./config/config.example.yaml", "path to yaml config")
	flag.BoolVar(&validateOnly, "validate-config", false, "validate config and exit")
	flag.Parse()

	log := logging.New()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if validateOnly {
		log.Info("config ok")
		return
	}

	// ---- Store backend
	var store ratelimit.Store
	var memStore *ratelimit.MemoryStore
	var rdb *redis.Client

	switch strings.ToLower(cfg.Store.Backend) {
	case "redis":
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unreachable; falling back to memory store", slog.String("error", err.Error()))
			_ = rdb.Close()
			rdb = nil
			memStore = ratelimit.NewMemoryStore(time.Duration(cfg.Store.Memory.SweepIntervalMs) * time.Millisecond)
			store = memStore
		} else {
			store = ratelimit.NewRedisStore(rdb, cfg.Store.Redis.Prefix)
		}

	default: // validated: "memory"
		memStore = ratelimit.NewMemoryStore(time.Duration(cfg.Store.Memory.SweepIntervalMs) * time.Millisecond)
		store = memStore
	}
	defer func() {
		if memStore != nil {
			_ = memStore.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}()

	// ---- Limiter
	limiter, err := ratelimit.NewWithStore(ratelimit.Options{
		Capacity:       cfg.Limiter.Capacity,
		RefillRate:     cfg.Limiter.RefillRate,
		RefillInterval: time.Duration(cfg.Limiter.RefillIntervalMs) * time.Millisecond,
	}, store)
	if err != nil {
		log.Error("failed to build limiter", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer limiter.Close()

	// ---- Key extraction
	trusted, err := netx.ParseCIDRSet(cfg.Keying.TrustedProxies)
	if err != nil {
		log.Error("invalid trusted_proxies", slog.String("error", err.Error()))
		os.Exit(1)
	}
	ipKey := httplimit.ClientIPKey(trusted)

	var keyFunc httplimit.KeyFunc
	switch strings.ToLower(cfg.Keying.Scope) {
	case "subject":
		keyFunc = httplimit.SubjectKey([]byte(cfg.Keying.HMACSecret), ipKey)
	case "header":
		keyFunc = httplimit.HeaderKey(cfg.Keying.Header, ipKey)
	default: // validated: "ip"
		keyFunc = ipKey
	}

	// ---- Metrics
	reg := prometheus.NewRegistry()
	serverMetrics := mw.NewMetrics(reg)
	limitMetrics := httplimit.NewMetrics(reg)

	// ---- Limiter options
	skip := map[string]struct{}{}
	for _, p := range cfg.Server.SkipPaths {
		skip[p] = struct{}{}
	}
	limitOpts := []httplimit.Option{
		httplimit.WithKeyFunc(keyFunc),
		httplimit.WithMetrics(limitMetrics),
		httplimit.WithSkip(func(r *http.Request) bool {
			_, ok := skip[r.URL.Path]
			return ok
		}),
	}
	if cfg.Limiter.FailClosed {
		limitOpts = append(limitOpts, httplimit.WithOnError(httplimit.FailClosed))
	}

	// ---- Demo handler behind the limiter
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service": "ratelimitd",
			"method":  r.Method,
			"path":    r.URL.Path,
			"query":   r.URL.RawQuery,
		})
	})

	sem := mw.NewSemaphore(cfg.Server.MaxInFlight)

	var h http.Handler = echo
	h = mw.ConcurrencyLimit(sem, h)
	h = httplimit.Handler(limiter, h, limitOpts...)
	h = mw.Recover(log, h)
	h = mw.AccessLog(log, h)
	h = mw.Instrument(serverMetrics, h)
	h = mw.RequestID(h)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	// ---- Admin endpoints (guarded)
	adminKey := os.Getenv("RATELIMITD_ADMIN_KEY")
	startedAt := time.Now()

	mux.Handle("/-/status", mw.RequireAdminKey(adminKey, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"time_utc":       time.Now().UTC().Format(time.RFC3339),
			"uptime_seconds": int(time.Since(startedAt).Seconds()),
			"listen_addr":    cfg.Server.Addr,
			"store_backend":  cfg.Store.Backend,
			"keying_scope":   cfg.Keying.Scope,
		})
	})))

	mux.Handle("/-/limits", mw.RequireAdminKey(adminKey, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		out := map[string]any{
			"capacity":           cfg.Limiter.Capacity,
			"refill_rate":        cfg.Limiter.RefillRate,
			"refill_interval_ms": cfg.Limiter.RefillIntervalMs,
			"fail_closed":        cfg.Limiter.FailClosed,
		}
		if memStore != nil {
			out["tracked_keys"] = memStore.Size()
		}
		if sem.Enabled() {
			out["concurrency"] = map[string]any{
				"max_in_flight": sem.Cap(),
				"in_flight":     sem.InUse(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})))

	mux.Handle("/", h)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info("ratelimitd listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("backend", cfg.Store.Backend),
			slog.Int64("capacity", cfg.Limiter.Capacity),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("shutdown complete")
}
