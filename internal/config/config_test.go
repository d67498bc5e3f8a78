package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
limiter:
  capacity: 100
  refill_rate: 10
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Limiter.RefillIntervalMs != 1000 {
		t.Fatalf("refill_interval_ms = %d", cfg.Limiter.RefillIntervalMs)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.Memory.SweepIntervalMs != 60_000 {
		t.Fatalf("sweep_interval_ms = %d", cfg.Store.Memory.SweepIntervalMs)
	}
	if cfg.Keying.Scope != "ip" {
		t.Fatalf("scope = %q", cfg.Keying.Scope)
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  addr: ":9090"
  max_in_flight: 128
  skip_paths: ["/healthz"]
limiter:
  capacity: 50
  refill_rate: 2.5
  refill_interval_ms: 500
  fail_closed: true
store:
  backend: redis
  redis:
    addr: "localhost:6379"
    db: 3
    prefix: "demo:"
keying:
  scope: subject
  hmac_secret: "dev-secret"
  trusted_proxies: ["10.0.0.0/8", "127.0.0.1"]
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limiter.RefillRate != 2.5 || cfg.Limiter.RefillIntervalMs != 500 {
		t.Fatalf("limiter = %+v", cfg.Limiter)
	}
	if !cfg.Limiter.FailClosed {
		t.Fatal("fail_closed not read")
	}
	if cfg.Store.Redis.DB != 3 || cfg.Store.Redis.Prefix != "demo:" {
		t.Fatalf("redis = %+v", cfg.Store.Redis)
	}
	if cfg.Server.MaxInFlight != 128 {
		t.Fatalf("max_in_flight = %d", cfg.Server.MaxInFlight)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"zero capacity", "limiter:\n  refill_rate: 1\n", "limiter.capacity"},
		{"zero rate", "limiter:\n  capacity: 10\n", "limiter.refill_rate"},
		{
			"negative interval",
			"limiter:\n  capacity: 10\n  refill_rate: 1\n  refill_interval_ms: -5\n",
			"limiter.refill_interval_ms",
		},
		{
			"unknown backend",
			"limiter:\n  capacity: 10\n  refill_rate: 1\nstore:\n  backend: etcd\n",
			"store.backend",
		},
		{
			"redis without addr",
			"limiter:\n  capacity: 10\n  refill_rate: 1\nstore:\n  backend: redis\n",
			"store.redis.addr",
		},
		{
			"subject without secret",
			"limiter:\n  capacity: 10\n  refill_rate: 1\nkeying:\n  scope: subject\n",
			"keying.hmac_secret",
		},
		{
			"header without name",
			"limiter:\n  capacity: 10\n  refill_rate: 1\nkeying:\n  scope: header\n",
			"keying.header",
		},
		{
			"bad trusted proxy",
			"limiter:\n  capacity: 10\n  refill_rate: 1\nkeying:\n  trusted_proxies: [\"not-an-ip\"]\n",
			"keying.trusted_proxies",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, c.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("error %q does not mention %q", err, c.want)
			}
		})
	}
}
