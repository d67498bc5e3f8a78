package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3xpluto/go-rate-limiter/internal/netx"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Limiter LimiterConfig `yaml:"limiter"`
	Store   StoreConfig   `yaml:"store"`
	Keying  KeyingConfig  `yaml:"keying"`
}

type ServerConfig struct {
	Addr                     string   `yaml:"addr"`
	MaxInFlight              int      `yaml:"max_in_flight"`
	SkipPaths                []string `yaml:"skip_paths"`
	ReadTimeoutSeconds       int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds      int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds       int      `yaml:"idle_timeout_seconds"`
	ReadHeaderTimeoutSeconds int      `yaml:"read_header_timeout_seconds"`
}

type LimiterConfig struct {
	Capacity         int64   `yaml:"capacity"`
	RefillRate       float64 `yaml:"refill_rate"`
	RefillIntervalMs int64   `yaml:"refill_interval_ms"`
	FailClosed       bool    `yaml:"fail_closed"`
}

type StoreConfig struct {
	Backend string       `yaml:"backend"` // "memory" | "redis"
	Memory  MemoryConfig `yaml:"memory"`
	Redis   RedisConfig  `yaml:"redis"`
}

type MemoryConfig struct {
	SweepIntervalMs int64 `yaml:"sweep_interval_ms"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type KeyingConfig struct {
	Scope          string   `yaml:"scope"`  // "ip" | "subject" | "header"
	Header         string   `yaml:"header"` // header scope only
	HMACSecret     string   `yaml:"hmac_secret"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadHeaderTimeoutSeconds == 0 {
		cfg.Server.ReadHeaderTimeoutSeconds = 5
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 30
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 60
	}

	if cfg.Limiter.RefillIntervalMs == 0 {
		cfg.Limiter.RefillIntervalMs = 1000
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Memory.SweepIntervalMs == 0 {
		cfg.Store.Memory.SweepIntervalMs = 60_000
	}

	if cfg.Keying.Scope == "" {
		cfg.Keying.Scope = "ip"
	}
}

func Validate(cfg *Config) error {
	if cfg.Limiter.Capacity <= 0 {
		return errors.New("limiter.capacity must be > 0")
	}
	if cfg.Limiter.RefillRate <= 0 {
		return errors.New("limiter.refill_rate must be > 0")
	}
	if cfg.Limiter.RefillIntervalMs <= 0 {
		return errors.New("limiter.refill_interval_ms must be > 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	switch backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Store.Redis.Addr) == "" {
			return errors.New("store.redis.addr is required when backend is redis")
		}
	default:
		return fmt.Errorf("store.backend must be 'memory' or 'redis', got %q", cfg.Store.Backend)
	}

	scope := strings.ToLower(strings.TrimSpace(cfg.Keying.Scope))
	switch scope {
	case "ip":
	case "subject":
		if strings.TrimSpace(cfg.Keying.HMACSecret) == "" {
			return errors.New("keying.hmac_secret is required when scope is subject")
		}
	case "header":
		if strings.TrimSpace(cfg.Keying.Header) == "" {
			return errors.New("keying.header is required when scope is header")
		}
	default:
		return fmt.Errorf("keying.scope must be 'ip', 'subject' or 'header', got %q", cfg.Keying.Scope)
	}

	if _, err := netx.ParseCIDRSet(cfg.Keying.TrustedProxies); err != nil {
		return fmt.Errorf("keying.trusted_proxies: %w", err)
	}

	if cfg.Server.MaxInFlight < 0 {
		return errors.New("server.max_in_flight cannot be negative")
	}
	return nil
}
