package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Lock backends.
const (
	LockBackendStore = "store"
	LockBackendRedis = "redis"
)

// Sweep modes.
const (
	SweepModeThread   = "thread"
	SweepModeDisabled = "disabled"
)

// Sweep and long-poll bounds. Values outside a range are clamped, never rejected.
const (
	DefaultSweepInterval   = 60 * time.Second
	MinSweepInterval       = 10 * time.Second
	MaxSweepInterval       = 3600 * time.Second
	DefaultOnlineThreshold = 300 * time.Second
	MinOnlineThreshold     = 15 * time.Second
	MaxOnlineThreshold     = 3600 * time.Second
	DefaultOfflineGrace    = 30 * time.Second
	MinOfflineGrace        = 0
	MaxOfflineGrace        = 600 * time.Second
	DefaultLongPollSlice   = 150 * time.Millisecond
	MinLongPollSlice       = 100 * time.Millisecond
	MaxLongPollSlice       = 200 * time.Millisecond
)

// Sweep captures the presence sweep settings.
type Sweep struct {
	Enabled         bool
	Mode            string
	Interval        time.Duration
	OnlineThreshold time.Duration
	Grace           time.Duration
}

// Config captures environment driven configuration values for the presence service.
type Config struct {
	HTTPPort      int
	StoreDriver   string
	StoreDSN      string
	LockBackend   string
	RedisURL      string
	LockTTL       time.Duration
	Sweep         Sweep
	LongPollSlice time.Duration
	LogLevel      slog.Level
}

// LoadDotEnv loads variables from the given files, ".env" when none are
// named. Missing files are ignored and variables already present in the
// environment are never overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("設定ファイルを読み込めません: %s: %w", p, err)
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("設定ファイルを読み込めません: %w", err)
	}
	return nil
}

// Load parses configuration values from the current process environment.
//
// Connection settings are validated and reported with localized messages.
// Sweep settings never fail: malformed values fall back to their defaults
// and out-of-range values are clamped.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:      8080,
		StoreDriver:   DriverSQLite,
		StoreDSN:      "file:presence.db",
		LockBackend:   LockBackendStore,
		RedisURL:      "redis://localhost:6379/0",
		LockTTL:       5 * time.Minute,
		LongPollSlice: DefaultLongPollSlice,
		LogLevel:      slog.LevelInfo,
		Sweep: Sweep{
			Enabled:         true,
			Mode:            SweepModeThread,
			Interval:        DefaultSweepInterval,
			OnlineThreshold: DefaultOnlineThreshold,
			Grace:           DefaultOfflineGrace,
		},
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if portValue := env("PRESENCE_HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "PRESENCE_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if driver := strings.ToLower(env("PRESENCE_STORE_DRIVER")); driver != "" {
		switch driver {
		case DriverSQLite, DriverMySQL, DriverPostgres, DriverMemory:
			cfg.StoreDriver = driver
		default:
			invalid = append(invalid, "PRESENCE_STORE_DRIVER")
		}
	}

	if dsn := env("PRESENCE_STORE_DSN"); dsn != "" {
		cfg.StoreDSN = dsn
	} else if cfg.StoreDriver == DriverMySQL || cfg.StoreDriver == DriverPostgres {
		missing = append(missing, "PRESENCE_STORE_DSN")
	}

	if backend := strings.ToLower(env("PRESENCE_LOCK_BACKEND")); backend != "" {
		switch backend {
		case LockBackendStore, LockBackendRedis:
			cfg.LockBackend = backend
		default:
			invalid = append(invalid, "PRESENCE_LOCK_BACKEND")
		}
	}

	if url := env("PRESENCE_REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}

	if ttlValue := env("PRESENCE_LOCK_TTL"); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "PRESENCE_LOCK_TTL")
		} else {
			cfg.LockTTL = ttl
		}
	}

	if levelValue := env("PRESENCE_LOG_LEVEL"); levelValue != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(levelValue)); err != nil {
			invalid = append(invalid, "PRESENCE_LOG_LEVEL")
		}
	}

	cfg.Sweep.Enabled = parseBool(env("PRESENCE_SWEEP_ENABLED"), true)
	if strings.EqualFold(env("PRESENCE_SWEEP_MODE"), SweepModeDisabled) {
		cfg.Sweep.Mode = SweepModeDisabled
	}
	cfg.Sweep.Interval = secondsSetting("PRESENCE_SWEEP_INTERVAL_SECONDS", DefaultSweepInterval, MinSweepInterval, MaxSweepInterval)
	cfg.Sweep.OnlineThreshold = secondsSetting("PRESENCE_ONLINE_THRESHOLD_SECONDS", DefaultOnlineThreshold, MinOnlineThreshold, MaxOnlineThreshold)
	cfg.Sweep.Grace = secondsSetting("PRESENCE_OFFLINE_GRACE_SECONDS", DefaultOfflineGrace, MinOfflineGrace, MaxOfflineGrace)
	cfg.LongPollSlice = clamp(
		durationSetting(env("PRESENCE_LONGPOLL_SLICE_MS"), time.Millisecond, DefaultLongPollSlice),
		MinLongPollSlice, MaxLongPollSlice,
	)

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func secondsSetting(key string, fallback, lo, hi time.Duration) time.Duration {
	return clamp(durationSetting(env(key), time.Second, fallback), lo, hi)
}

// durationSetting parses an integer count of unit. Fractions are truncated.
func durationSetting(value string, unit, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(n) {
		return fallback
	}
	if n > float64(1<<31) {
		n = float64(1 << 31)
	}
	if n < -float64(1<<31) {
		n = -float64(1 << 31)
	}
	return time.Duration(int64(n)) * unit
}

func clamp(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
