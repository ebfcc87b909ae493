package goSession

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// Config holds every tunable of an [Engine]. Build one with [DefaultConfig],
// adjust it, and pass it to [Builder.WithConfig]. The engine keeps its own
// copy; later changes to the caller's value have no effect.
type Config struct {
	Session SessionConfig `mapstructure:"session"`
	Store   StoreConfig   `mapstructure:"store"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Sweeper SweeperConfig `mapstructure:"sweeper"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and key layout.
type SessionConfig struct {
	// Namespace prefixes every key. Use a hash tag such as "{gosession}:"
	// on Redis Cluster so id rotation stays within one slot.
	Namespace string `mapstructure:"namespace"`
	// DefaultMaxInactiveInterval applies to new sessions. Negative values
	// create sessions that never expire.
	DefaultMaxInactiveInterval time.Duration `mapstructure:"default_max_inactive_interval"`
	// GraceWindow is added to the data key TTL beyond the logical expiry.
	GraceWindow time.Duration `mapstructure:"grace_window"`
	// ExpirationGrace is added on top of GraceWindow for the expiration index.
	ExpirationGrace time.Duration `mapstructure:"expiration_grace"`
	// FindConcurrency bounds parallel loads in principal lookups.
	FindConcurrency int `mapstructure:"find_concurrency"`
}

/*
====================================
STORE CONFIG
====================================
*/

// Store backends accepted by [StoreConfig].
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// StoreConfig selects the session backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig describes how to reach Redis when the engine creates its own
// client. It is ignored when a client is passed to [Builder.WithRedis].
type RedisConfig struct {
	// Addrs lists the server addresses. One address means a standalone
	// server, several mean a cluster, and with MasterName set they are
	// Sentinel addresses.
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	// SentinelUsername and SentinelPassword authenticate against Sentinel
	// itself when it is protected separately from the data nodes.
	SentinelUsername string        `mapstructure:"sentinel_username"`
	SentinelPassword string        `mapstructure:"sentinel_password"`
	DB               int           `mapstructure:"db"`
	PoolSize         int           `mapstructure:"pool_size"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

/*
====================================
SWEEPER CONFIG
====================================
*/

// SweeperConfig controls the background expiration sweep.
type SweeperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// BatchSize is the limit passed to each cleanup call.
	BatchSize int `mapstructure:"batch_size"`
	// MaxBatchesPerTick caps how many full batches one tick drains.
	MaxBatchesPerTick int `mapstructure:"max_batches_per_tick"`
	// MaxRetries is the number of retries of a batch failing with a backend
	// error, on top of the first attempt.
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig controls in-process metric collection.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Namespace:                  session.DefaultNamespace,
			DefaultMaxInactiveInterval: session.DefaultMaxInactiveInterval,
			GraceWindow:                session.DefaultGraceWindow,
			ExpirationGrace:            session.DefaultExpirationGrace,
			FindConcurrency:            8,
		},
		Store: StoreConfig{
			Backend: BackendRedis,
		},
		Redis: RedisConfig{
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:           false,
			Interval:          time.Minute,
			BatchSize:         100,
			MaxBatchesPerTick: 10,
			MaxRetries:        3,
			InitialBackoff:    200 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Redis.Addrs = cloneStrings(cfg.Redis.Addrs)
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting in c.
func (c *Config) Validate() error {
	// Session
	if strings.TrimSpace(c.Session.Namespace) == "" {
		return errors.New("Session Namespace must not be empty")
	}
	if c.Session.DefaultMaxInactiveInterval == 0 {
		return errors.New("Session DefaultMaxInactiveInterval must not be 0")
	}
	if c.Session.DefaultMaxInactiveInterval%time.Second != 0 {
		return errors.New("Session DefaultMaxInactiveInterval must be a whole number of seconds")
	}
	if c.Session.GraceWindow <= 0 {
		return errors.New("Session GraceWindow must be > 0")
	}
	if c.Session.ExpirationGrace <= 0 {
		return errors.New("Session ExpirationGrace must be > 0")
	}
	if c.Session.FindConcurrency <= 0 {
		return errors.New("Session FindConcurrency must be > 0")
	}

	// Store
	switch c.Store.Backend {
	case BackendRedis, BackendMemory:
	default:
		return errors.New("Store Backend must be \"redis\" or \"memory\"")
	}

	// Redis
	if c.Redis.DB < 0 {
		return errors.New("Redis DB must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return errors.New("Redis PoolSize must be >= 0")
	}
	if c.Redis.DialTimeout < 0 || c.Redis.ReadTimeout < 0 || c.Redis.WriteTimeout < 0 {
		return errors.New("Redis timeouts must be >= 0")
	}
	if c.Redis.MasterName != "" && len(c.Redis.Addrs) == 0 {
		return errors.New("Redis MasterName requires Sentinel Addrs")
	}
	if c.Redis.MasterName == "" && len(c.Redis.Addrs) > 1 && c.Redis.DB != 0 {
		return errors.New("Redis DB must be 0 in cluster mode")
	}

	// Sweeper
	if c.Sweeper.Enabled {
		if c.Sweeper.Interval <= 0 {
			return errors.New("Sweeper Interval must be > 0")
		}
		if c.Sweeper.BatchSize <= 0 {
			return errors.New("Sweeper BatchSize must be > 0")
		}
		if c.Sweeper.MaxBatchesPerTick <= 0 {
			return errors.New("Sweeper MaxBatchesPerTick must be > 0")
		}
		if c.Sweeper.MaxRetries < 0 {
			return errors.New("Sweeper MaxRetries must be >= 0")
		}
		if c.Sweeper.InitialBackoff <= 0 {
			return errors.New("Sweeper InitialBackoff must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
