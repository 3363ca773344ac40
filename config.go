package sessioncore

import (
	"errors"
	"time"
)

// Config defines the engine configuration.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable unless documented otherwise.
type Config struct {
	Session   SessionConfig
	Quota     QuotaConfig
	Cache     CacheConfig
	Store     StoreConfig
	Lifecycle LifecycleConfig
	Events    EventsConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetimes and per-user capacity.
type SessionConfig struct {
	// DefaultTTL is the session lifetime when creation passes none.
	DefaultTTL time.Duration
	// MaxTTL caps both creation TTLs and extensions. Zero means uncapped.
	MaxTTL time.Duration
	// MaxSessionsPerUser is the per-user active session cap. Creating the
	// (N+1)th session evicts the least-recently-accessed one.
	MaxSessionsPerUser int
}

/*
====================================
QUOTA CONFIG
====================================
*/

// QuotaConfig controls the per-session memory quota.
type QuotaConfig struct {
	// DefaultMemoryLimit is the byte ceiling on the mutable payload when
	// creation passes none.
	DefaultMemoryLimit int64
	// WarningThreshold is the fraction of the limit at which a non-blocking
	// warning event is emitted. Must be in (0, 1].
	WarningThreshold float64
	// ConversationHistoryKeep, SearchHistoryKeep, and RecentToolCallsKeep
	// bound the whitelist sub-collections retained by over-limit truncation.
	ConversationHistoryKeep int
	SearchHistoryKeep       int
	RecentToolCallsKeep     int
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig controls the Redis mirror.
type CacheConfig struct {
	// Prefix sets the Redis key namespace.
	Prefix string
	// OpTimeout bounds every cache call. Cache timeouts degrade to
	// durable-only operation and are never surfaced to callers.
	OpTimeout time.Duration
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls durable store access.
type StoreConfig struct {
	// OpTimeout bounds every durable store call. A durable timeout fails
	// the whole operation; there is no cache-only fallback.
	OpTimeout time.Duration
}

/*
====================================
LIFECYCLE CONFIG
====================================
*/

// LifecycleConfig controls the two periodic maintenance tasks.
type LifecycleConfig struct {
	// Enabled starts the scheduler on Build. Tests that drive sweeps
	// manually leave it off.
	Enabled bool
	// SweepInterval is the expiry sweep period.
	SweepInterval time.Duration
	// SweepBatchLimit bounds rows handled per sweep pass. Zero means
	// unbounded.
	SweepBatchLimit int
	// AggregationInterval is the usage aggregation period.
	AggregationInterval time.Duration
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig controls the lifecycle event dispatcher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is full.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the internal counter registry.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			DefaultTTL:         30 * time.Minute,
			MaxTTL:             24 * time.Hour,
			MaxSessionsPerUser: 10,
		},
		Quota: QuotaConfig{
			DefaultMemoryLimit:      1 << 20, // 1 MiB
			WarningThreshold:        0.8,
			ConversationHistoryKeep: 10,
			SearchHistoryKeep:       5,
			RecentToolCallsKeep:     5,
		},
		Cache: CacheConfig{
			Prefix:    "sc",
			OpTimeout: 2 * time.Second,
		},
		Store: StoreConfig{
			OpTimeout: 5 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			Enabled:             true,
			SweepInterval:       time.Minute,
			SweepBatchLimit:     500,
			AggregationInterval: 5 * time.Minute,
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultConfig returns the engine defaults. Callers may adjust the returned
// value before passing it to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	// All fields are value types; a shallow copy is a full copy.
	return cfg
}

func (c *Config) validate() error {
	if c.Session.DefaultTTL <= 0 {
		return errors.New("session default ttl must be positive")
	}
	if c.Session.MaxTTL < 0 {
		return errors.New("session max ttl must not be negative")
	}
	if c.Session.MaxTTL > 0 && c.Session.MaxTTL < c.Session.DefaultTTL {
		return errors.New("session max ttl below default ttl")
	}
	if c.Session.MaxSessionsPerUser < 1 {
		return errors.New("max sessions per user must be at least 1")
	}
	if c.Quota.DefaultMemoryLimit <= 0 {
		return errors.New("default memory limit must be positive")
	}
	if c.Quota.WarningThreshold <= 0 || c.Quota.WarningThreshold > 1 {
		return errors.New("quota warning threshold must be in (0, 1]")
	}
	if c.Quota.ConversationHistoryKeep < 0 || c.Quota.SearchHistoryKeep < 0 || c.Quota.RecentToolCallsKeep < 0 {
		return errors.New("quota truncation keeps must not be negative")
	}
	if c.Cache.OpTimeout <= 0 {
		return errors.New("cache op timeout must be positive")
	}
	if c.Store.OpTimeout <= 0 {
		return errors.New("store op timeout must be positive")
	}
	if c.Lifecycle.Enabled {
		if c.Lifecycle.SweepInterval <= 0 {
			return errors.New("sweep interval must be positive")
		}
		if c.Lifecycle.AggregationInterval <= 0 {
			return errors.New("aggregation interval must be positive")
		}
	}
	if c.Lifecycle.SweepBatchLimit < 0 {
		return errors.New("sweep batch limit must not be negative")
	}
	if c.Events.Enabled && c.Events.BufferSize < 1 {
		return errors.New("event buffer size must be at least 1")
	}
	return nil
}
