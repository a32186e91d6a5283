package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tandemcad/tandem/pkg/collab"
)

// TandemConfig represents the top-level tandem.yml configuration
type TandemConfig struct {
	Version  string          `yaml:"version"`
	Redis    *RedisConfig    `yaml:"redis,omitempty"`
	Presence *PresenceConfig `yaml:"presence,omitempty"`
	Locks    *LocksConfig    `yaml:"locks,omitempty"`
	Sync     *SyncConfig     `yaml:"sync,omitempty"`
	Session  *SessionConfig  `yaml:"session,omitempty"`
}

// RedisConfig specifies how to reach the Redis instance used for the
// presence/lock projection and event pub/sub
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"` // Default: localhost:6379
	Password string `yaml:"password,omitempty"`
	DB       *int   `yaml:"db,omitempty"`
}

// PresenceConfig specifies presence tracking behavior
type PresenceConfig struct {
	IdleThresholdSeconds *int `yaml:"idle_threshold_seconds,omitempty"` // Default: 60
	CursorRateLimit      *int `yaml:"cursor_rate_limit,omitempty"`      // Broadcasts/sec per user, default: 30
	MirrorTTLSeconds     *int `yaml:"mirror_ttl_seconds,omitempty"`     // Redis hash TTL, default: 60
}

// LocksConfig specifies object lock behavior
type LocksConfig struct {
	TTLSeconds       *int `yaml:"ttl_seconds,omitempty"`        // Default lock expiry, default: 300
	MirrorTTLSeconds *int `yaml:"mirror_ttl_seconds,omitempty"` // Redis hash TTL, default: 300
}

// SyncConfig specifies offline buffering and reconciliation behavior
type SyncConfig struct {
	BufferCapacity  *int   `yaml:"buffer_capacity,omitempty"`  // Default: 1024
	DefaultStrategy string `yaml:"default_strategy,omitempty"` // Default: merge
}

// SessionConfig specifies the cadence of per-document background loops
type SessionConfig struct {
	IdleSweepSeconds  *int `yaml:"idle_sweep_seconds,omitempty"`  // Default: 10
	LockSweepSeconds  *int `yaml:"lock_sweep_seconds,omitempty"`  // Default: 5
	MirrorSyncSeconds *int `yaml:"mirror_sync_seconds,omitempty"` // Default: 2
}

// Default returns a fully populated configuration with the documented
// defaults, as if an empty tandem.yml had been loaded.
func Default() *TandemConfig {
	c := &TandemConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		// The defaults are internally consistent; a failure here is a bug.
		panic(fmt.Sprintf("default config failed validation: %v", err))
	}
	return c
}

// Validate performs strict validation on the configuration and fills in
// defaults for any section or field left unspecified
func (c *TandemConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.DB == nil {
		c.Redis.DB = intPtr(0)
	}
	if *c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", *c.Redis.DB)
	}

	if c.Presence == nil {
		c.Presence = &PresenceConfig{}
	}
	if c.Presence.IdleThresholdSeconds == nil {
		c.Presence.IdleThresholdSeconds = intPtr(60)
	}
	if *c.Presence.IdleThresholdSeconds < 1 {
		return fmt.Errorf("presence.idle_threshold_seconds must be >= 1, got %d", *c.Presence.IdleThresholdSeconds)
	}
	if c.Presence.CursorRateLimit == nil {
		c.Presence.CursorRateLimit = intPtr(30)
	}
	if *c.Presence.CursorRateLimit < 1 {
		return fmt.Errorf("presence.cursor_rate_limit must be >= 1, got %d", *c.Presence.CursorRateLimit)
	}
	if c.Presence.MirrorTTLSeconds == nil {
		c.Presence.MirrorTTLSeconds = intPtr(60)
	}
	if *c.Presence.MirrorTTLSeconds < 1 {
		return fmt.Errorf("presence.mirror_ttl_seconds must be >= 1, got %d", *c.Presence.MirrorTTLSeconds)
	}

	if c.Locks == nil {
		c.Locks = &LocksConfig{}
	}
	if c.Locks.TTLSeconds == nil {
		c.Locks.TTLSeconds = intPtr(300)
	}
	if *c.Locks.TTLSeconds < 0 {
		return fmt.Errorf("locks.ttl_seconds must be >= 0 (0 = no expiry), got %d", *c.Locks.TTLSeconds)
	}
	if c.Locks.MirrorTTLSeconds == nil {
		c.Locks.MirrorTTLSeconds = intPtr(300)
	}
	if *c.Locks.MirrorTTLSeconds < 1 {
		return fmt.Errorf("locks.mirror_ttl_seconds must be >= 1, got %d", *c.Locks.MirrorTTLSeconds)
	}

	if c.Sync == nil {
		c.Sync = &SyncConfig{}
	}
	if c.Sync.BufferCapacity == nil {
		c.Sync.BufferCapacity = intPtr(1024)
	}
	if *c.Sync.BufferCapacity < 1 {
		return fmt.Errorf("sync.buffer_capacity must be >= 1, got %d", *c.Sync.BufferCapacity)
	}
	if c.Sync.DefaultStrategy == "" {
		c.Sync.DefaultStrategy = string(collab.StrategyMerge)
	}
	if err := collab.Strategy(c.Sync.DefaultStrategy).Validate(); err != nil {
		return fmt.Errorf("sync.default_strategy: %w", err)
	}

	if c.Session == nil {
		c.Session = &SessionConfig{}
	}
	if c.Session.IdleSweepSeconds == nil {
		c.Session.IdleSweepSeconds = intPtr(10)
	}
	if c.Session.LockSweepSeconds == nil {
		c.Session.LockSweepSeconds = intPtr(5)
	}
	if c.Session.MirrorSyncSeconds == nil {
		c.Session.MirrorSyncSeconds = intPtr(2)
	}
	for name, v := range map[string]int{
		"session.idle_sweep_seconds":  *c.Session.IdleSweepSeconds,
		"session.lock_sweep_seconds":  *c.Session.LockSweepSeconds,
		"session.mirror_sync_seconds": *c.Session.MirrorSyncSeconds,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", name, v)
		}
	}

	return nil
}

// IdleThreshold returns presence.idle_threshold_seconds as a duration.
func (c *TandemConfig) IdleThreshold() time.Duration {
	return time.Duration(*c.Presence.IdleThresholdSeconds) * time.Second
}

// PresenceTTL returns presence.mirror_ttl_seconds as a duration.
func (c *TandemConfig) PresenceTTL() time.Duration {
	return time.Duration(*c.Presence.MirrorTTLSeconds) * time.Second
}

// LockTTL returns locks.ttl_seconds as a duration.
func (c *TandemConfig) LockTTL() time.Duration {
	return time.Duration(*c.Locks.TTLSeconds) * time.Second
}

// LockMirrorTTL returns locks.mirror_ttl_seconds as a duration.
func (c *TandemConfig) LockMirrorTTL() time.Duration {
	return time.Duration(*c.Locks.MirrorTTLSeconds) * time.Second
}

// IdleSweepInterval returns session.idle_sweep_seconds as a duration.
func (c *TandemConfig) IdleSweepInterval() time.Duration {
	return time.Duration(*c.Session.IdleSweepSeconds) * time.Second
}

// LockSweepInterval returns session.lock_sweep_seconds as a duration.
func (c *TandemConfig) LockSweepInterval() time.Duration {
	return time.Duration(*c.Session.LockSweepSeconds) * time.Second
}

// MirrorSyncInterval returns session.mirror_sync_seconds as a duration.
func (c *TandemConfig) MirrorSyncInterval() time.Duration {
	return time.Duration(*c.Session.MirrorSyncSeconds) * time.Second
}

// DefaultStrategy returns sync.default_strategy as a typed strategy.
func (c *TandemConfig) DefaultStrategy() collab.Strategy {
	return collab.Strategy(c.Sync.DefaultStrategy)
}

// Load reads and validates tandem.yml from the specified path
func Load(path string) (*TandemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config TandemConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func intPtr(v int) *int {
	return &v
}
