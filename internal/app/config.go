package app

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/studybot/core/config"
	coredatabase "github.com/m3rciful/studybot/core/database"
	"github.com/m3rciful/studybot/internal/adminapi"
	"github.com/m3rciful/studybot/internal/archive"
	"github.com/m3rciful/studybot/internal/events"
	"github.com/m3rciful/studybot/internal/notify"
)

// Session backends.
const (
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// SessionConfig controls conversation state.
type SessionConfig struct {
	Backend       string        `yaml:"backend" envconfig:"SESSION_BACKEND"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" envconfig:"SESSION_IDLE_TIMEOUT"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SESSION_SWEEP_INTERVAL"`
}

// RedisConfig is used when the session backend is redis.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// BroadcastConfig spaces broadcast sends.
type BroadcastConfig struct {
	// DelayMS is the pause between recipients; negative means none.
	DelayMS int `yaml:"delay_ms" envconfig:"BROADCAST_DELAY_MS"`
}

// Delay returns the pause as a duration.
func (b BroadcastConfig) Delay() time.Duration { return time.Duration(b.DelayMS) * time.Millisecond }

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database  coredatabase.Config `yaml:"database"`
	Session   SessionConfig       `yaml:"session"`
	Redis     RedisConfig         `yaml:"redis"`
	Broadcast BroadcastConfig     `yaml:"broadcast"`
	API       adminapi.Config     `yaml:"api"`
	Kafka     events.Config       `yaml:"kafka"`
	Archive   archive.Config      `yaml:"archive"`
}

// Load reads path, overlays .env and the environment, then normalizes.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section and fills defaults.
func (c *Config) Normalize() error {
	if c.RateLimit.IntervalMS == 0 {
		c.RateLimit.IntervalMS = 2000
	}
	if c.RateLimit.IntervalMS < 0 {
		c.RateLimit.IntervalMS = 0
	}
	if c.RateLimit.ExcludeUpdates == nil {
		c.RateLimit.ExcludeUpdates = []string{coreconfig.UpdateCallback}
	}
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return err
	}

	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	switch c.Session.Backend {
	case "":
		c.Session.Backend = SessionMemory
	case SessionMemory:
	case SessionRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when session.backend is 'redis'")
		}
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: memory, redis", c.Session.Backend)
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = 30 * time.Minute
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "studybot:"
	}

	if c.Broadcast.DelayMS == 0 {
		c.Broadcast.DelayMS = int(notify.DefaultDelay / time.Millisecond)
	}
	return nil
}
