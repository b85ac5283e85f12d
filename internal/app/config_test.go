package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/studybot/core/config"
	coredatabase "github.com/m3rciful/studybot/core/database"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
  admin_ids: [7, 5, 7]
  admin_id: 9
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Operators(); len(got) != 3 || got[0] != 5 || got[2] != 9 {
		t.Fatalf("operators = %v", got)
	}
	if cfg.Telegram.RunMode != coreconfig.RunModeLongpoll {
		t.Fatalf("run mode = %q", cfg.Telegram.RunMode)
	}
	if cfg.Database.Driver != coredatabase.DriverSQLite || cfg.Session.Backend != SessionMemory {
		t.Fatalf("database %q, sessions %q", cfg.Database.Driver, cfg.Session.Backend)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute || cfg.Broadcast.Delay() != 50*time.Millisecond {
		t.Fatalf("idle %s, delay %s", cfg.Session.IdleTimeout, cfg.Broadcast.Delay())
	}
	if cfg.RateLimit.IntervalMS != 2000 || len(cfg.RateLimit.ExcludeUpdates) != 1 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.API.Enabled() || cfg.Kafka.Enabled() || cfg.Archive.Enabled() {
		t.Fatal("optional integrations must be off by default")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "from-file"
  admin_id: 1
session:
  backend: memory
`)
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("API_LISTEN", ":8081")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Session.Backend != SessionRedis || !cfg.API.Enabled() {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestNormalizeRejects(t *testing.T) {
	base := func() Config {
		var c Config
		c.Telegram.Token = "t"
		c.Telegram.AdminIDs = []int64{1}
		return c
	}
	cases := map[string]func(*Config){
		"no token":           func(c *Config) { c.Telegram.Token = "" },
		"no operators":       func(c *Config) { c.Telegram.AdminIDs = nil },
		"bad backend":        func(c *Config) { c.Session.Backend = "disk" },
		"redis without addr": func(c *Config) { c.Session.Backend = SessionRedis },
		"bad driver":         func(c *Config) { c.Database.Driver = "oracle" },
		"webhook without url": func(c *Config) {
			c.Telegram.RunMode = coreconfig.RunModeWebhook
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			if err := c.Normalize(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestRateLimitCanBeDisabled(t *testing.T) {
	var c Config
	c.Telegram.Token = "t"
	c.Telegram.AdminIDs = []int64{1}
	c.RateLimit.IntervalMS = -1
	if err := c.Normalize(); err != nil {
		t.Fatal(err)
	}
	if c.RateLimit.IntervalMS != 0 {
		t.Fatalf("interval = %d", c.RateLimit.IntervalMS)
	}
}
