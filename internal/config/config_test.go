package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := []byte(`
database:
  driver: postgres
discovery:
  concurrency: 8
scheduler:
  timezone: Europe/Berlin
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv(redisURLEnv, "redis://localhost:6379/1")
	t.Setenv(logLevelEnv, "debug")

	cfg := Load()

	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if cfg.Discovery.Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.Discovery.Concurrency)
	}
	if cfg.Discovery.FetchTimeout != 12*time.Second {
		t.Fatalf("unset fields must keep defaults, got %s", cfg.Discovery.FetchTimeout)
	}
	if cfg.Redis.URL != "redis://localhost:6379/1" {
		t.Fatalf("env override not applied: %q", cfg.Redis.URL)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Logging.Level)
	}
	if got := cfg.Scheduler.Location().String(); got != "Europe/Berlin" {
		t.Fatalf("expected Europe/Berlin, got %s", got)
	}
}

func TestLoadCanDisableRobots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := []byte(`
discovery:
  respectRobots: false
hero:
  generatorUrl: http://sd.local:7860
  generatorStyle: cinematic
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()

	if cfg.Discovery.ObeysRobots() {
		t.Fatalf("respectRobots: false in the file must override the default")
	}
	if cfg.Hero.GeneratorURL != "http://sd.local:7860" || cfg.Hero.GeneratorStyle != "cinematic" {
		t.Fatalf("generator settings not merged: %+v", cfg.Hero)
	}
	if !Default().Discovery.ObeysRobots() {
		t.Fatalf("robots must be honoured by default")
	}
	if !(DiscoveryConfig{}).ObeysRobots() {
		t.Fatalf("an unset respectRobots must be honoured")
	}
}

func TestLoadFallsBackOnUnreadableFile(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := Load()
	if cfg.Database.Driver != "memory" {
		t.Fatalf("expected default driver, got %q", cfg.Database.Driver)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":      func(c *Config) { c.Database.Driver = "sqlite" },
		"concurrency": func(c *Config) { c.Discovery.Concurrency = 0 },
		"health":      func(c *Config) { c.Health.InactiveAfter = time.Minute },
		"pacing":      func(c *Config) { c.Feed.PausedPacing.MaxTasksPerTick = 0 },
		"throttle":    func(c *Config) { c.Feed.DefaultPacing.ThrottleMs = -1 },
		"window":      func(c *Config) { c.Acceptance.ContestedWindow = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
