package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUOTA_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Quota.DailyLimit != 10000 {
		t.Errorf("DailyLimit = %d, want 10000", cfg.Quota.DailyLimit)
	}
	if cfg.Scraper.MaxVideosPerChannel != 5 {
		t.Errorf("MaxVideosPerChannel = %d, want 5", cfg.Scraper.MaxVideosPerChannel)
	}
	if cfg.Scraper.MinOutlierScore != 6 {
		t.Errorf("MinOutlierScore = %d, want 6", cfg.Scraper.MinOutlierScore)
	}
	if cfg.Scheduler.RunInterval != 6*time.Hour {
		t.Errorf("RunInterval = %v, want 6h", cfg.Scheduler.RunInterval)
	}
	if cfg.Scheduler.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.Scheduler.BatchSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUOTA_TIMEZONE", "UTC")
	t.Setenv("QUOTA_DAILY_LIMIT", "500")
	t.Setenv("SCRAPER_STORE_ALL_SNAPSHOTS", "true")
	t.Setenv("SCRAPER_INTER_CHANNEL_DELAY", "250ms")
	t.Setenv("SCHEDULER_RUN_INTERVAL", "3600")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Quota.DailyLimit != 500 {
		t.Errorf("DailyLimit = %d, want 500", cfg.Quota.DailyLimit)
	}
	if !cfg.Scraper.StoreAllSnapshots {
		t.Errorf("StoreAllSnapshots = false, want true")
	}
	if cfg.Scraper.InterChannelDelay != 250*time.Millisecond {
		t.Errorf("InterChannelDelay = %v", cfg.Scraper.InterChannelDelay)
	}
	if cfg.Scheduler.RunInterval != time.Hour {
		t.Errorf("RunInterval = %v, want 1h from bare seconds", cfg.Scheduler.RunInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Postgres:  PostgresConfig{Host: "localhost", Database: "radar"},
			Quota:     QuotaConfig{DailyLimit: 100, Timezone: "UTC"},
			Scraper:   ScraperConfig{MaxVideosPerChannel: 5, MinOutlierScore: 6},
			Scheduler: SchedulerConfig{BatchSize: 25, PollInterval: time.Minute, RunInterval: time.Hour},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero quota", func(c *Config) { c.Quota.DailyLimit = 0 }},
		{"bad timezone", func(c *Config) { c.Quota.Timezone = "Mars/Olympus" }},
		{"too many videos", func(c *Config) { c.Scraper.MaxVideosPerChannel = 51 }},
		{"score out of range", func(c *Config) { c.Scraper.MinOutlierScore = 11 }},
		{"zero batch", func(c *Config) { c.Scheduler.BatchSize = 0 }},
		{"missing db", func(c *Config) { c.Postgres.Database = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestRequireYouTube(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireYouTube(); err == nil {
		t.Fatalf("expected error without credentials")
	}
	cfg.YouTube.APIKey = "key"
	if err := cfg.RequireYouTube(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
