package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kapu/outlier-radar-go/internal/constants"
)

type Config struct {
	YouTube   YouTubeConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Quota     QuotaConfig
	Scraper   ScraperConfig
	Scheduler SchedulerConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

type YouTubeConfig struct {
	APIKey          string
	CredentialsFile string // OAuth client secrets, used when APIKey is empty
	TokenFile       string
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type QuotaConfig struct {
	DailyLimit       int
	ChannelStatsCost int
	VideoListCost    int
	Timezone         string
}

type ScraperConfig struct {
	MaxVideosPerChannel int
	StoreAllSnapshots   bool
	MinOutlierScore     int
	MinimumViableCost   int
	DefaultAvgViews     float64
	InterChannelDelay   time.Duration
	FetchTimeout        time.Duration
}

type SchedulerConfig struct {
	PollInterval time.Duration
	RunInterval  time.Duration
	BatchSize    int
}

type MetricsConfig struct {
	Addr string // empty disables the /metrics listener
}

type LoggingConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		YouTube: YouTubeConfig{
			APIKey:          getEnv("YOUTUBE_API_KEY", ""),
			CredentialsFile: getEnv("YOUTUBE_CREDENTIALS_FILE", ""),
			TokenFile:       getEnv("YOUTUBE_TOKEN_FILE", "token.json"),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "radar"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "outlier_radar"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Quota: QuotaConfig{
			DailyLimit:       getEnvInt("QUOTA_DAILY_LIMIT", constants.QuotaDefaults.DailyLimit),
			ChannelStatsCost: getEnvInt("QUOTA_COST_CHANNEL_STATS", constants.QuotaDefaults.ChannelStatsCost),
			VideoListCost:    getEnvInt("QUOTA_COST_VIDEO_LIST", constants.QuotaDefaults.VideoListCost),
			Timezone:         getEnv("QUOTA_TIMEZONE", "Local"),
		},
		Scraper: ScraperConfig{
			MaxVideosPerChannel: getEnvInt("SCRAPER_MAX_VIDEOS_PER_CHANNEL", constants.ScraperDefaults.MaxVideosPerChannel),
			StoreAllSnapshots:   getEnvBool("SCRAPER_STORE_ALL_SNAPSHOTS", false),
			MinOutlierScore:     getEnvInt("SCRAPER_MIN_OUTLIER_SCORE", constants.ScraperDefaults.MinOutlierScore),
			MinimumViableCost:   getEnvInt("SCRAPER_MINIMUM_VIABLE_COST", constants.ScraperDefaults.MinimumViableCost),
			DefaultAvgViews:     getEnvFloat("SCRAPER_DEFAULT_AVG_VIEWS", constants.ScraperDefaults.DefaultAvgViews),
			InterChannelDelay:   getEnvDuration("SCRAPER_INTER_CHANNEL_DELAY", constants.ScraperDefaults.InterChannelDelay),
			FetchTimeout:        getEnvDuration("SCRAPER_FETCH_TIMEOUT", constants.ScraperDefaults.FetchTimeout),
		},
		Scheduler: SchedulerConfig{
			PollInterval: getEnvDuration("SCHEDULER_POLL_INTERVAL", constants.SchedulerDefaults.PollInterval),
			RunInterval:  getEnvDuration("SCHEDULER_RUN_INTERVAL", constants.SchedulerDefaults.RunInterval),
			BatchSize:    getEnvInt("SCHEDULER_BATCH_SIZE", constants.SchedulerDefaults.BatchSize),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9108"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("QUOTA_DAILY_LIMIT must be positive")
	}
	if c.Quota.ChannelStatsCost < 0 || c.Quota.VideoListCost < 0 {
		return fmt.Errorf("quota costs must not be negative")
	}
	if _, err := time.LoadLocation(normalizeTimezone(c.Quota.Timezone)); err != nil {
		return fmt.Errorf("QUOTA_TIMEZONE is invalid: %w", err)
	}
	if c.Scraper.MaxVideosPerChannel <= 0 || c.Scraper.MaxVideosPerChannel > 50 {
		return fmt.Errorf("SCRAPER_MAX_VIDEOS_PER_CHANNEL must be between 1 and 50")
	}
	if c.Scraper.MinOutlierScore < 1 || c.Scraper.MinOutlierScore > 10 {
		return fmt.Errorf("SCRAPER_MIN_OUTLIER_SCORE must be between 1 and 10")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be positive")
	}
	if c.Scheduler.PollInterval <= 0 || c.Scheduler.RunInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.Postgres.Host == "" || c.Postgres.Database == "" {
		return fmt.Errorf("POSTGRES_HOST and POSTGRES_DB are required")
	}
	return nil
}

// RequireYouTube checks the upstream credentials; only commands that scrape need them.
func (c *Config) RequireYouTube() error {
	if c.YouTube.APIKey == "" && c.YouTube.CredentialsFile == "" {
		return fmt.Errorf("YOUTUBE_API_KEY or YOUTUBE_CREDENTIALS_FILE is required")
	}
	return nil
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

func normalizeTimezone(tz string) string {
	if tz == "" {
		return "Local"
	}
	return tz
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "6h") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
