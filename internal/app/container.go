package app

import (
	"context"
	"fmt"

	"github.com/kapu/outlier-radar-go/internal/config"
	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/service/cache"
	"github.com/kapu/outlier-radar-go/internal/service/database"
	"github.com/kapu/outlier-radar-go/internal/service/quota"
	"github.com/kapu/outlier-radar-go/internal/service/scheduler"
	"github.com/kapu/outlier-radar-go/internal/service/scraper"
	"github.com/kapu/outlier-radar-go/internal/service/youtube"
	"github.com/kapu/outlier-radar-go/internal/util"
	"go.uber.org/zap"
)

// Container bundles the assembled infrastructure. Upstream-facing pieces (video source,
// scraper, scheduler) are created on demand so read-only commands need no API credentials.
type Container struct {
	Config *config.Config
	Logger *zap.Logger
	Clock  util.Clock

	Postgres   *database.PostgresService
	Repository *database.Repository
	Cache      *cache.CacheService
	Quota      *quota.Ledger
	States     *cache.SchedulerStateStore

	closers []func()
}

// Build connects Postgres and Redis, migrates the schema and restores the quota ledger.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Clock:  util.SystemClock{},
	}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Postgres, err = database.NewPostgresService(database.PostgresConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres service: %w", err)
	}
	c.closers = append(c.closers, func() {
		_ = c.Postgres.Close()
	})

	if err := c.Postgres.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	c.Repository = database.NewRepository(c.Postgres, logger)

	c.Cache, err = cache.NewCacheService(cache.CacheConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache service: %w", err)
	}
	c.closers = append(c.closers, func() {
		_ = c.Cache.Close()
	})

	if err := c.Cache.WaitUntilReady(ctx, constants.RedisConfig.ReadyTimeout); err != nil {
		return nil, fmt.Errorf("redis not ready: %w", err)
	}

	loc, err := util.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone: %w", err)
	}

	c.Quota = quota.NewLedger(ctx, quota.Config{
		DailyLimit: cfg.Quota.DailyLimit,
		Costs:      costTable(cfg.Quota),
		Location:   loc,
	}, cache.NewQuotaLedgerStore(c.Cache), c.Clock, logger)

	c.States = cache.NewSchedulerStateStore(c.Cache)

	return c, nil
}

// NewScheduler wires the YouTube source, the scraper and the rotation scheduler.
func (c *Container) NewScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	if c == nil || c.Repository == nil || c.Quota == nil {
		return nil, fmt.Errorf("container not initialized")
	}
	if err := c.Config.RequireYouTube(); err != nil {
		return nil, err
	}

	source, err := youtube.NewSource(ctx, youtube.Config{
		APIKey:          c.Config.YouTube.APIKey,
		CredentialsFile: c.Config.YouTube.CredentialsFile,
		TokenFile:       c.Config.YouTube.TokenFile,
	}, c.Clock, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube source: %w", err)
	}

	runner := scraper.NewScraper(source, c.Repository, c.Quota, c.Clock, scraper.Config{
		FetchTimeout: c.Config.Scraper.FetchTimeout,
	}, c.Logger)

	return scheduler.NewScheduler(c.Repository, runner, c.States, c.Clock, scheduler.Config{
		PollInterval: c.Config.Scheduler.PollInterval,
		RunInterval:  c.Config.Scheduler.RunInterval,
		BatchSize:    c.Config.Scheduler.BatchSize,
		Options:      ScraperOptions(c.Config.Scraper),
	}, c.Logger), nil
}

// ScraperOptions maps scraper settings onto per-batch options.
func ScraperOptions(cfg config.ScraperConfig) scraper.Options {
	opts := scraper.DefaultOptions()
	opts.MaxVideosPerChannel = cfg.MaxVideosPerChannel
	opts.StoreAllSnapshots = cfg.StoreAllSnapshots
	opts.MinOutlierScore = cfg.MinOutlierScore
	opts.MinimumViableCost = cfg.MinimumViableCost
	opts.InterChannelDelay = cfg.InterChannelDelay
	if cfg.DefaultAvgViews > 0 {
		opts.DefaultAvgViews = cfg.DefaultAvgViews
	}
	return opts
}

func costTable(cfg config.QuotaConfig) quota.CostTable {
	return quota.CostTable{
		domain.OperationChannelStats: cfg.ChannelStatsCost,
		domain.OperationVideoList:    cfg.VideoListCost,
	}
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
