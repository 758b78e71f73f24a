package scraper

import (
	"context"
	"time"

	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/service/scoring"
	"github.com/kapu/outlier-radar-go/internal/util"
	"go.uber.org/zap"
)

// VideoSource is the upstream channel/video reader.
// FetchChannelStats returns (nil, nil) when the channel does not exist.
type VideoSource interface {
	FetchChannelStats(ctx context.Context, channelID string) (*domain.ChannelStats, error)
	FetchLatestVideos(ctx context.Context, channelID string, limit int) ([]domain.VideoMetadata, error)
}

// Store is the persistence the orchestrator writes through.
// GetLatestSnapshot returns (nil, nil) when the video has no snapshot yet.
type Store interface {
	GetLatestSnapshot(ctx context.Context, videoID string) (*domain.VideoSnapshot, error)
	AppendSnapshotsBulk(ctx context.Context, snapshots []domain.VideoSnapshot) error
	UpsertOutlier(ctx context.Context, outlier *domain.Outlier) error
	UpdateChannelBaseline(ctx context.Context, channelID string, baseline domain.ChannelBaseline) error
	MarkChannelScraped(ctx context.Context, channelID string, at time.Time) error
}

// QuotaBudget is the part of the quota ledger the orchestrator spends against.
type QuotaBudget interface {
	CostOf(operation string) int
	Check(ctx context.Context, operation string) error
	Debit(ctx context.Context, operation string, cost int)
	Remaining(ctx context.Context) int
}

// ScoreFunc rates one video; scoring.Score in production.
type ScoreFunc func(m scoring.Metrics, now time.Time) scoring.Result

type Options struct {
	MaxVideosPerChannel int
	StoreAllSnapshots   bool
	MinOutlierScore     int
	MinimumViableCost   int
	InterChannelDelay   time.Duration
	DefaultAvgViews     float64
}

func DefaultOptions() Options {
	return Options{
		MaxVideosPerChannel: constants.ScraperDefaults.MaxVideosPerChannel,
		StoreAllSnapshots:   false,
		MinOutlierScore:     constants.ScraperDefaults.MinOutlierScore,
		MinimumViableCost:   constants.ScraperDefaults.MinimumViableCost,
		InterChannelDelay:   constants.ScraperDefaults.InterChannelDelay,
		DefaultAvgViews:     constants.ScraperDefaults.DefaultAvgViews,
	}
}

func (o Options) normalized() Options {
	if o.MaxVideosPerChannel <= 0 {
		o.MaxVideosPerChannel = constants.ScraperDefaults.MaxVideosPerChannel
	}
	if o.MinOutlierScore <= 0 {
		o.MinOutlierScore = constants.ScraperDefaults.MinOutlierScore
	}
	if o.DefaultAvgViews <= 0 {
		o.DefaultAvgViews = constants.ScraperDefaults.DefaultAvgViews
	}
	if o.InterChannelDelay < 0 {
		o.InterChannelDelay = 0
	}
	return o
}

type Config struct {
	FetchTimeout        time.Duration
	PrefetchConcurrency int
}

// Scraper refreshes tracked channels: fetch, score, persist.
// Channels and the videos inside a channel are handled strictly in order.
type Scraper struct {
	source VideoSource
	store  Store
	quota  QuotaBudget
	clock  util.Clock
	logger *zap.Logger

	score               ScoreFunc
	sleep               func(ctx context.Context, d time.Duration) error
	fetchTimeout        time.Duration
	prefetchConcurrency int
}

func NewScraper(source VideoSource, store Store, quota QuotaBudget, clock util.Clock, cfg Config, logger *zap.Logger) *Scraper {
	if clock == nil {
		clock = util.SystemClock{}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = constants.ScraperDefaults.FetchTimeout
	}
	if cfg.PrefetchConcurrency <= 0 {
		cfg.PrefetchConcurrency = constants.ScraperDefaults.PrefetchConcurrency
	}

	return &Scraper{
		source:              source,
		store:               store,
		quota:               quota,
		clock:               clock,
		logger:              util.OrNop(logger),
		score:               scoring.Score,
		sleep:               util.SleepContext,
		fetchTimeout:        cfg.FetchTimeout,
		prefetchConcurrency: cfg.PrefetchConcurrency,
	}
}

// ScrapeChannels refreshes channels in the given order until done, cancelled, or the
// remaining quota drops below opts.MinimumViableCost. An early stop is not an error.
func (s *Scraper) ScrapeChannels(ctx context.Context, channels []*domain.TrackedChannel, opts Options) domain.BatchSummary {
	opts = opts.normalized()
	summary := domain.BatchSummary{Results: []domain.ScrapeResult{}}

	s.logger.Info("Starting scrape batch",
		zap.Int("channels", len(channels)),
		zap.Int("quota_remaining", s.quota.Remaining(ctx)),
		zap.Int("minimum_viable_cost", opts.MinimumViableCost))

	for i, channel := range channels {
		if i > 0 {
			if err := s.sleep(ctx, opts.InterChannelDelay); err != nil {
				summary.StoppedEarly = true
				summary.StopReason = domain.BatchStopCancelled
				break
			}
		}
		if ctx.Err() != nil {
			summary.StoppedEarly = true
			summary.StopReason = domain.BatchStopCancelled
			break
		}

		if remaining := s.quota.Remaining(ctx); remaining < opts.MinimumViableCost {
			s.logger.Warn("Quota below minimum viable cost, stopping batch",
				zap.Int("remaining", remaining),
				zap.Int("minimum_viable_cost", opts.MinimumViableCost),
				zap.Int("channels_left", len(channels)-i))
			summary.StoppedEarly = true
			summary.StopReason = domain.BatchStopQuota
			break
		}

		summary.Add(s.ScrapeChannel(ctx, channel, opts))
	}

	s.logger.Info("Scrape batch finished",
		zap.Int("attempted", summary.ChannelsAttempted),
		zap.Int("videos", summary.TotalVideos),
		zap.Int("outliers", summary.TotalOutliers),
		zap.Int("quota_used", summary.TotalQuotaUsed),
		zap.Int("errors", summary.TotalErrors),
		zap.Int("channels_with_errors", summary.ChannelsWithErrors),
		zap.Bool("stopped_early", summary.StoppedEarly),
		zap.String("stop_reason", string(summary.StopReason)))

	return summary
}
