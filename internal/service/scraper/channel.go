package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/metrics"
	"github.com/kapu/outlier-radar-go/internal/util"
	"github.com/kapu/outlier-radar-go/pkg/errors"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// ScrapeChannel refreshes one channel and always returns a result.
// Channel-level failures end the refresh early; per-video failures are collected and skipped.
func (s *Scraper) ScrapeChannel(ctx context.Context, channel *domain.TrackedChannel, opts Options) domain.ScrapeResult {
	opts = opts.normalized()
	wallStart := time.Now()

	result := domain.ScrapeResult{
		StartedAt: s.clock.Now(),
		Errors:    []string{},
	}
	if channel == nil {
		result.Status = domain.ScrapeStatusFetchError
		result.AddError("nil channel")
		return result
	}
	result.ChannelID = channel.ChannelID

	if ctx.Err() != nil {
		result.Status = domain.ScrapeStatusCancelled
		return result
	}

	var catcher panics.Catcher
	catcher.Try(func() {
		// once started, a channel runs to completion; per-call timeouts bound it
		s.scrapeChannel(context.WithoutCancel(ctx), channel, opts, &result)
	})
	if r := catcher.Recovered(); r != nil {
		s.logger.Error("Channel scrape panicked",
			zap.String("channel", channel.ChannelID),
			zap.Any("panic", r.Value))
		result.AddError(fmt.Sprintf("channel processing panicked: %v", r.Value))
		result.Status = domain.ScrapeStatusFetchError
	}

	result.Duration = time.Since(wallStart)
	metrics.ChannelScrapes.WithLabelValues(result.Status.String()).Inc()
	metrics.ChannelScrapeDuration.Observe(result.Duration.Seconds())

	fields := []zap.Field{
		zap.String("channel", channel.ChannelID),
		zap.String("name", channel.GetDisplayName()),
		zap.String("status", result.Status.String()),
		zap.Int("videos", result.VideosProcessed),
		zap.Int("snapshots", result.SnapshotsStored),
		zap.Int("outliers", result.OutliersFound),
		zap.Int("quota_used", result.QuotaUsed),
		zap.Duration("duration", result.Duration),
	}
	if len(result.Errors) > 0 {
		s.logger.Warn("Channel scraped with errors", append(fields, zap.Strings("errors", result.Errors))...)
	} else {
		s.logger.Info("Channel scraped", fields...)
	}

	return result
}

func (s *Scraper) scrapeChannel(ctx context.Context, channel *domain.TrackedChannel, opts Options, result *domain.ScrapeResult) {
	now := s.clock.Now()

	// 1-2. channel stats
	if err := s.quota.Check(ctx, domain.OperationChannelStats); err != nil {
		result.Status = domain.ScrapeStatusQuotaBlocked
		result.AddError(err.Error())
		return
	}

	statsCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	stats, err := s.source.FetchChannelStats(statsCtx, channel.ChannelID)
	cancel()
	s.charge(ctx, result, domain.OperationChannelStats, err)
	if err != nil {
		result.Status = fetchFailureStatus(err)
		result.AddError(fmt.Sprintf("fetch channel stats: %v", err))
		return
	}
	if stats == nil {
		result.Status = domain.ScrapeStatusFetchError
		result.AddError("fetch channel stats: channel not found")
		return
	}

	// 3. baseline used for scoring
	avgViews := channel.AvgViews
	if avgViews <= 0 {
		avgViews = stats.AvgViewsHint
	}
	if avgViews <= 0 {
		avgViews = opts.DefaultAvgViews
	}

	// 4. latest uploads
	if err := s.quota.Check(ctx, domain.OperationVideoList); err != nil {
		result.Status = domain.ScrapeStatusQuotaBlocked
		result.AddError(err.Error())
		return
	}

	listCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	videos, err := s.source.FetchLatestVideos(listCtx, channel.ChannelID, opts.MaxVideosPerChannel)
	cancel()
	s.charge(ctx, result, domain.OperationVideoList, err)
	if err != nil {
		result.Status = fetchFailureStatus(err)
		result.AddError(fmt.Sprintf("fetch latest videos: %v", err))
		return
	}
	if len(videos) > opts.MaxVideosPerChannel {
		videos = videos[:opts.MaxVideosPerChannel]
	}
	result.VideosFound = len(videos)

	// 5. per-video analysis
	outcomes := s.analyzeVideos(ctx, channel, videos, avgViews, now, opts)

	// 6. persistence, each step independent of the others
	s.persist(ctx, outcomes, result)
	s.finishChannel(ctx, channel, stats, now, result)

	switch {
	case len(videos) == 0 && len(result.Errors) == 0:
		result.Status = domain.ScrapeStatusNoVideos
	case len(result.Errors) > 0:
		result.Status = domain.ScrapeStatusPartial
	default:
		result.Status = domain.ScrapeStatusOK
	}
}

// charge debits an upstream call that was actually sent. Calls rejected by an open
// breaker never left the process and cost nothing.
func (s *Scraper) charge(ctx context.Context, result *domain.ScrapeResult, operation string, callErr error) {
	if callErr != nil && util.IsCircuitOpen(callErr) {
		return
	}
	cost := s.quota.CostOf(operation)
	s.quota.Debit(ctx, operation, cost)
	result.QuotaUsed += cost
}

func fetchFailureStatus(err error) domain.ScrapeStatus {
	if errors.IsQuotaExhausted(err) {
		return domain.ScrapeStatusQuotaBlocked
	}
	return domain.ScrapeStatusFetchError
}

// analyzeVideos prefetches prior snapshots concurrently, then scores videos in fetch order.
func (s *Scraper) analyzeVideos(ctx context.Context, channel *domain.TrackedChannel, videos []domain.VideoMetadata, avgViews float64, now time.Time, opts Options) []videoOutcome {
	priors := make([]*domain.VideoSnapshot, len(videos))
	priorErrs := make([]error, len(videos))
	priorsMu := sync.Mutex{}

	p := pool.New().WithMaxGoroutines(s.prefetchConcurrency)
	for idx, video := range videos {
		idx, video := idx, video
		p.Go(func() {
			lookupCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()

			prior, err := s.store.GetLatestSnapshot(lookupCtx, video.ID)
			priorsMu.Lock()
			priors[idx] = prior
			priorErrs[idx] = err
			priorsMu.Unlock()
		})
	}
	p.Wait()

	outcomes := make([]videoOutcome, 0, len(videos))
	for idx, video := range videos {
		if priorErrs[idx] != nil {
			outcomes = append(outcomes, videoOutcome{
				videoID: video.ID,
				err:     fmt.Errorf("look up prior snapshot: %w", priorErrs[idx]),
			})
			continue
		}
		outcomes = append(outcomes, s.processVideo(channel, video, priors[idx], avgViews, now, opts))
	}
	return outcomes
}

func (s *Scraper) persist(ctx context.Context, outcomes []videoOutcome, result *domain.ScrapeResult) {
	snapshots := make([]domain.VideoSnapshot, 0, len(outcomes))
	outliers := make([]*domain.Outlier, 0, len(outcomes))

	for _, outcome := range outcomes {
		if outcome.err != nil {
			metrics.VideoErrors.Inc()
			result.AddError(fmt.Sprintf("video %s: %v", outcome.videoID, outcome.err))
			continue
		}
		result.VideosProcessed++
		if outcome.snapshot != nil {
			snapshots = append(snapshots, *outcome.snapshot)
		}
		if outcome.outlier != nil {
			outliers = append(outliers, outcome.outlier)
		}
	}

	if len(snapshots) > 0 {
		writeCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		err := s.store.AppendSnapshotsBulk(writeCtx, snapshots)
		cancel()
		if err != nil {
			result.AddError(fmt.Sprintf("persist %d snapshots: %v", len(snapshots), err))
		} else {
			result.SnapshotsStored = len(snapshots)
			metrics.SnapshotsStored.Add(float64(len(snapshots)))
		}
	}

	for _, outlier := range outliers {
		writeCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		err := s.store.UpsertOutlier(writeCtx, outlier)
		cancel()
		if err != nil {
			result.AddError(fmt.Sprintf("video %s: upsert outlier: %v", outlier.VideoID, err))
			continue
		}
		result.OutliersFound++
		metrics.OutliersUpserted.Inc()
		s.logger.Info("Outlier detected",
			zap.String("channel", outlier.ChannelID),
			zap.String("video", outlier.VideoID),
			zap.String("title", util.TruncateString(outlier.Title, constants.StringLimits.VideoTitle)),
			zap.Int("score", outlier.OutlierScore),
			zap.Float64("multiplier", outlier.Multiplier),
			zap.Strings("reasons", outlier.Reasons))
	}
}

// finishChannel refreshes the stored baseline and stamps the scrape time.
// The 10,000-view fallback is a scoring aid only and is never persisted.
func (s *Scraper) finishChannel(ctx context.Context, channel *domain.TrackedChannel, stats *domain.ChannelStats, now time.Time, result *domain.ScrapeResult) {
	baseline := domain.ChannelBaseline{
		AvgViews:        channel.AvgViews,
		SubscriberCount: stats.SubscriberCount,
		TotalVideos:     stats.TotalVideos,
	}
	if stats.AvgViewsHint > 0 {
		baseline.AvgViews = stats.AvgViewsHint
	}

	if channel.SubscriberCount > 0 && stats.SubscriberCount != channel.SubscriberCount {
		s.logger.Info("Subscriber count changed",
			zap.String("channel", channel.GetDisplayName()),
			zap.Uint64("previous", channel.SubscriberCount),
			zap.Uint64("current", stats.SubscriberCount),
			zap.Int64("change", int64(stats.SubscriberCount)-int64(channel.SubscriberCount)))
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	if err := s.store.UpdateChannelBaseline(writeCtx, channel.ChannelID, baseline); err != nil {
		result.AddError(fmt.Sprintf("update channel baseline: %v", err))
	}
	cancel()

	writeCtx, cancel = context.WithTimeout(ctx, s.fetchTimeout)
	if err := s.store.MarkChannelScraped(writeCtx, channel.ChannelID, now); err != nil {
		result.AddError(fmt.Sprintf("mark channel scraped: %v", err))
	}
	cancel()
}
