package scraper

import (
	"fmt"
	"math"
	"time"

	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/service/scoring"
	"github.com/sourcegraph/conc/panics"
)

// videoOutcome is the typed result of analysing one video: either err is set,
// or the video was processed and snapshot/outlier hold whatever must be persisted.
type videoOutcome struct {
	videoID  string
	snapshot *domain.VideoSnapshot // nil when the snapshot is discarded
	outlier  *domain.Outlier       // nil below the upsert threshold
	err      error
}

// processVideo analyses a single video; a panic in scoring becomes a failed outcome.
func (s *Scraper) processVideo(channel *domain.TrackedChannel, video domain.VideoMetadata, prior *domain.VideoSnapshot, avgViews float64, now time.Time, opts Options) videoOutcome {
	var outcome videoOutcome
	var catcher panics.Catcher
	catcher.Try(func() {
		outcome = s.analyzeVideo(channel, video, prior, avgViews, now, opts)
	})
	if r := catcher.Recovered(); r != nil {
		return videoOutcome{videoID: video.ID, err: fmt.Errorf("scoring panicked: %v", r.Value)}
	}
	return outcome
}

func (s *Scraper) analyzeVideo(channel *domain.TrackedChannel, video domain.VideoMetadata, prior *domain.VideoSnapshot, avgViews float64, now time.Time, opts Options) videoOutcome {
	if video.ID == "" {
		return videoOutcome{err: fmt.Errorf("video without id")}
	}

	snapshot := domain.VideoSnapshot{
		VideoID:      video.ID,
		ChannelID:    channel.ChannelID,
		Title:        video.Title,
		ThumbnailURL: video.ThumbnailURL,
		Views:        video.Views,
		Likes:        video.Likes,
		Comments:     video.Comments,
		PublishedAt:  video.PublishedAt,
		SnapshotAt:   now,
	}
	if prior != nil {
		snapshot.ViewsPerHour = scoring.PairVelocity(snapshot, *prior)
	}

	result := s.score(scoring.Metrics{
		Views:           clampInt64(video.Views),
		Likes:           clampInt64(video.Likes),
		Comments:        clampInt64(video.Comments),
		PublishedAt:     video.PublishedAt,
		ChannelAvgViews: avgViews,
	}, now)

	snapshot.EngagementRatio = result.EngagementRatio
	snapshot.VelocityScore = result.VelocityScore
	snapshot.Multiplier = result.Multiplier
	snapshot.OutlierScore = result.Score

	outcome := videoOutcome{videoID: video.ID}
	if result.IsOutlier || opts.StoreAllSnapshots {
		outcome.snapshot = &snapshot
	}
	if result.Score >= opts.MinOutlierScore {
		outcome.outlier = &domain.Outlier{
			VideoID:         video.ID,
			ChannelID:       channel.ChannelID,
			Title:           video.Title,
			ThumbnailURL:    video.ThumbnailURL,
			Status:          domain.OutlierStatusActive,
			IsNew:           true,
			Priority:        channel.Priority,
			Views:           video.Views,
			FirstSeenViews:  video.Views,
			Multiplier:      result.Multiplier,
			OutlierScore:    result.Score,
			VelocityScore:   result.VelocityScore,
			EngagementRatio: result.EngagementRatio,
			Reasons:         result.Reasons,
			PublishedAt:     video.PublishedAt,
			DetectedAt:      now,
			LastUpdatedAt:   now,
		}
	}
	return outcome
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
