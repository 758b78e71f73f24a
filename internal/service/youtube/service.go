package youtube

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/util"
	"github.com/kapu/outlier-radar-go/pkg/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

type Config struct {
	APIKey            string
	CredentialsFile   string
	TokenFile         string
	RequestsPerSecond float64
	Burst             int
}

// Source reads channel statistics and latest uploads from the YouTube Data API v3.
// Quota is billed by the caller; Source only paces requests and trips on repeated failures.
type Source struct {
	service *youtube.Service
	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
	clock   util.Clock
	logger  *zap.Logger

	uploads sync.Map // channel id -> uploads playlist id
}

// NewSource authenticates with the API key when set, otherwise with the OAuth token file.
func NewSource(ctx context.Context, cfg Config, clock util.Clock, logger *zap.Logger) (*Source, error) {
	logger = util.OrNop(logger)

	var opts []option.ClientOption
	switch {
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.CredentialsFile != "":
		oauth, err := NewOAuth(cfg.CredentialsFile, cfg.TokenFile, logger)
		if err != nil {
			return nil, err
		}
		client, err := oauth.HTTPClient(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithHTTPClient(client))
	default:
		return nil, fmt.Errorf("YouTube API key or OAuth credentials are required")
	}

	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	src := NewSourceWithService(service, cfg, clock, logger)
	logger.Info("YouTube source initialized",
		zap.Bool("api_key", cfg.APIKey != ""),
		zap.Float64("requests_per_second", float64(src.limiter.Limit())))
	return src, nil
}

// NewSourceWithService wraps an already configured API client.
func NewSourceWithService(service *youtube.Service, cfg Config, clock util.Clock, logger *zap.Logger) *Source {
	logger = util.OrNop(logger)
	if clock == nil {
		clock = util.SystemClock{}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = constants.APIConfig.YouTubeRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = constants.APIConfig.YouTubeBurst
	}

	breaker := util.NewCircuitBreaker[struct{}](util.CircuitBreakerConfig{
		Name:             "youtube-data-api",
		FailureThreshold: constants.CircuitBreakerConfig.FailureThreshold,
		ResetTimeout:     constants.CircuitBreakerConfig.ResetTimeout,
		MaxRequests:      constants.CircuitBreakerConfig.MaxRequests,
		// a missing channel or an exhausted quota says nothing about API health
		IsSuccessful: func(err error) bool {
			return isNotFound(err) || isQuotaExceeded(err)
		},
	}, logger)

	return &Source{
		service: service,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		clock:   clock,
		logger:  logger,
	}
}

// FetchChannelStats returns lifetime totals for channelID, or (nil, nil) if it does not exist.
func (s *Source) FetchChannelStats(ctx context.Context, channelID string) (*domain.ChannelStats, error) {
	resp, err := execute(ctx, s, func() (*youtube.ChannelListResponse, error) {
		return s.service.Channels.List([]string{"statistics", "snippet", "contentDetails"}).
			Id(channelID).
			Context(ctx).
			Do()
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, mapAPIError("channels.list", channelID, err)
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}

	channel := resp.Items[0]
	if playlist := uploadsPlaylist(channel); playlist != "" {
		s.uploads.Store(channelID, playlist)
	}

	stats := channelStatsFromAPI(channel, s.clock.Now())
	s.logger.Debug("Channel statistics fetched",
		zap.String("channel", channelID),
		zap.Uint64("subscribers", stats.SubscriberCount),
		zap.Uint64("videos", stats.TotalVideos),
		zap.Float64("avg_views_hint", stats.AvgViewsHint))
	return stats, nil
}

// FetchLatestVideos returns up to limit of the channel's most recent uploads, newest first.
func (s *Source) FetchLatestVideos(ctx context.Context, channelID string, limit int) ([]domain.VideoMetadata, error) {
	if limit <= 0 {
		return []domain.VideoMetadata{}, nil
	}
	if limit > int(constants.APIConfig.MaxResultsPerPage) {
		limit = int(constants.APIConfig.MaxResultsPerPage)
	}

	playlistID := s.uploadsPlaylistID(channelID)
	if playlistID == "" {
		return nil, errors.NewValidationError("cannot resolve uploads playlist", "channel_id", channelID)
	}

	items, err := execute(ctx, s, func() (*youtube.PlaylistItemListResponse, error) {
		return s.service.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(int64(limit)).
			Context(ctx).
			Do()
	})
	if err != nil {
		// a channel without uploads has no uploads playlist
		if isNotFound(err) {
			return []domain.VideoMetadata{}, nil
		}
		return nil, mapAPIError("playlistItems.list", playlistID, err)
	}

	ids := make([]string, 0, len(items.Items))
	for _, item := range items.Items {
		if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
			ids = append(ids, item.ContentDetails.VideoId)
		}
	}
	if len(ids) == 0 {
		return []domain.VideoMetadata{}, nil
	}

	videos, err := execute(ctx, s, func() (*youtube.VideoListResponse, error) {
		return s.service.Videos.List([]string{"snippet", "statistics"}).
			Id(ids...).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, mapAPIError("videos.list", channelID, err)
	}

	out := videosFromAPI(ids, videos.Items, channelID)
	s.logger.Debug("Latest videos fetched",
		zap.String("channel", channelID),
		zap.Int("count", len(out)))
	return out, nil
}

func (s *Source) uploadsPlaylistID(channelID string) string {
	if cached, ok := s.uploads.Load(channelID); ok {
		return cached.(string)
	}
	return derivedUploadsPlaylist(channelID)
}

// execute paces and guards one API call.
func execute[T any](ctx context.Context, s *Source, fn func() (T, error)) (T, error) {
	var out T
	if err := s.limiter.Wait(ctx); err != nil {
		return out, err
	}
	_, err := s.breaker.Execute(func() (struct{}, error) {
		var callErr error
		out, callErr = fn()
		return struct{}{}, callErr
	})
	return out, err
}

// derivedUploadsPlaylist maps a UC... channel id to its UU... uploads playlist.
func derivedUploadsPlaylist(channelID string) string {
	if strings.HasPrefix(channelID, "UC") && len(channelID) > 2 {
		return "UU" + channelID[2:]
	}
	return ""
}

func uploadsPlaylist(channel *youtube.Channel) string {
	if channel == nil || channel.ContentDetails == nil || channel.ContentDetails.RelatedPlaylists == nil {
		return ""
	}
	return channel.ContentDetails.RelatedPlaylists.Uploads
}

func channelStatsFromAPI(channel *youtube.Channel, now time.Time) *domain.ChannelStats {
	stats := &domain.ChannelStats{
		ChannelID: channel.Id,
		FetchedAt: now,
	}
	if channel.Snippet != nil {
		stats.Title = channel.Snippet.Title
	}
	if channel.Statistics != nil {
		stats.SubscriberCount = channel.Statistics.SubscriberCount
		stats.TotalVideos = channel.Statistics.VideoCount
		stats.TotalViews = channel.Statistics.ViewCount
	}
	if stats.TotalVideos > 0 {
		stats.AvgViewsHint = float64(stats.TotalViews) / float64(stats.TotalVideos)
	}
	return stats
}

// videosFromAPI keeps the playlist order; videos.list does not guarantee it.
func videosFromAPI(order []string, items []*youtube.Video, channelID string) []domain.VideoMetadata {
	byID := make(map[string]*youtube.Video, len(items))
	for _, item := range items {
		if item != nil {
			byID[item.Id] = item
		}
	}

	out := make([]domain.VideoMetadata, 0, len(order))
	for _, id := range order {
		item, ok := byID[id]
		if !ok {
			continue // private or deleted since the playlist listing
		}
		video := domain.VideoMetadata{
			ID:        id,
			ChannelID: channelID,
		}
		if item.Snippet != nil {
			video.Title = item.Snippet.Title
			video.ThumbnailURL = extractThumbnail(item.Snippet.Thumbnails)
			if item.Snippet.PublishedAt != "" {
				if published, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
					video.PublishedAt = published
				}
			}
		}
		if item.Statistics != nil {
			video.Views = item.Statistics.ViewCount
			video.Likes = item.Statistics.LikeCount
			video.Comments = item.Statistics.CommentCount
		}
		out = append(out, video)
	}
	return out
}

func extractThumbnail(thumbnails *youtube.ThumbnailDetails) string {
	if thumbnails == nil {
		return ""
	}

	if thumbnails.Maxres != nil && thumbnails.Maxres.Url != "" {
		return thumbnails.Maxres.Url
	}
	if thumbnails.High != nil && thumbnails.High.Url != "" {
		return thumbnails.High.Url
	}
	if thumbnails.Medium != nil && thumbnails.Medium.Url != "" {
		return thumbnails.Medium.Url
	}
	if thumbnails.Default != nil && thumbnails.Default.Url != "" {
		return thumbnails.Default.Url
	}

	return ""
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return stderrors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isQuotaExceeded(err error) bool {
	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) || apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}

// isRateLimited matches short-term throttling. It clears within seconds and does not
// mean the daily quota is gone.
func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

// mapAPIError converts client errors into the radar error taxonomy.
func mapAPIError(operation, resource string, err error) error {
	if isQuotaExceeded(err) {
		return errors.NewQuotaExhaustedError(operation, 0, 0, 1, nextQuotaReset(time.Now()))
	}
	if isNotFound(err) {
		return errors.NewNotFoundError(resource)
	}
	if isRateLimited(err) {
		return errors.NewUpstreamError("YouTube API rate limited", operation, resource, http.StatusTooManyRequests, err)
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return errors.NewUpstreamError(fmt.Sprintf("YouTube API error (%d)", apiErr.Code), operation, resource, apiErr.Code, err)
	}
	if util.IsCircuitOpen(err) {
		return errors.NewUpstreamError("YouTube API circuit open", operation, resource, http.StatusServiceUnavailable, err)
	}
	return errors.NewUpstreamError("YouTube API request failed", operation, resource, 0, err)
}

// nextQuotaReset is the next midnight Pacific time, when the upstream project quota resets.
func nextQuotaReset(now time.Time) time.Time {
	pt, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		pt = time.UTC
	}
	return util.NextMidnight(now, pt)
}
