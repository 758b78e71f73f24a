package domain

import "time"

// ChannelStats is the upstream view of a channel's lifetime totals.
type ChannelStats struct {
	ChannelID       string    `json:"channel_id"`
	Title           string    `json:"title"`
	AvgViewsHint    float64   `json:"avg_views_hint"` // total views / total videos, 0 if unknown
	SubscriberCount uint64    `json:"subscriber_count"`
	TotalVideos     uint64    `json:"total_videos"`
	TotalViews      uint64    `json:"total_views"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// VideoMetadata is one of a channel's latest uploads as returned by the video source.
type VideoMetadata struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	Title        string    `json:"title"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Views        uint64    `json:"views"`
	Likes        uint64    `json:"likes"`
	Comments     uint64    `json:"comments"`
	PublishedAt  time.Time `json:"published_at"`
}

// VideoSnapshot is one immutable observation of a video's metrics.
// VideoID, ChannelID and SnapshotAt together identify a snapshot.
type VideoSnapshot struct {
	VideoID         string    `json:"video_id"`
	ChannelID       string    `json:"channel_id"`
	Title           string    `json:"title"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	Views           uint64    `json:"views"`
	Likes           uint64    `json:"likes"`
	Comments        uint64    `json:"comments"`
	PublishedAt     time.Time `json:"published_at"`
	SnapshotAt      time.Time `json:"snapshot_at"`
	EngagementRatio float64   `json:"engagement_ratio"`
	ViewsPerHour    float64   `json:"views_per_hour"` // vs. the prior snapshot, 0 when none
	VelocityScore   float64   `json:"velocity_score"`
	Multiplier      float64   `json:"multiplier"`
	OutlierScore    int       `json:"outlier_score"`
}
