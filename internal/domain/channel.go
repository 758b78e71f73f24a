package domain

import "time"

const (
	MinChannelPriority = 1
	MaxChannelPriority = 10
)

// TrackedChannel represents a competitor YouTube channel under surveillance
type TrackedChannel struct {
	ChannelID       string        `json:"channel_id" yaml:"channel_id"`
	Handle          string        `json:"handle,omitempty" yaml:"handle,omitempty"`
	Title           string        `json:"title,omitempty" yaml:"title,omitempty"`
	AvgViews        float64       `json:"avg_views" yaml:"avg_views,omitempty"`
	SubscriberCount uint64        `json:"subscriber_count" yaml:"-"`
	TotalVideos     uint64        `json:"total_videos" yaml:"-"`
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"-"`
	Priority        int           `json:"priority" yaml:"priority"`
	LastScrapedAt   *time.Time    `json:"last_scraped_at,omitempty" yaml:"-"`
	Active          bool          `json:"active" yaml:"active"`
	CreatedAt       time.Time     `json:"created_at" yaml:"-"`
}

// GetDisplayName returns the handle if available, otherwise the title or id
func (c *TrackedChannel) GetDisplayName() string {
	if c == nil {
		return ""
	}
	if c.Handle != "" {
		return c.Handle
	}
	if c.Title != "" {
		return c.Title
	}
	return c.ChannelID
}

// IsDue reports whether the channel should be refreshed at now.
// A channel that was never scraped is always due.
func (c *TrackedChannel) IsDue(now time.Time) bool {
	if c == nil || !c.Active {
		return false
	}
	if c.LastScrapedAt == nil {
		return true
	}
	return now.Sub(*c.LastScrapedAt) >= c.RefreshInterval
}

// DueAt returns when the channel next becomes due. Never-scraped channels are due at zero time.
func (c *TrackedChannel) DueAt() time.Time {
	if c == nil || c.LastScrapedAt == nil {
		return time.Time{}
	}
	return c.LastScrapedAt.Add(c.RefreshInterval)
}

// ClampPriority bounds p into [MinChannelPriority, MaxChannelPriority]
func ClampPriority(p int) int {
	if p < MinChannelPriority {
		return MinChannelPriority
	}
	if p > MaxChannelPriority {
		return MaxChannelPriority
	}
	return p
}

// ChannelBaseline is the set of per-channel aggregates refreshed after a successful scrape
type ChannelBaseline struct {
	AvgViews        float64 `json:"avg_views"`
	SubscriberCount uint64  `json:"subscriber_count"`
	TotalVideos     uint64  `json:"total_videos"`
}
