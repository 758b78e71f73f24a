package domain

import "time"

type OutlierStatus string

const (
	OutlierStatusActive    OutlierStatus = "active"
	OutlierStatusDismissed OutlierStatus = "dismissed"
	OutlierStatusAnalyzed  OutlierStatus = "analyzed"
	OutlierStatusArchived  OutlierStatus = "archived"
)

func (s OutlierStatus) String() string {
	return string(s)
}

func (s OutlierStatus) IsValid() bool {
	switch s {
	case OutlierStatusActive, OutlierStatusDismissed, OutlierStatusAnalyzed, OutlierStatusArchived:
		return true
	default:
		return false
	}
}

// Outlier is the current state of a video that cleared the detection threshold.
// There is one record per video; re-detection updates metrics and LastUpdatedAt only.
type Outlier struct {
	VideoID         string        `json:"video_id"`
	ChannelID       string        `json:"channel_id"`
	Title           string        `json:"title"`
	ThumbnailURL    string        `json:"thumbnail_url"`
	Status          OutlierStatus `json:"status"`
	IsNew           bool          `json:"is_new"`
	Priority        int           `json:"priority"`
	Notes           string        `json:"notes,omitempty"`
	Views           uint64        `json:"views"`
	FirstSeenViews  uint64        `json:"first_seen_views"`
	Multiplier      float64       `json:"multiplier"`
	OutlierScore    int           `json:"outlier_score"`
	VelocityScore   float64       `json:"velocity_score"`
	EngagementRatio float64       `json:"engagement_ratio"`
	Reasons         []string      `json:"reasons"`
	PublishedAt     time.Time     `json:"published_at"`
	DetectedAt      time.Time     `json:"detected_at"`
	LastUpdatedAt   time.Time     `json:"last_updated_at"`
}

// MergeOutlier applies a fresh detection onto an existing record. Identity fields
// (DetectedAt, FirstSeenViews) and operator-owned fields (Status, Notes, Priority, IsNew)
// are kept from existing; metrics come from fresh.
func MergeOutlier(existing, fresh *Outlier) *Outlier {
	if existing == nil {
		return fresh
	}
	merged := *fresh
	merged.DetectedAt = existing.DetectedAt
	merged.FirstSeenViews = existing.FirstSeenViews
	merged.Status = existing.Status
	merged.Notes = existing.Notes
	merged.Priority = existing.Priority
	merged.IsNew = existing.IsNew
	if merged.LastUpdatedAt.Before(existing.LastUpdatedAt) {
		merged.LastUpdatedAt = existing.LastUpdatedAt
	}
	return &merged
}
