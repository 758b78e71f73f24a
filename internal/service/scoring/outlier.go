package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/kapu/outlier-radar-go/internal/util"
)

// Scoring weights and normalisation constants. Changing any of these changes
// every stored outlier score.
const (
	multiplierWeight = 0.4
	velocityWeight   = 0.3
	engagementWeight = 0.2
	recencyWeight    = 0.1

	maxTerm = 10.0

	// TypicalEngagementRatio is the assumed (likes+comments)/views of an average video.
	TypicalEngagementRatio = 0.05
	// BaselineHours is the window over which a typical video accrues its average views.
	BaselineHours = 24 * 7

	OutlierScoreThreshold      = 6
	OutlierMultiplierThreshold = 3.0
	velocityReasonThreshold    = 5.0
	engagementReasonFactor     = 1.5

	MinScore = 1
	MaxScore = 10
)

// Metrics are the scorer inputs for one video.
type Metrics struct {
	Views           int64
	Likes           int64
	Comments        int64
	PublishedAt     time.Time
	ChannelAvgViews float64
}

// Result is the scorer output. Score is always within [MinScore, MaxScore].
type Result struct {
	Score           int
	Multiplier      float64
	EngagementRatio float64
	VelocityScore   float64
	IsOutlier       bool
	Reasons         []string
}

// Score rates a video against its channel baseline at now.
// Negative inputs are clamped to zero; no input combination panics or divides by zero.
func Score(m Metrics, now time.Time) Result {
	views := float64(max64(m.Views, 0))
	likes := float64(max64(m.Likes, 0))
	comments := float64(max64(m.Comments, 0))
	avgViews := math.Max(m.ChannelAvgViews, 0)

	multiplier := 1.0
	if avgViews > 0 {
		multiplier = views / avgViews
	}

	engagementRatio := 0.0
	if views > 0 {
		engagementRatio = (likes + comments) / views
	}

	hoursSincePublish := math.Max(now.Sub(m.PublishedAt).Hours(), 0)
	velocityScore := 0.0
	if hoursSincePublish > 0 {
		viewsPerHour := views / hoursSincePublish
		avgViewsPerHour := avgViews / BaselineHours
		if avgViewsPerHour > 0 {
			velocityScore = math.Min(maxTerm, viewsPerHour/avgViewsPerHour)
		}
	}

	recency := recencyBonus(hoursSincePublish)

	multiplierTerm := math.Min(maxTerm, (multiplier-1)*2)
	engagementTerm := math.Min(maxTerm, engagementRatio/TypicalEngagementRatio)
	recencyTerm := recency * maxTerm

	raw := multiplierTerm*multiplierWeight +
		velocityScore*velocityWeight +
		engagementTerm*engagementWeight +
		recencyTerm*recencyWeight

	score := util.ClampInt(int(math.Round(raw)), MinScore, MaxScore)

	return Result{
		Score:           score,
		Multiplier:      multiplier,
		EngagementRatio: engagementRatio,
		VelocityScore:   velocityScore,
		IsOutlier:       score >= OutlierScoreThreshold || multiplier >= OutlierMultiplierThreshold,
		Reasons:         reasons(multiplier, velocityScore, engagementRatio, hoursSincePublish, recency),
	}
}

func recencyBonus(hours float64) float64 {
	switch {
	case hours <= 24:
		return 1.0
	case hours <= 48:
		return 0.5
	default:
		return 0
	}
}

func reasons(multiplier, velocityScore, engagementRatio, hours, recency float64) []string {
	out := []string{}
	if multiplier >= OutlierMultiplierThreshold {
		out = append(out, fmt.Sprintf("%.1fx channel average views", multiplier))
	}
	if velocityScore >= velocityReasonThreshold {
		out = append(out, fmt.Sprintf("fast view velocity (%.1f/10)", velocityScore))
	}
	if engagementRatio >= TypicalEngagementRatio*engagementReasonFactor {
		out = append(out, fmt.Sprintf("high engagement (%.1f%%)", engagementRatio*100))
	}
	if recency > 0 {
		out = append(out, fmt.Sprintf("recent upload (%.0fh ago)", hours))
	}
	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
