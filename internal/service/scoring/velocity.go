package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/util"
)

type Trend string

const (
	TrendAccelerating Trend = "accelerating"
	TrendDecelerating Trend = "decelerating"
	TrendStable       Trend = "stable"

	// stableBand is the fraction of average velocity within which acceleration counts as noise.
	stableBand = 0.1
)

// VelocityData describes how fast a video is gaining views across its snapshot history.
// Velocities are in views per hour.
type VelocityData struct {
	VideoID         string    `json:"video_id"`
	CurrentVelocity float64   `json:"current_velocity"`
	AvgVelocity     float64   `json:"avg_velocity"`
	PeakVelocity    float64   `json:"peak_velocity"`
	Acceleration    float64   `json:"acceleration"`
	Trend           Trend     `json:"trend"`
	Samples         int       `json:"samples"`
	Since           time.Time `json:"since"`
	Until           time.Time `json:"until"`
}

// PairVelocity returns views gained per hour from older to newer.
// Pairs taken at the same instant (or out of order) yield 0.
func PairVelocity(newer, older domain.VideoSnapshot) float64 {
	hours := newer.SnapshotAt.Sub(older.SnapshotAt).Hours()
	if hours <= 0 {
		return 0
	}
	return (float64(newer.Views) - float64(older.Views)) / hours
}

// Analyze computes velocity statistics for snapshots of a single video.
// Fewer than two snapshots is not an error; it returns nil.
func Analyze(snapshots []domain.VideoSnapshot) *VelocityData {
	if len(snapshots) < 2 {
		return nil
	}

	sorted := make([]domain.VideoSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SnapshotAt.After(sorted[j].SnapshotAt)
	})

	velocities := make([]float64, 0, len(sorted)-1)
	for i := 0; i < len(sorted)-1; i++ {
		velocities = append(velocities, PairVelocity(sorted[i], sorted[i+1]))
	}

	sum := 0.0
	peak := math.Inf(-1)
	for _, v := range velocities {
		sum += v
		if v > peak {
			peak = v
		}
	}
	avg := sum / float64(len(velocities))

	current := velocities[0]
	acceleration := 0.0
	if len(velocities) >= 2 {
		acceleration = current - velocities[1]
	}

	return &VelocityData{
		VideoID:         sorted[0].VideoID,
		CurrentVelocity: current,
		AvgVelocity:     avg,
		PeakVelocity:    peak,
		Acceleration:    acceleration,
		Trend:           classifyTrend(acceleration, avg),
		Samples:         len(sorted),
		Since:           sorted[len(sorted)-1].SnapshotAt,
		Until:           sorted[0].SnapshotAt,
	}
}

// classifyTrend is stable when |acceleration| < 0.1 * avgVelocity. A negative average
// leaves no band. Zero acceleration has no direction and is always stable.
func classifyTrend(acceleration, avgVelocity float64) Trend {
	if acceleration == 0 || math.Abs(acceleration) < stableBand*avgVelocity {
		return TrendStable
	}
	if acceleration > 0 {
		return TrendAccelerating
	}
	return TrendDecelerating
}

// VelocityToScore maps a views-per-hour figure onto 1..10 against the channel's weekly
// baseline (avg views spread over BaselineHours):
//
//	<= 0.5x baseline -> 1
//	0.5x .. 1x       -> 1 .. 5
//	1x .. 2x         -> 5 .. 8
//	> 2x             -> 8 + 1 per extra 1x, capped at 10
//
// This is the display-side mapping used by trend reports; the outlier scorer has its own
// velocity term.
func VelocityToScore(velocity, channelAvgViews float64) float64 {
	baseline := channelAvgViews / BaselineHours
	if baseline <= 0 {
		return MinScore
	}

	ratio := velocity / baseline
	var score float64
	switch {
	case ratio <= 0.5:
		score = 1
	case ratio <= 1:
		score = 1 + (ratio-0.5)/0.5*4
	case ratio <= 2:
		score = 5 + (ratio-1)*3
	default:
		score = 8 + (ratio - 2)
	}
	return util.ClampFloat(score, MinScore, MaxScore)
}
