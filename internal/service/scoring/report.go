package scoring

import "github.com/kapu/outlier-radar-go/internal/domain"

// TrendReport is the standalone velocity view of one video's snapshot history
type TrendReport struct {
	VideoID       string                `json:"video_id"`
	Latest        *domain.VideoSnapshot `json:"latest,omitempty"`
	Velocity      *VelocityData         `json:"velocity,omitempty"`
	VelocityScore float64               `json:"velocity_score"`
}

// BuildTrendReport analyses snapshots for videoID. With fewer than two snapshots the
// report carries only the latest observation and a minimum score.
func BuildTrendReport(videoID string, snapshots []domain.VideoSnapshot, channelAvgViews float64) TrendReport {
	report := TrendReport{VideoID: videoID, VelocityScore: MinScore}

	for i := range snapshots {
		if report.Latest == nil || snapshots[i].SnapshotAt.After(report.Latest.SnapshotAt) {
			latest := snapshots[i]
			report.Latest = &latest
		}
	}

	report.Velocity = Analyze(snapshots)
	if report.Velocity != nil {
		report.VelocityScore = VelocityToScore(report.Velocity.CurrentVelocity, channelAvgViews)
	}
	return report
}
