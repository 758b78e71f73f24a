package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/kapu/outlier-radar-go/internal/domain"
)

var t0 = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func snap(offset time.Duration, views uint64) domain.VideoSnapshot {
	return domain.VideoSnapshot{VideoID: "vid", ChannelID: "chan", SnapshotAt: t0.Add(offset), Views: views}
}

func TestAnalyzeInsufficientData(t *testing.T) {
	if got := Analyze(nil); got != nil {
		t.Fatalf("Analyze(nil) = %+v, want nil", got)
	}
	if got := Analyze([]domain.VideoSnapshot{snap(0, 100)}); got != nil {
		t.Fatalf("Analyze(one) = %+v, want nil", got)
	}
}

func TestAnalyzeTwoSnapshots(t *testing.T) {
	// oldest first on purpose, Analyze must sort
	data := Analyze([]domain.VideoSnapshot{snap(0, 1000), snap(2*time.Hour, 5000)})
	if data == nil {
		t.Fatalf("expected velocity data")
	}
	if data.CurrentVelocity != 2000 {
		t.Fatalf("CurrentVelocity = %v, want 2000", data.CurrentVelocity)
	}
	if data.AvgVelocity != 2000 || data.PeakVelocity != 2000 {
		t.Fatalf("avg/peak = %v/%v, want 2000/2000", data.AvgVelocity, data.PeakVelocity)
	}
	if data.Acceleration != 0 {
		t.Fatalf("Acceleration = %v, want 0 with two snapshots", data.Acceleration)
	}
	if data.Trend != TrendStable {
		t.Fatalf("Trend = %s, want stable", data.Trend)
	}
	if data.Samples != 2 || !data.Until.Equal(t0.Add(2*time.Hour)) || !data.Since.Equal(t0) {
		t.Fatalf("unexpected window: %+v", data)
	}
}

func TestAnalyzeTrends(t *testing.T) {
	tests := []struct {
		name      string
		snapshots []domain.VideoSnapshot
		current   float64
		avg       float64
		peak      float64
		accel     float64
		trend     Trend
	}{
		{
			name:      "accelerating",
			snapshots: []domain.VideoSnapshot{snap(0, 0), snap(time.Hour, 100), snap(2*time.Hour, 400)},
			current:   300, avg: 200, peak: 300, accel: 200, trend: TrendAccelerating,
		},
		{
			name:      "decelerating",
			snapshots: []domain.VideoSnapshot{snap(2*time.Hour, 400), snap(0, 0), snap(time.Hour, 300)},
			current:   100, avg: 200, peak: 300, accel: -200, trend: TrendDecelerating,
		},
		{
			name:      "stable within band",
			snapshots: []domain.VideoSnapshot{snap(0, 0), snap(time.Hour, 100), snap(2*time.Hour, 205)},
			current:   105, avg: 102.5, peak: 105, accel: 5, trend: TrendStable,
		},
		{
			// corrected view counts; a shrinking average has no stable band
			name:      "negative average",
			snapshots: []domain.VideoSnapshot{snap(0, 1000), snap(time.Hour, 900), snap(2*time.Hour, 790)},
			current:   -110, avg: -105, peak: -100, accel: -10, trend: TrendDecelerating,
		},
		{
			name:      "flat",
			snapshots: []domain.VideoSnapshot{snap(0, 500), snap(time.Hour, 500), snap(2*time.Hour, 500)},
			current:   0, avg: 0, peak: 0, accel: 0, trend: TrendStable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Analyze(tt.snapshots)
			if data == nil {
				t.Fatalf("expected data")
			}
			if data.CurrentVelocity != tt.current || data.AvgVelocity != tt.avg ||
				data.PeakVelocity != tt.peak || data.Acceleration != tt.accel {
				t.Fatalf("got current=%v avg=%v peak=%v accel=%v", data.CurrentVelocity, data.AvgVelocity, data.PeakVelocity, data.Acceleration)
			}
			if data.Trend != tt.trend {
				t.Fatalf("Trend = %s, want %s", data.Trend, tt.trend)
			}
		})
	}
}

func TestAnalyzeZeroDurationPair(t *testing.T) {
	data := Analyze([]domain.VideoSnapshot{snap(time.Hour, 500), snap(time.Hour, 900)})
	if data == nil {
		t.Fatalf("expected data")
	}
	if data.CurrentVelocity != 0 || math.IsInf(data.AvgVelocity, 0) || math.IsNaN(data.AvgVelocity) {
		t.Fatalf("zero-duration pair must yield 0 velocity: %+v", data)
	}
	if data.Trend != TrendStable {
		t.Fatalf("Trend = %s, want stable", data.Trend)
	}
}

func TestPairVelocity(t *testing.T) {
	if got := PairVelocity(snap(2*time.Hour, 5000), snap(0, 1000)); got != 2000 {
		t.Fatalf("PairVelocity = %v, want 2000", got)
	}
	if got := PairVelocity(snap(0, 1000), snap(2*time.Hour, 5000)); got != 0 {
		t.Fatalf("out-of-order pair = %v, want 0", got)
	}
}

func TestVelocityToScore(t *testing.T) {
	const avgViews = 16800 // baseline 100 views/hour

	tests := []struct {
		velocity float64
		want     float64
	}{
		{0, 1},
		{25, 1},
		{50, 1},
		{75, 3},
		{100, 5},
		{150, 6.5},
		{200, 8},
		{300, 9},
		{400, 10},
		{10000, 10},
	}
	for _, tt := range tests {
		if got := VelocityToScore(tt.velocity, avgViews); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("VelocityToScore(%v) = %v, want %v", tt.velocity, got, tt.want)
		}
	}

	if got := VelocityToScore(500, 0); got != MinScore {
		t.Fatalf("zero baseline: got %v, want %v", got, float64(MinScore))
	}
}

func TestBuildTrendReport(t *testing.T) {
	report := BuildTrendReport("vid", []domain.VideoSnapshot{snap(0, 1000), snap(2*time.Hour, 5000)}, 16800)
	if report.Latest == nil || report.Latest.Views != 5000 {
		t.Fatalf("latest snapshot not picked: %+v", report.Latest)
	}
	if report.Velocity == nil || report.VelocityScore != 10 {
		t.Fatalf("expected capped score for 20x baseline, got %+v", report)
	}

	single := BuildTrendReport("vid", []domain.VideoSnapshot{snap(0, 1000)}, 16800)
	if single.Velocity != nil || single.VelocityScore != MinScore || single.Latest == nil {
		t.Fatalf("single snapshot report: %+v", single)
	}
}
