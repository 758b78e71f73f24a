package app

import (
	"context"
	"testing"
	"time"

	"github.com/kapu/outlier-radar-go/internal/config"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"go.uber.org/zap"
)

func TestScraperOptionsFromConfig(t *testing.T) {
	opts := ScraperOptions(config.ScraperConfig{
		MaxVideosPerChannel: 10,
		StoreAllSnapshots:   true,
		MinOutlierScore:     7,
		MinimumViableCost:   50,
		InterChannelDelay:   time.Second,
	})

	if opts.MaxVideosPerChannel != 10 || !opts.StoreAllSnapshots || opts.MinOutlierScore != 7 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.MinimumViableCost != 50 || opts.InterChannelDelay != time.Second {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.DefaultAvgViews != 10000 {
		t.Fatalf("unset default average must keep the built-in value, got %v", opts.DefaultAvgViews)
	}
}

func TestCostTableFromConfig(t *testing.T) {
	costs := costTable(config.QuotaConfig{ChannelStatsCost: 3, VideoListCost: 2})
	if costs.Cost(domain.OperationChannelStats) != 3 || costs.Cost(domain.OperationVideoList) != 2 {
		t.Fatalf("unexpected cost table: %v", costs)
	}
}

func TestBuildRejectsMissingInputs(t *testing.T) {
	if _, err := Build(context.Background(), nil, zap.NewNop()); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := Build(context.Background(), &config.Config{}, nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestNewSchedulerRequiresBuild(t *testing.T) {
	var c *Container
	if _, err := c.NewScheduler(context.Background()); err == nil {
		t.Fatal("expected error for uninitialized container")
	}
	c.Close()
}
