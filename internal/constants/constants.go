package constants

import "time"

var QuotaDefaults = struct {
	DailyLimit        int
	ChannelStatsCost  int
	VideoListCost     int
	LowWatermarkRatio float64
}{
	DailyLimit:        10000, // YouTube Data API default project quota
	ChannelStatsCost:  1,     // channels.list
	VideoListCost:     1,     // playlistItems.list + videos.list billed as one listing
	LowWatermarkRatio: 0.2,   // warn below 20% remaining
}

var ScraperDefaults = struct {
	MaxVideosPerChannel int
	MinOutlierScore     int
	MinimumViableCost   int
	DefaultAvgViews     float64
	InterChannelDelay   time.Duration
	FetchTimeout        time.Duration
	PrefetchConcurrency int
}{
	MaxVideosPerChannel: 5,
	MinOutlierScore:     6,
	MinimumViableCost:   100,
	DefaultAvgViews:     10000,
	InterChannelDelay:   2 * time.Second,
	FetchTimeout:        15 * time.Second,
	PrefetchConcurrency: 4,
}

var SchedulerDefaults = struct {
	PollInterval    time.Duration
	RunInterval     time.Duration
	BatchSize       int
	RefreshInterval time.Duration
	DefaultPriority int
}{
	PollInterval:    5 * time.Minute,
	RunInterval:     6 * time.Hour,
	BatchSize:       25,
	RefreshInterval: 6 * time.Hour,
	DefaultPriority: 5,
}

var CacheKeys = struct {
	QuotaLedger    string
	SchedulerState string
}{
	QuotaLedger:    "radar:quota:ledger",
	SchedulerState: "radar:scheduler:state",
}

var RedisConfig = struct {
	ReadyTimeout time.Duration
}{
	ReadyTimeout: 5 * time.Second,
}

var CircuitBreakerConfig = struct {
	FailureThreshold uint32
	ResetTimeout     time.Duration
	MaxRequests      uint32
}{
	FailureThreshold: 3,                // consecutive failures before opening
	ResetTimeout:     30 * time.Second, // open -> half-open
	MaxRequests:      1,
}

var APIConfig = struct {
	YouTubeRequestsPerSecond float64
	YouTubeBurst             int
	MaxResultsPerPage        int64
}{
	YouTubeRequestsPerSecond: 5,
	YouTubeBurst:             5,
	MaxResultsPerPage:        50,
}

var StringLimits = struct {
	VideoTitle int
}{
	VideoTitle: 60,
}
