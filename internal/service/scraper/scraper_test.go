package scraper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/service/quota"
	"github.com/kapu/outlier-radar-go/internal/service/scoring"
	"github.com/kapu/outlier-radar-go/internal/util"
	radarerrors "github.com/kapu/outlier-radar-go/pkg/errors"
	"go.uber.org/zap"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	stats     map[string]*domain.ChannelStats
	videos    map[string][]domain.VideoMetadata
	statsErr  error
	videosErr error
	calls     []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		stats:  map[string]*domain.ChannelStats{},
		videos: map[string][]domain.VideoMetadata{},
	}
}

func (f *fakeSource) FetchChannelStats(_ context.Context, channelID string) (*domain.ChannelStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stats:"+channelID)
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats[channelID], nil
}

func (f *fakeSource) FetchLatestVideos(_ context.Context, channelID string, limit int) ([]domain.VideoMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "videos:"+channelID)
	if f.videosErr != nil {
		return nil, f.videosErr
	}
	videos := f.videos[channelID]
	if len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

type fakeStore struct {
	mu          sync.Mutex
	priors      map[string]*domain.VideoSnapshot
	snapshots   []domain.VideoSnapshot
	outliers    []*domain.Outlier
	records     map[string]*domain.Outlier
	baselines   map[string]domain.ChannelBaseline
	scraped     map[string]time.Time
	appendErr   error
	upsertErr   error
	baselineErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		priors:    map[string]*domain.VideoSnapshot{},
		records:   map[string]*domain.Outlier{},
		baselines: map[string]domain.ChannelBaseline{},
		scraped:   map[string]time.Time{},
	}
}

func (f *fakeStore) GetLatestSnapshot(_ context.Context, videoID string) (*domain.VideoSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priors[videoID], nil
}

func (f *fakeStore) AppendSnapshotsBulk(_ context.Context, snapshots []domain.VideoSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.snapshots = append(f.snapshots, snapshots...)
	return nil
}

func (f *fakeStore) UpsertOutlier(_ context.Context, outlier *domain.Outlier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.outliers = append(f.outliers, outlier)
	f.records[outlier.VideoID] = domain.MergeOutlier(f.records[outlier.VideoID], outlier)
	return nil
}

func (f *fakeStore) UpdateChannelBaseline(_ context.Context, channelID string, baseline domain.ChannelBaseline) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.baselineErr != nil {
		return f.baselineErr
	}
	f.baselines[channelID] = baseline
	return nil
}

func (f *fakeStore) MarkChannelScraped(_ context.Context, channelID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scraped[channelID] = at
	return nil
}

type fixture struct {
	source  *fakeSource
	store   *fakeStore
	ledger  *quota.Ledger
	scraper *Scraper
}

func newFixture(t *testing.T, dailyLimit int) *fixture {
	t.Helper()
	clock := util.ClockFunc(func() time.Time { return now })
	ledger := quota.NewLedger(context.Background(), quota.Config{DailyLimit: dailyLimit, Location: time.UTC}, nil, clock, zap.NewNop())
	source := newFakeSource()
	store := newFakeStore()
	s := NewScraper(source, store, ledger, clock, Config{FetchTimeout: time.Second, PrefetchConcurrency: 2}, zap.NewNop())
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return &fixture{source: source, store: store, ledger: ledger, scraper: s}
}

func trackedChannel(id string) *domain.TrackedChannel {
	return &domain.TrackedChannel{
		ChannelID:       id,
		AvgViews:        10000,
		Priority:        5,
		RefreshInterval: 6 * time.Hour,
		Active:          true,
	}
}

// breakout scores 8 against a 10,000 baseline
func breakout(id string) domain.VideoMetadata {
	return domain.VideoMetadata{
		ID:          id,
		Title:       "video " + id,
		Views:       50000,
		Likes:       4000,
		Comments:    1000,
		PublishedAt: now.Add(-12 * time.Hour),
	}
}

func (f *fixture) addChannel(id string, videos ...domain.VideoMetadata) *domain.TrackedChannel {
	f.source.stats[id] = &domain.ChannelStats{ChannelID: id, AvgViewsHint: 12000, SubscriberCount: 5000, TotalVideos: 40}
	f.source.videos[id] = videos
	return trackedChannel(id)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.InterChannelDelay = 0
	return opts
}

func TestScrapeChannelPartialFailure(t *testing.T) {
	f := newFixture(t, 10000)
	channel := f.addChannel("UC1", breakout("v1"), breakout("v2"), breakout("v3"), breakout("v4"), breakout("v5"))
	// only the third video blows up
	calls := 0
	f.scraper.score = func(m scoring.Metrics, at time.Time) scoring.Result {
		calls++
		if calls == 3 {
			panic("boom")
		}
		return scoring.Score(m, at)
	}

	result := f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

	if result.Status != domain.ScrapeStatusPartial {
		t.Fatalf("Status = %s, want partial", result.Status)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "v3") {
		t.Fatalf("expected exactly one error for v3, got %v", result.Errors)
	}
	if result.VideosFound != 5 || result.VideosProcessed != 4 {
		t.Fatalf("found/processed = %d/%d, want 5/4", result.VideosFound, result.VideosProcessed)
	}
	if len(f.store.snapshots) != 4 || result.SnapshotsStored != 4 {
		t.Fatalf("snapshots stored = %d (%d persisted), want 4", result.SnapshotsStored, len(f.store.snapshots))
	}
	if len(f.store.outliers) != 4 || result.OutliersFound != 4 {
		t.Fatalf("outliers = %d (%d persisted), want 4", result.OutliersFound, len(f.store.outliers))
	}
	for _, s := range f.store.snapshots {
		if s.VideoID == "v3" {
			t.Fatalf("failed video must not be persisted")
		}
	}
	if _, ok := f.store.scraped["UC1"]; !ok {
		t.Fatalf("channel must still be stamped as scraped")
	}
	if result.QuotaUsed != 2 {
		t.Fatalf("QuotaUsed = %d, want 2", result.QuotaUsed)
	}
}

func TestScrapeChannelSnapshotAndUpsertThresholds(t *testing.T) {
	f := newFixture(t, 10000)
	escapeHatch := domain.VideoMetadata{ID: "old-hit", Views: 35000, PublishedAt: now.Add(-30 * 24 * time.Hour)}
	typical := domain.VideoMetadata{ID: "typical", Views: 10000, PublishedAt: now.Add(-30 * 24 * time.Hour)}
	channel := f.addChannel("UC1", breakout("fresh-hit"), escapeHatch, typical)

	result := f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

	if result.Status != domain.ScrapeStatusOK {
		t.Fatalf("Status = %s, errors %v", result.Status, result.Errors)
	}
	if result.VideosProcessed != 3 {
		t.Fatalf("VideosProcessed = %d, want 3", result.VideosProcessed)
	}

	stored := map[string]bool{}
	for _, s := range f.store.snapshots {
		stored[s.VideoID] = true
	}
	if !stored["fresh-hit"] || !stored["old-hit"] || stored["typical"] {
		t.Fatalf("unexpected stored snapshots: %v", stored)
	}

	if len(f.store.outliers) != 1 || f.store.outliers[0].VideoID != "fresh-hit" {
		t.Fatalf("only the high-scoring video must be upserted, got %d", len(f.store.outliers))
	}
	o := f.store.outliers[0]
	if o.Status != domain.OutlierStatusActive || !o.IsNew || o.FirstSeenViews != 50000 || !o.DetectedAt.Equal(now) {
		t.Fatalf("unexpected outlier record: %+v", o)
	}
}

func TestScrapeChannelStoreAllSnapshots(t *testing.T) {
	f := newFixture(t, 10000)
	typical := domain.VideoMetadata{ID: "typical", Views: 10000, PublishedAt: now.Add(-30 * 24 * time.Hour)}
	channel := f.addChannel("UC1", typical)

	opts := testOptions()
	opts.StoreAllSnapshots = true
	f.scraper.ScrapeChannel(context.Background(), channel, opts)

	if len(f.store.snapshots) != 1 {
		t.Fatalf("StoreAllSnapshots must keep non-outliers, got %d", len(f.store.snapshots))
	}
	if len(f.store.outliers) != 0 {
		t.Fatalf("typical video must not be upserted")
	}
}

func TestScrapeChannelMinOutlierScore(t *testing.T) {
	f := newFixture(t, 10000)
	channel := f.addChannel("UC1", breakout("v1"))

	opts := testOptions()
	opts.MinOutlierScore = 9
	result := f.scraper.ScrapeChannel(context.Background(), channel, opts)

	if len(f.store.snapshots) != 1 {
		t.Fatalf("outlier snapshot must be stored regardless of the upsert threshold")
	}
	if len(f.store.outliers) != 0 || result.OutliersFound != 0 {
		t.Fatalf("score 8 must not be upserted at threshold 9")
	}
}

func TestScrapeChannelPairVelocityFromPrior(t *testing.T) {
	f := newFixture(t, 10000)
	channel := f.addChannel("UC1", breakout("v1"))
	f.store.priors["v1"] = &domain.VideoSnapshot{VideoID: "v1", ChannelID: "UC1", Views: 40000, SnapshotAt: now.Add(-2 * time.Hour)}

	f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

	if len(f.store.snapshots) != 1 {
		t.Fatalf("expected one snapshot")
	}
	if got := f.store.snapshots[0].ViewsPerHour; got != 5000 {
		t.Fatalf("ViewsPerHour = %v, want 5000", got)
	}
	if !f.store.snapshots[0].SnapshotAt.Equal(now) {
		t.Fatalf("SnapshotAt = %v, want %v", f.store.snapshots[0].SnapshotAt, now)
	}
}

func TestScrapeChannelBaseline(t *testing.T) {
	f := newFixture(t, 10000)
	channel := f.addChannel("UC1", breakout("v1"))
	channel.AvgViews = 0

	f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

	baseline := f.store.baselines["UC1"]
	if baseline.AvgViews != 12000 || baseline.SubscriberCount != 5000 || baseline.TotalVideos != 40 {
		t.Fatalf("unexpected baseline: %+v", baseline)
	}

	// the scoring fallback must never be written back
	f.source.stats["UC2"] = &domain.ChannelStats{ChannelID: "UC2"}
	f.source.videos["UC2"] = []domain.VideoMetadata{breakout("v2")}
	fresh := trackedChannel("UC2")
	fresh.AvgViews = 0
	f.scraper.ScrapeChannel(context.Background(), fresh, testOptions())
	if got := f.store.baselines["UC2"].AvgViews; got != 0 {
		t.Fatalf("default average persisted: %v", got)
	}
}

func TestScrapeChannelNoVideos(t *testing.T) {
	f := newFixture(t, 10000)
	channel := f.addChannel("UC1")

	result := f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

	if result.Status != domain.ScrapeStatusNoVideos {
		t.Fatalf("Status = %s, want no_videos", result.Status)
	}
	if len(result.Errors) != 0 || result.Status.HasErrors() {
		t.Fatalf("zero videos is not an error: %v", result.Errors)
	}
	if _, ok := f.store.scraped["UC1"]; !ok {
		t.Fatalf("empty channel must be stamped as scraped")
	}
}

func TestScrapeChannelFetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		wantStatus domain.ScrapeStatus
		wantQuota  int
	}{
		{
			name:       "stats failure",
			setup:      func(f *fixture) { f.source.statsErr = errors.New("connection reset") },
			wantStatus: domain.ScrapeStatusFetchError,
			wantQuota:  1,
		},
		{
			name:       "channel not found",
			setup:      func(f *fixture) { f.source.stats = map[string]*domain.ChannelStats{} },
			wantStatus: domain.ScrapeStatusFetchError,
			wantQuota:  1,
		},
		{
			name:       "video list failure",
			setup:      func(f *fixture) { f.source.videosErr = errors.New("bad gateway") },
			wantStatus: domain.ScrapeStatusFetchError,
			wantQuota:  2,
		},
		{
			name: "upstream quota exceeded",
			setup: func(f *fixture) {
				f.source.statsErr = radarerrors.NewQuotaExhaustedError("channels.list", 0, 0, 1, now)
			},
			wantStatus: domain.ScrapeStatusQuotaBlocked,
			wantQuota:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10000)
			channel := f.addChannel("UC1", breakout("v1"))
			tt.setup(f)

			result := f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

			if result.Status != tt.wantStatus {
				t.Fatalf("Status = %s, want %s", result.Status, tt.wantStatus)
			}
			if len(result.Errors) != 1 {
				t.Fatalf("expected one channel-level error, got %v", result.Errors)
			}
			if result.QuotaUsed != tt.wantQuota {
				t.Fatalf("QuotaUsed = %d, want %d", result.QuotaUsed, tt.wantQuota)
			}
			if _, ok := f.store.scraped["UC1"]; ok {
				t.Fatalf("failed channel must stay due")
			}
			if len(f.store.snapshots) != 0 {
				t.Fatalf("nothing may be persisted after a channel-level failure")
			}
		})
	}
}

func TestScrapeChannelQuotaBlocked(t *testing.T) {
	f := newFixture(t, 0)
	channel := f.addChannel("UC1", breakout("v1"))

	result := f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

	if result.Status != domain.ScrapeStatusQuotaBlocked {
		t.Fatalf("Status = %s, want quota_blocked", result.Status)
	}
	if len(f.source.calls) != 0 {
		t.Fatalf("no upstream call may be made without quota, got %v", f.source.calls)
	}
	if result.Status.HasErrors() {
		t.Fatalf("quota stop must not count as an error status")
	}

	f = newFixture(t, 1)
	channel = f.addChannel("UC1", breakout("v1"))
	result = f.scraper.ScrapeChannel(context.Background(), channel, testOptions())
	if result.Status != domain.ScrapeStatusQuotaBlocked || result.QuotaUsed != 1 {
		t.Fatalf("video list must be blocked after stats: %+v", result)
	}
	if len(f.source.calls) != 1 {
		t.Fatalf("only the stats call may be made, got %v", f.source.calls)
	}
}

func TestScrapeChannelPersistenceFailuresAreIndependent(t *testing.T) {
	f := newFixture(t, 10000)
	channel := f.addChannel("UC1", breakout("v1"), breakout("v2"))
	f.store.baselineErr = errors.New("baseline write rejected")
	f.store.upsertErr = errors.New("outlier table locked")

	result := f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

	if result.Status != domain.ScrapeStatusPartial {
		t.Fatalf("Status = %s, want partial", result.Status)
	}
	if len(f.store.snapshots) != 2 || result.SnapshotsStored != 2 {
		t.Fatalf("snapshots must survive later persistence failures")
	}
	if result.OutliersFound != 0 {
		t.Fatalf("failed upserts must not be counted")
	}
	// two upsert errors plus the baseline error
	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %v", result.Errors)
	}
	if _, ok := f.store.scraped["UC1"]; !ok {
		t.Fatalf("scrape stamp must not depend on the baseline write")
	}
}

func TestScrapeChannelCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, 10000)
	channel := f.addChannel("UC1", breakout("v1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.scraper.ScrapeChannel(ctx, channel, testOptions())
	if result.Status != domain.ScrapeStatusCancelled || len(f.source.calls) != 0 {
		t.Fatalf("cancelled context must skip the channel: %+v", result)
	}
}

func TestScrapeChannelsQuotaFloor(t *testing.T) {
	f := newFixture(t, 10)
	channels := []*domain.TrackedChannel{}
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		channels = append(channels, f.addChannel(id))
	}

	opts := testOptions()
	opts.MinimumViableCost = 5
	summary := f.scraper.ScrapeChannels(context.Background(), channels, opts)

	// each channel spends 2 units: 10 -> 8 -> 6 -> 4 (< 5, stop)
	if summary.ChannelsAttempted != 3 {
		t.Fatalf("ChannelsAttempted = %d, want 3", summary.ChannelsAttempted)
	}
	if !summary.StoppedEarly || summary.StopReason != domain.BatchStopQuota {
		t.Fatalf("expected quota floor stop, got %+v", summary)
	}
	if summary.TotalQuotaUsed != 6 || summary.TotalErrors != 0 {
		t.Fatalf("quota/errors = %d/%d, want 6/0", summary.TotalQuotaUsed, summary.TotalErrors)
	}
}

func TestScrapeChannelsOrderDelayAndAggregation(t *testing.T) {
	f := newFixture(t, 10000)
	a := f.addChannel("A", breakout("a1"), breakout("a2"))
	b := f.addChannel("B")
	c := f.addChannel("C", breakout("c1"))
	f.source.stats["B"] = nil

	var delays []time.Duration
	f.scraper.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	opts := testOptions()
	opts.InterChannelDelay = 2 * time.Second
	summary := f.scraper.ScrapeChannels(context.Background(), []*domain.TrackedChannel{a, b, c}, opts)

	wantCalls := []string{"stats:A", "videos:A", "stats:B", "stats:C", "videos:C"}
	if strings.Join(f.source.calls, ",") != strings.Join(wantCalls, ",") {
		t.Fatalf("calls = %v, want %v", f.source.calls, wantCalls)
	}
	if len(delays) != 2 || delays[0] != 2*time.Second {
		t.Fatalf("delays = %v, want two 2s pauses", delays)
	}
	if summary.ChannelsAttempted != 3 || summary.TotalVideos != 3 || summary.TotalOutliers != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.ChannelsWithErrors != 1 || summary.TotalErrors != 1 || summary.StoppedEarly {
		t.Fatalf("unexpected error aggregation: %+v", summary)
	}
	if errs := summary.AllErrors(); len(errs) != 1 || !strings.HasPrefix(errs[0], "B: ") {
		t.Fatalf("AllErrors = %v", errs)
	}
}

func TestScrapeChannelsCancelledBetweenChannels(t *testing.T) {
	f := newFixture(t, 10000)
	a := f.addChannel("A", breakout("a1"))
	b := f.addChannel("B", breakout("b1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.scraper.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	summary := f.scraper.ScrapeChannels(ctx, []*domain.TrackedChannel{a, b}, testOptions())

	if summary.ChannelsAttempted != 1 {
		t.Fatalf("ChannelsAttempted = %d, want 1", summary.ChannelsAttempted)
	}
	if !summary.StoppedEarly || summary.StopReason != domain.BatchStopCancelled {
		t.Fatalf("expected cancelled stop, got %+v", summary)
	}
}

func TestScrapeChannelZeroOptionsKeepsDetectionThreshold(t *testing.T) {
	f := newFixture(t, 10000)
	typical := domain.VideoMetadata{ID: "typical", Views: 10000, PublishedAt: now.Add(-30 * 24 * time.Hour)}
	channel := f.addChannel("UC1", breakout("hit"), typical)

	result := f.scraper.ScrapeChannel(context.Background(), channel, Options{})

	if result.Status != domain.ScrapeStatusOK {
		t.Fatalf("Status = %s, errors %v", result.Status, result.Errors)
	}
	if len(f.store.outliers) != 1 || f.store.outliers[0].VideoID != "hit" {
		t.Fatalf("zero options must fall back to the default threshold, upserted %d", len(f.store.outliers))
	}
	for _, o := range f.store.outliers {
		if o.OutlierScore < DefaultOptions().MinOutlierScore {
			t.Fatalf("upserted %s with score %d", o.VideoID, o.OutlierScore)
		}
	}
}

func TestScrapeChannelRedetectionKeepsIdentity(t *testing.T) {
	f := newFixture(t, 10000)
	channel := f.addChannel("UC1", breakout("v1"))

	f.scraper.ScrapeChannel(context.Background(), channel, testOptions())
	first := f.store.records["v1"]
	if first == nil {
		t.Fatalf("first detection must create the record")
	}
	first.Status = domain.OutlierStatusAnalyzed
	first.IsNew = false
	first.Notes = "thumbnail test"

	later := now.Add(2 * time.Hour)
	f.scraper.clock = util.ClockFunc(func() time.Time { return later })
	grown := breakout("v1")
	grown.Views = 80000
	f.source.videos["UC1"] = []domain.VideoMetadata{grown}

	f.scraper.ScrapeChannel(context.Background(), channel, testOptions())

	got := f.store.records["v1"]
	if len(f.store.outliers) != 2 {
		t.Fatalf("expected two upserts, got %d", len(f.store.outliers))
	}
	if !got.DetectedAt.Equal(now) || got.FirstSeenViews != 50000 {
		t.Fatalf("identity changed on re-detection: detected %v first views %d", got.DetectedAt, got.FirstSeenViews)
	}
	if got.Status != domain.OutlierStatusAnalyzed || got.IsNew || got.Notes != "thumbnail test" {
		t.Fatalf("operator fields changed on re-detection: %+v", got)
	}
	if got.Views != 80000 || !got.LastUpdatedAt.Equal(later) {
		t.Fatalf("metrics not refreshed: views %d updated %v", got.Views, got.LastUpdatedAt)
	}
}

func TestScrapeChannelsQuotaStopIsNotAnError(t *testing.T) {
	// stats for A and B fit, B's video list does not
	f := newFixture(t, 3)
	a := f.addChannel("A", breakout("a1"))
	b := f.addChannel("B", breakout("b1"))

	opts := testOptions()
	opts.MinimumViableCost = 1
	summary := f.scraper.ScrapeChannels(context.Background(), []*domain.TrackedChannel{a, b}, opts)

	if summary.ChannelsAttempted != 2 {
		t.Fatalf("ChannelsAttempted = %d, want 2", summary.ChannelsAttempted)
	}
	blocked := summary.Results[1]
	if blocked.Status != domain.ScrapeStatusQuotaBlocked || len(blocked.Errors) != 1 {
		t.Fatalf("B must be quota blocked with a reason: %+v", blocked)
	}
	if summary.TotalErrors != 0 || summary.ChannelsWithErrors != 0 {
		t.Fatalf("quota stop counted as error: %d errors in %d channels", summary.TotalErrors, summary.ChannelsWithErrors)
	}
	if summary.TotalOutliers != 1 || summary.TotalQuotaUsed != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
