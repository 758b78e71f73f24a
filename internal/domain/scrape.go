package domain

import "time"

type ScrapeStatus string

const (
	ScrapeStatusOK           ScrapeStatus = "ok"
	ScrapeStatusPartial      ScrapeStatus = "partial"
	ScrapeStatusNoVideos     ScrapeStatus = "no_videos"
	ScrapeStatusFetchError   ScrapeStatus = "fetch_error"
	ScrapeStatusQuotaBlocked ScrapeStatus = "quota_blocked"
	ScrapeStatusCancelled    ScrapeStatus = "cancelled"
)

func (s ScrapeStatus) String() string {
	return string(s)
}

// HasErrors reports whether the status is an error outcome. Quota stops and
// empty channels are expected conditions, not errors.
func (s ScrapeStatus) HasErrors() bool {
	return s == ScrapeStatusPartial || s == ScrapeStatusFetchError
}

// ScrapeResult summarises one channel refresh. It is always produced, even on failure.
type ScrapeResult struct {
	ChannelID       string        `json:"channel_id"`
	Status          ScrapeStatus  `json:"status"`
	VideosFound     int           `json:"videos_found"`
	VideosProcessed int           `json:"videos_processed"`
	SnapshotsStored int           `json:"snapshots_stored"`
	OutliersFound   int           `json:"outliers_found"`
	QuotaUsed       int           `json:"quota_used"`
	Errors          []string      `json:"errors"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

func (r *ScrapeResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

type BatchStopReason string

const (
	BatchStopNone      BatchStopReason = ""
	BatchStopQuota     BatchStopReason = "quota_floor"
	BatchStopCancelled BatchStopReason = "cancelled"
)

// BatchSummary aggregates the results of one orchestrator pass.
type BatchSummary struct {
	Results            []ScrapeResult  `json:"results"`
	ChannelsAttempted  int             `json:"channels_attempted"`
	TotalVideos        int             `json:"total_videos"`
	TotalOutliers      int             `json:"total_outliers"`
	TotalQuotaUsed     int             `json:"total_quota_used"`
	TotalErrors        int             `json:"total_errors"`
	ChannelsWithErrors int             `json:"channels_with_errors"`
	StoppedEarly       bool            `json:"stopped_early"`
	StopReason         BatchStopReason `json:"stop_reason,omitempty"`
}

// Add folds one channel result into the summary. Messages carried by a quota stop
// stay in Results but are not counted as errors.
func (s *BatchSummary) Add(r ScrapeResult) {
	s.Results = append(s.Results, r)
	s.ChannelsAttempted++
	s.TotalVideos += r.VideosProcessed
	s.TotalOutliers += r.OutliersFound
	s.TotalQuotaUsed += r.QuotaUsed
	if !r.Status.HasErrors() {
		return
	}
	s.TotalErrors += len(r.Errors)
	if len(r.Errors) > 0 {
		s.ChannelsWithErrors++
	}
}

// AllErrors flattens per-channel errors, prefixed with the channel id.
func (s *BatchSummary) AllErrors() []string {
	var out []string
	for _, r := range s.Results {
		for _, e := range r.Errors {
			out = append(out, r.ChannelID+": "+e)
		}
	}
	return out
}
