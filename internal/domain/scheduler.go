package domain

import "time"

// MaxSchedulerErrors bounds the error list kept in persisted run state.
const MaxSchedulerErrors = 50

// SchedulerState is the persisted rotation-scheduler record.
type SchedulerState struct {
	IsRunning       bool       `json:"is_running"`
	LastRunAt       *time.Time `json:"last_run_at"`
	NextRunAt       *time.Time `json:"next_run_at"`
	LastRunID       string     `json:"last_run_id,omitempty"`
	RunningRunID    string     `json:"running_run_id,omitempty"`
	LockedAt        *time.Time `json:"locked_at,omitempty"`
	ChannelsScraped int        `json:"channels_scraped"`
	OutliersFound   int        `json:"outliers_found"`
	QuotaUsed       int        `json:"quota_used"`
	Errors          []string   `json:"errors"`
}

// ShouldRun reports whether a non-forced tick at now may start a run.
func (s SchedulerState) ShouldRun(now time.Time) bool {
	if s.IsRunning {
		return false
	}
	return s.NextRunAt == nil || !now.Before(*s.NextRunAt)
}

// Lock marks runID as the run in progress.
func (s *SchedulerState) Lock(runID string, at time.Time) {
	lockedAt := at
	s.IsRunning = true
	s.RunningRunID = runID
	s.LockedAt = &lockedAt
}

// Unlock drops the run lock without recording a run.
func (s *SchedulerState) Unlock() {
	s.IsRunning = false
	s.RunningRunID = ""
	s.LockedAt = nil
}

// LockExpired reports whether the run lock has been held for at least maxAge.
// A lock without a timestamp never expires.
func (s SchedulerState) LockExpired(now time.Time, maxAge time.Duration) bool {
	if !s.IsRunning || s.LockedAt == nil {
		return false
	}
	return now.Sub(*s.LockedAt) >= maxAge
}

// RecordRun stores a finished run's summary and schedules the next one.
func (s *SchedulerState) RecordRun(runID string, startedAt time.Time, next time.Time, summary *BatchSummary, runErrs []string) {
	lastRun := startedAt
	nextRun := next
	s.Unlock()
	s.LastRunAt = &lastRun
	s.NextRunAt = &nextRun
	s.LastRunID = runID
	s.ChannelsScraped = 0
	s.OutliersFound = 0
	s.QuotaUsed = 0

	errs := append([]string{}, runErrs...)
	if summary != nil {
		s.ChannelsScraped = summary.ChannelsAttempted
		s.OutliersFound = summary.TotalOutliers
		s.QuotaUsed = summary.TotalQuotaUsed
		errs = append(errs, summary.AllErrors()...)
	}
	if len(errs) > MaxSchedulerErrors {
		errs = errs[:MaxSchedulerErrors]
	}
	s.Errors = errs
}
