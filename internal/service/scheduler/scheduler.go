package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/metrics"
	"github.com/kapu/outlier-radar-go/internal/service/queue"
	"github.com/kapu/outlier-radar-go/internal/service/scraper"
	"github.com/kapu/outlier-radar-go/internal/util"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned by ForceRun while another batch is running.
var ErrRunInProgress = errors.New("scheduler: a run is already in progress")

type ChannelLister interface {
	ListTrackedChannels(ctx context.Context, activeOnly bool) ([]*domain.TrackedChannel, error)
}

type BatchRunner interface {
	ScrapeChannels(ctx context.Context, channels []*domain.TrackedChannel, opts scraper.Options) domain.BatchSummary
}

// StateStore persists the run record. Load returns (nil, nil) when nothing is stored.
type StateStore interface {
	Load(ctx context.Context) (*domain.SchedulerState, error)
	Save(ctx context.Context, state domain.SchedulerState) error
}

type Config struct {
	PollInterval time.Duration
	RunInterval  time.Duration
	BatchSize    int
	Options      scraper.Options
}

// Scheduler periodically hands a batch of due channels to the scraper.
// At most one batch runs at a time, in-process via runMu and across processes via
// the persisted IsRunning flag. A persisted lock older than RunInterval is treated as
// abandoned.
type Scheduler struct {
	channels ChannelLister
	runner   BatchRunner
	states   StateStore
	clock    util.Clock
	logger   *zap.Logger
	cfg      Config

	runMu   sync.Mutex
	stateMu sync.Mutex
	state   domain.SchedulerState
	// finished run whose lock release never reached the store
	unreleased *domain.SchedulerState

	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(channels ChannelLister, runner BatchRunner, states StateStore, clock util.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = util.SystemClock{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.SchedulerDefaults.PollInterval
	}
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = constants.SchedulerDefaults.RunInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.SchedulerDefaults.BatchSize
	}

	return &Scheduler{
		channels: channels,
		runner:   runner,
		states:   states,
		clock:    clock,
		logger:   util.OrNop(logger),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Start clears a run lock left behind by a crashed process, then polls every PollInterval
// until ctx is done or Stop is called. The first check happens immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.recoverStaleLock(ctx)

	s.ticker = time.NewTicker(s.cfg.PollInterval)

	s.logger.Info("Rotation scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("run_interval", s.cfg.RunInterval),
		zap.Int("batch_size", s.cfg.BatchSize))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickAndLog(ctx)
		for {
			select {
			case <-s.ticker.C:
				s.tickAndLog(ctx)
			case <-s.stopCh:
				s.logger.Info("Rotation scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Rotation scheduler context cancelled")
				return
			}
		}
	}()
}

// Stop ends the polling loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil {
		s.logger.Error("Scheduled run failed", zap.Error(err))
	}
}

// Tick runs a batch when NextRunAt has passed. It returns a nil summary when nothing ran.
func (s *Scheduler) Tick(ctx context.Context) (*domain.BatchSummary, error) {
	summary, err := s.run(ctx, false)
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Debug("Tick skipped, run in progress")
		return nil, nil
	}
	return summary, err
}

// ForceRun runs a batch now regardless of NextRunAt, and still reschedules afterwards.
func (s *Scheduler) ForceRun(ctx context.Context) (*domain.BatchSummary, error) {
	return s.run(ctx, true)
}

// State returns the current run record.
func (s *Scheduler) State() domain.SchedulerState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return copyState(s.state)
}

// Load refreshes the in-memory run record from the store.
func (s *Scheduler) Load(ctx context.Context) error {
	if s.states == nil {
		return nil
	}
	loaded, err := s.states.Load(ctx)
	if err != nil {
		return fmt.Errorf("load scheduler state: %w", err)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if loaded != nil {
		s.state = copyState(*loaded)
	}
	return nil
}

func (s *Scheduler) recoverStaleLock(ctx context.Context) {
	if err := s.Load(ctx); err != nil {
		s.logger.Warn("Failed to load scheduler state", zap.Error(err))
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.state.IsRunning {
		return
	}
	s.logger.Warn("Clearing stale scheduler run lock",
		zap.String("run_id", s.state.RunningRunID),
		zap.String("last_run_id", s.state.LastRunID))
	s.state.Unlock()
	_ = s.persistLocked(ctx)
}

// releaseStaleLockLocked clears a persisted lock that no live run holds: one left by a
// run of this process whose release save failed, or one older than RunInterval.
func (s *Scheduler) releaseStaleLockLocked(ctx context.Context, now time.Time, loaded bool) {
	if s.unreleased != nil && loaded &&
		(!s.state.IsRunning || s.state.RunningRunID != s.unreleased.LastRunID) {
		// the store moved on since our failed release
		s.unreleased = nil
	}
	if !s.state.IsRunning {
		return
	}

	switch {
	case s.unreleased != nil && s.state.RunningRunID == s.unreleased.LastRunID:
		s.logger.Warn("Retrying scheduler run lock release",
			zap.String("run_id", s.unreleased.LastRunID))
		s.state = copyState(*s.unreleased)
		if err := s.persistLocked(ctx); err == nil {
			s.unreleased = nil
		}
	case s.state.LockExpired(now, s.cfg.RunInterval):
		s.logger.Warn("Clearing expired scheduler run lock",
			zap.String("run_id", s.state.RunningRunID),
			zap.Timep("locked_at", s.state.LockedAt))
		s.state.Unlock()
		_ = s.persistLocked(ctx)
	}
}

func (s *Scheduler) run(ctx context.Context, force bool) (*domain.BatchSummary, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	// another process may have run since we last looked
	loaded := true
	if err := s.Load(ctx); err != nil {
		loaded = false
		s.logger.Warn("Using in-memory scheduler state", zap.Error(err))
	}

	startedAt := s.clock.Now()
	runID := uuid.NewString()
	trigger := "tick"
	if force {
		trigger = "force"
	}

	s.stateMu.Lock()
	s.releaseStaleLockLocked(ctx, startedAt, loaded)
	if s.state.IsRunning {
		s.stateMu.Unlock()
		return nil, ErrRunInProgress
	}
	if !force && !s.state.ShouldRun(startedAt) {
		s.stateMu.Unlock()
		return nil, nil
	}
	s.state.Lock(runID, startedAt)
	_ = s.persistLocked(ctx)
	s.stateMu.Unlock()

	logger := s.logger.With(zap.String("run_id", runID), zap.String("trigger", trigger))
	logger.Info("Scheduler run started")
	metrics.SchedulerRuns.WithLabelValues(trigger).Inc()

	summary, runErrs, runErr := s.scrapeDue(ctx, startedAt, logger)

	finishedAt := s.clock.Now()
	next := finishedAt.Add(s.cfg.RunInterval)

	s.stateMu.Lock()
	s.state.RecordRun(runID, startedAt, next, summary, runErrs)
	// the lock must be released even when shutting down
	if err := s.persistLocked(context.WithoutCancel(ctx)); err != nil {
		released := copyState(s.state)
		s.unreleased = &released
	} else {
		s.unreleased = nil
	}
	s.stateMu.Unlock()

	metrics.SchedulerLastRun.Set(float64(finishedAt.Unix()))

	fields := []zap.Field{zap.Time("next_run_at", next)}
	if summary != nil {
		fields = append(fields,
			zap.Int("channels", summary.ChannelsAttempted),
			zap.Int("outliers", summary.TotalOutliers),
			zap.Int("quota_used", summary.TotalQuotaUsed),
			zap.Int("errors", summary.TotalErrors))
	}
	logger.Info("Scheduler run finished", fields...)

	return summary, runErr
}

func (s *Scheduler) scrapeDue(ctx context.Context, now time.Time, logger *zap.Logger) (*domain.BatchSummary, []string, error) {
	channels, err := s.channels.ListTrackedChannels(ctx, true)
	if err != nil {
		err = fmt.Errorf("list tracked channels: %w", err)
		return nil, []string{err.Error()}, err
	}

	due := queue.DueChannels(channels, s.cfg.BatchSize, now)
	if len(due) == 0 {
		logger.Info("No channels due", zap.Int("active_channels", len(channels)))
		return &domain.BatchSummary{Results: []domain.ScrapeResult{}}, nil, nil
	}

	logger.Info("Scraping due channels",
		zap.Int("due", len(due)),
		zap.Int("active_channels", len(channels)))

	summary := s.runner.ScrapeChannels(ctx, due, s.cfg.Options)
	return &summary, nil, nil
}

func (s *Scheduler) persistLocked(ctx context.Context) error {
	if s.states == nil {
		return nil
	}
	if err := s.states.Save(ctx, copyState(s.state)); err != nil {
		s.logger.Error("Failed to persist scheduler state", zap.Error(err))
		return err
	}
	return nil
}

func copyState(state domain.SchedulerState) domain.SchedulerState {
	state.Errors = append([]string{}, state.Errors...)
	if state.LockedAt != nil {
		lockedAt := *state.LockedAt
		state.LockedAt = &lockedAt
	}
	return state
}
