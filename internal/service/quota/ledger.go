package quota

import (
	"context"
	"sync"
	"time"

	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/metrics"
	"github.com/kapu/outlier-radar-go/internal/util"
	"github.com/kapu/outlier-radar-go/pkg/errors"
	"go.uber.org/zap"
)

// Store persists the ledger across restarts. Load returns (nil, nil) when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*domain.QuotaLedger, error)
	Save(ctx context.Context, ledger domain.QuotaLedger) error
}

// CostTable is the static per-operation price list in quota units.
type CostTable map[string]int

func DefaultCostTable() CostTable {
	return CostTable{
		domain.OperationChannelStats: constants.QuotaDefaults.ChannelStatsCost,
		domain.OperationVideoList:    constants.QuotaDefaults.VideoListCost,
	}
}

// Cost returns the price of operation; unknown operations cost one unit.
func (c CostTable) Cost(operation string) int {
	if cost, ok := c[operation]; ok {
		return cost
	}
	return 1
}

type Config struct {
	DailyLimit int
	Costs      CostTable
	Location   *time.Location // calendar-day boundary, nil = local time
}

// Ledger guards a domain.QuotaLedger for concurrent callers and persists every change.
// Day rollover is applied lazily at the start of every read or write.
type Ledger struct {
	mu        sync.Mutex
	state     domain.QuotaLedger
	store     Store
	clock     util.Clock
	loc       *time.Location
	costs     CostTable
	logger    *zap.Logger
	lowWarned bool
}

// NewLedger restores the persisted ledger (if any) and applies the configured limit.
// A store that cannot be read is logged and replaced by a fresh ledger for today.
func NewLedger(ctx context.Context, cfg Config, store Store, clock util.Clock, logger *zap.Logger) *Ledger {
	logger = util.OrNop(logger)
	if clock == nil {
		clock = util.SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Costs == nil {
		cfg.Costs = DefaultCostTable()
	}

	today := domain.QuotaDay(clock.Now(), cfg.Location)
	state := domain.NewQuotaLedger(cfg.DailyLimit, today)

	if store != nil {
		loaded, err := store.Load(ctx)
		if err != nil {
			logger.Warn("Failed to load quota ledger, starting fresh", zap.Error(err))
		} else if loaded != nil {
			state = loaded.Clone()
		}
	}
	state.Limit = cfg.DailyLimit

	l := &Ledger{
		state:  state,
		store:  store,
		clock:  clock,
		loc:    cfg.Location,
		costs:  cfg.Costs,
		logger: logger,
	}

	l.mu.Lock()
	l.rolloverLocked(ctx)
	metrics.RecordQuota(l.state.Used, l.state.Remaining())
	l.mu.Unlock()

	logger.Info("Quota ledger initialized",
		zap.String("date", l.state.Date),
		zap.Int("used", l.state.Used),
		zap.Int("limit", l.state.Limit),
		zap.Time("reset_at", l.ResetAt()))

	return l
}

// CostOf returns the static price of operation.
func (l *Ledger) CostOf(operation string) int {
	return l.costs.Cost(operation)
}

func (l *Ledger) Remaining(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(ctx)
	return l.state.Remaining()
}

func (l *Ledger) CanAfford(ctx context.Context, cost int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(ctx)
	return l.state.CanAfford(cost)
}

// Debit records cost for operation. It never blocks or clamps; callers gate with CanAfford.
func (l *Ledger) Debit(ctx context.Context, operation string, cost int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(ctx)
	l.debitLocked(ctx, operation, cost)
}

// Check returns a QuotaExhaustedError when operation cannot be afforded.
func (l *Ledger) Check(ctx context.Context, operation string) error {
	cost := l.CostOf(operation)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(ctx)
	if !l.state.CanAfford(cost) {
		return errors.NewQuotaExhaustedError(operation, l.state.Used, l.state.Limit, cost, l.ResetAt())
	}
	return nil
}

// Snapshot returns a copy of the current ledger after applying rollover.
func (l *Ledger) Snapshot(ctx context.Context) domain.QuotaLedger {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rolloverLocked(ctx)
	return l.state.Clone()
}

// ResetAt is the next calendar-day boundary in the ledger's location.
func (l *Ledger) ResetAt() time.Time {
	return util.NextMidnight(l.clock.Now(), l.loc)
}

func (l *Ledger) debitLocked(ctx context.Context, operation string, cost int) {
	l.state.Debit(l.clock.Now(), operation, cost)

	remaining := l.state.Remaining()
	metrics.QuotaDebits.WithLabelValues(operation).Add(float64(cost))
	metrics.RecordQuota(l.state.Used, remaining)

	l.logger.Debug("Quota consumed",
		zap.String("operation", operation),
		zap.Int("cost", cost),
		zap.Int("used", l.state.Used),
		zap.Int("remaining", remaining),
		zap.Float64("usage_percent", util.SafeDiv(float64(l.state.Used), float64(l.state.Limit))*100))

	if !l.lowWarned && float64(remaining) < float64(l.state.Limit)*constants.QuotaDefaults.LowWatermarkRatio {
		l.lowWarned = true
		l.logger.Warn("Quota running low",
			zap.Int("remaining", remaining),
			zap.Time("reset_at", l.ResetAt()))
	}

	l.persistLocked(ctx)
}

func (l *Ledger) rolloverLocked(ctx context.Context) {
	today := domain.QuotaDay(l.clock.Now(), l.loc)
	previous := l.state.Date
	previousUsed := l.state.Used
	if !l.state.Rollover(today) {
		return
	}

	l.lowWarned = false
	metrics.RecordQuota(0, l.state.Remaining())
	l.logger.Info("Quota ledger rolled over",
		zap.String("previous_date", previous),
		zap.Int("previous_used", previousUsed),
		zap.String("date", today))

	l.persistLocked(ctx)
}

// persistLocked saves the ledger; failures are logged because bookkeeping must not block scraping.
func (l *Ledger) persistLocked(ctx context.Context) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, l.state.Clone()); err != nil {
		l.logger.Error("Failed to persist quota ledger", zap.Error(err))
	}
}
