package cache

import (
	"context"
	"time"

	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
)

// JSONStore is the slice of CacheService the typed stores need.
type JSONStore interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// QuotaLedgerStore keeps the daily quota ledger under a single key.
type QuotaLedgerStore struct {
	cache JSONStore
	key   string
}

func NewQuotaLedgerStore(cache JSONStore) *QuotaLedgerStore {
	return &QuotaLedgerStore{cache: cache, key: constants.CacheKeys.QuotaLedger}
}

func (s *QuotaLedgerStore) Load(ctx context.Context) (*domain.QuotaLedger, error) {
	var ledger domain.QuotaLedger
	found, err := s.cache.Get(ctx, s.key, &ledger)
	if err != nil || !found {
		return nil, err
	}
	return &ledger, nil
}

func (s *QuotaLedgerStore) Save(ctx context.Context, ledger domain.QuotaLedger) error {
	return s.cache.Set(ctx, s.key, ledger, 0)
}

// SchedulerStateStore keeps the rotation scheduler's run record under a single key.
type SchedulerStateStore struct {
	cache JSONStore
	key   string
}

func NewSchedulerStateStore(cache JSONStore) *SchedulerStateStore {
	return &SchedulerStateStore{cache: cache, key: constants.CacheKeys.SchedulerState}
}

func (s *SchedulerStateStore) Load(ctx context.Context) (*domain.SchedulerState, error) {
	var state domain.SchedulerState
	found, err := s.cache.Get(ctx, s.key, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

func (s *SchedulerStateStore) Save(ctx context.Context, state domain.SchedulerState) error {
	return s.cache.Set(ctx, s.key, state, 0)
}
