package domain

import "time"

const (
	// MaxQuotaOperations bounds the in-ledger operation log.
	MaxQuotaOperations = 100

	QuotaDateLayout = "2006-01-02"
)

// Quota operation tags. Costs per tag live in the quota cost table.
const (
	OperationChannelStats = "channel-stats"
	OperationVideoList    = "video-list"
)

type QuotaOperation struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Cost      int       `json:"cost"`
}

// QuotaLedger is the daily budget of upstream API units.
// All methods are plain value transitions; locking and persistence belong to the caller.
type QuotaLedger struct {
	Date       string           `json:"date"`
	Used       int              `json:"used"`
	Limit      int              `json:"limit"`
	Operations []QuotaOperation `json:"operations"`
}

func NewQuotaLedger(limit int, today string) QuotaLedger {
	return QuotaLedger{
		Date:       today,
		Limit:      limit,
		Operations: []QuotaOperation{},
	}
}

// QuotaDay formats t as the ledger's calendar day in loc.
func QuotaDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(QuotaDateLayout)
}

// Rollover resets usage when today differs from the stored date. Returns true on reset.
func (l *QuotaLedger) Rollover(today string) bool {
	if l.Date == today {
		return false
	}
	l.Date = today
	l.Used = 0
	l.Operations = []QuotaOperation{}
	return true
}

func (l QuotaLedger) Remaining() int {
	remaining := l.Limit - l.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (l QuotaLedger) CanAfford(cost int) bool {
	return l.Used+cost <= l.Limit
}

// Debit records cost against the ledger even when it overshoots Limit.
func (l *QuotaLedger) Debit(at time.Time, operation string, cost int) {
	if cost < 0 {
		cost = 0
	}
	l.Used += cost
	l.Operations = append(l.Operations, QuotaOperation{
		Timestamp: at,
		Operation: operation,
		Cost:      cost,
	})
	if over := len(l.Operations) - MaxQuotaOperations; over > 0 {
		trimmed := make([]QuotaOperation, MaxQuotaOperations)
		copy(trimmed, l.Operations[over:])
		l.Operations = trimmed
	}
}

// Clone returns a deep copy safe to hand outside a lock.
func (l QuotaLedger) Clone() QuotaLedger {
	ops := make([]QuotaOperation, len(l.Operations))
	copy(ops, l.Operations)
	l.Operations = ops
	return l
}
