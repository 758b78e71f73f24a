package queue

import (
	"sort"
	"time"

	"github.com/kapu/outlier-radar-go/internal/domain"
)

// Less orders due channels: higher priority first, then the stalest.
// Never-scraped channels sort ahead of scraped ones within a priority tier.
func Less(a, b *domain.TrackedChannel) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	switch {
	case a.LastScrapedAt == nil && b.LastScrapedAt == nil:
		return false
	case a.LastScrapedAt == nil:
		return true
	case b.LastScrapedAt == nil:
		return false
	default:
		return a.LastScrapedAt.Before(*b.LastScrapedAt)
	}
}

// DueChannels returns at most limit active channels that are due at now, in scrape order.
// The input slice is not modified.
func DueChannels(channels []*domain.TrackedChannel, limit int, now time.Time) []*domain.TrackedChannel {
	if limit <= 0 {
		return []*domain.TrackedChannel{}
	}

	due := make([]*domain.TrackedChannel, 0, len(channels))
	for _, ch := range channels {
		if ch != nil && ch.IsDue(now) {
			due = append(due, ch)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return Less(due[i], due[j])
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due
}

// NextDueAt returns the earliest moment after now at which an active channel becomes due,
// now itself if something is already due, or the zero time when nothing is active.
func NextDueAt(channels []*domain.TrackedChannel, now time.Time) time.Time {
	var next time.Time
	for _, ch := range channels {
		if ch == nil || !ch.Active {
			continue
		}
		if ch.IsDue(now) {
			return now
		}
		at := ch.DueAt()
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next
}
