package database

import (
	"database/sql"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/kapu/outlier-radar-go/internal/domain"
)

// fakeRow feeds fixed values into Scan in column order.
type fakeRow struct {
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		case *int64:
			*p = r.values[i].(int64)
		case *float64:
			*p = r.values[i].(float64)
		case *bool:
			*p = r.values[i].(bool)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *sql.NullTime:
			*p = r.values[i].(sql.NullTime)
		case *pq.StringArray:
			if r.values[i] != nil {
				*p = r.values[i].(pq.StringArray)
			}
		}
	}
	return nil
}

func TestMigrationsAreOrdered(t *testing.T) {
	if len(migrations) == 0 {
		t.Fatal("no migrations defined")
	}
	prev := 0
	for _, m := range migrations {
		if m.Version != prev+1 {
			t.Fatalf("migration %d follows %d, versions must be contiguous", m.Version, prev)
		}
		if m.Description == "" || m.Up == nil {
			t.Fatalf("migration %d is incomplete", m.Version)
		}
		prev = m.Version
	}
	if latestVersion() != prev {
		t.Fatalf("latestVersion = %d, want %d", latestVersion(), prev)
	}
}

func TestInsertSnapshotPlaceholdersMatchArgs(t *testing.T) {
	args := snapshotArgs(domain.VideoSnapshot{VideoID: "v1"})
	columns := strings.Count(snapshotColumns, ",") + 1
	if len(args) != columns {
		t.Fatalf("snapshotArgs has %d values for %d columns", len(args), columns)
	}
	if !strings.Contains(insertSnapshot, "$14)") || strings.Contains(insertSnapshot, "$15") {
		t.Fatalf("insertSnapshot placeholders do not match %d columns", columns)
	}
}

func TestSnapshotArgsSanitizeValues(t *testing.T) {
	args := snapshotArgs(domain.VideoSnapshot{
		Views:        math.MaxUint64,
		ViewsPerHour: math.Inf(1),
		Multiplier:   math.NaN(),
	})
	if args[4].(int64) != math.MaxInt64 {
		t.Fatalf("views = %v, want clamped to MaxInt64", args[4])
	}
	if published := args[7].(sql.NullTime); published.Valid {
		t.Fatalf("zero published time must be NULL")
	}
	if args[10].(float64) != 0 || args[12].(float64) != 0 {
		t.Fatalf("non-finite metrics must be stored as 0, got %v %v", args[10], args[12])
	}
}

func TestScanChannel(t *testing.T) {
	scraped := time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		"UC1", "@rival", "Rival", 1234.5, int64(9000), int64(-1),
		int64(21600), 7, sql.NullTime{Time: scraped, Valid: true}, true, created,
	}}

	ch, err := scanChannel(row)
	if err != nil {
		t.Fatalf("scanChannel: %v", err)
	}
	if ch.RefreshInterval != 6*time.Hour || ch.Priority != 7 || !ch.Active {
		t.Fatalf("unexpected channel: %+v", ch)
	}
	if ch.SubscriberCount != 9000 || ch.TotalVideos != 0 {
		t.Fatalf("counters = %d/%d", ch.SubscriberCount, ch.TotalVideos)
	}
	if ch.LastScrapedAt == nil || !ch.LastScrapedAt.Equal(scraped) {
		t.Fatalf("LastScrapedAt = %v", ch.LastScrapedAt)
	}
}

func TestScanChannelNeverScraped(t *testing.T) {
	row := fakeRow{values: []any{
		"UC2", "", "", 0.0, int64(0), int64(0),
		int64(3600), 5, sql.NullTime{}, true, time.Time{},
	}}
	ch, err := scanChannel(row)
	if err != nil {
		t.Fatalf("scanChannel: %v", err)
	}
	if ch.LastScrapedAt != nil {
		t.Fatalf("NULL last_scraped_at must scan to nil")
	}
}

func TestScanOutlierDefaultsReasons(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		"v1", "UC1", "Title", "thumb", "dismissed", false, 3, "seen",
		int64(50000), int64(20000), 12.5, 8, 4.2, 0.1, nil,
		sql.NullTime{}, now, now,
	}}

	o, err := scanOutlier(row)
	if err != nil {
		t.Fatalf("scanOutlier: %v", err)
	}
	if o.Status != domain.OutlierStatusDismissed || o.Views != 50000 || o.FirstSeenViews != 20000 {
		t.Fatalf("unexpected outlier: %+v", o)
	}
	if o.Reasons == nil || len(o.Reasons) != 0 {
		t.Fatalf("Reasons = %#v, want empty slice", o.Reasons)
	}
	if !o.PublishedAt.IsZero() {
		t.Fatalf("NULL published_at must scan to zero time")
	}
}

func TestPostgresDSNDefaultsSSLMode(t *testing.T) {
	dsn := PostgresConfig{Host: "db", Port: 5432, User: "radar", Database: "radar"}.DSN()
	if !strings.Contains(dsn, "sslmode=disable") || !strings.Contains(dsn, "host=db") {
		t.Fatalf("DSN = %q", dsn)
	}
}

func TestUpsertOutlierKeepsIdentityAndOperatorColumns(t *testing.T) {
	idx := strings.Index(upsertOutlier, "DO UPDATE SET")
	if idx < 0 {
		t.Fatalf("upsert must resolve conflicts with DO UPDATE SET:\n%s", upsertOutlier)
	}

	updated := map[string]bool{}
	for _, assignment := range strings.Split(upsertOutlier[idx+len("DO UPDATE SET"):], ",\n") {
		col := strings.TrimSpace(strings.SplitN(assignment, "=", 2)[0])
		updated[col] = true
	}

	for _, kept := range []string{"video_id", "detected_at", "first_seen_views", "status", "notes", "priority", "is_new"} {
		if updated[kept] {
			t.Errorf("%s must not be overwritten on re-detection", kept)
		}
	}
	for _, refreshed := range []string{"views", "multiplier", "outlier_score", "reasons", "last_updated_at"} {
		if !updated[refreshed] {
			t.Errorf("%s must be refreshed on re-detection", refreshed)
		}
	}
	if !strings.Contains(upsertOutlier, "GREATEST(outliers.last_updated_at, EXCLUDED.last_updated_at)") {
		t.Errorf("last_updated_at must never move backwards")
	}

	columns := strings.Count(outlierColumns, ",") + 1
	if !strings.Contains(upsertOutlier, "$18)") || strings.Contains(upsertOutlier, "$19") || columns != 18 {
		t.Fatalf("upsert placeholders do not match %d columns", columns)
	}
}
