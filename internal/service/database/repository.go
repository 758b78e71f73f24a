package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/pkg/errors"
)

const (
	tableChannels  = "tracked_channels"
	tableSnapshots = "video_snapshots"
	tableOutliers  = "outliers"
)

// Repository is the Postgres-backed store for channels, snapshots and outliers.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRepository(postgres *PostgresService, logger *zap.Logger) *Repository {
	return &Repository{
		db:     postgres.GetDB(),
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const channelColumns = `channel_id, handle, title, avg_views, subscriber_count, total_videos,
	refresh_interval_seconds, priority, last_scraped_at, active, created_at`

func scanChannel(row rowScanner) (*domain.TrackedChannel, error) {
	var (
		ch          domain.TrackedChannel
		subscribers int64
		videos      int64
		intervalSec int64
		lastScraped sql.NullTime
	)
	if err := row.Scan(&ch.ChannelID, &ch.Handle, &ch.Title, &ch.AvgViews, &subscribers, &videos,
		&intervalSec, &ch.Priority, &lastScraped, &ch.Active, &ch.CreatedAt); err != nil {
		return nil, err
	}
	ch.SubscriberCount = fromInt64(subscribers)
	ch.TotalVideos = fromInt64(videos)
	ch.RefreshInterval = time.Duration(intervalSec) * time.Second
	ch.LastScrapedAt = timePtr(lastScraped)
	return &ch, nil
}

// ListTrackedChannels returns channels ordered by channel id. activeOnly drops paused channels.
func (r *Repository) ListTrackedChannels(ctx context.Context, activeOnly bool) ([]*domain.TrackedChannel, error) {
	query := `SELECT ` + channelColumns + ` FROM tracked_channels`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY channel_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list channels", "list", tableChannels, err)
	}
	defer rows.Close()

	channels := make([]*domain.TrackedChannel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, errors.NewPersistenceError("failed to scan channel", "list", tableChannels, err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("failed to iterate channels", "list", tableChannels, err)
	}
	return channels, nil
}

// GetTrackedChannel returns nil, nil when the channel is not tracked.
func (r *Repository) GetTrackedChannel(ctx context.Context, channelID string) (*domain.TrackedChannel, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM tracked_channels WHERE channel_id = $1`, channelID)
	ch, err := scanChannel(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistenceError("failed to get channel", "get", tableChannels, err)
	}
	return ch, nil
}

// UpsertTrackedChannel registers or reconfigures a channel. Scrape-derived fields
// (statistics, last scrape) are left alone on update; avg_views only when a positive seed value is given.
func (r *Repository) UpsertTrackedChannel(ctx context.Context, ch *domain.TrackedChannel) error {
	if ch == nil || ch.ChannelID == "" {
		return errors.NewValidationError("channel id is required", "channel_id", "")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tracked_channels (channel_id, handle, title, avg_views, refresh_interval_seconds, priority, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (channel_id) DO UPDATE SET
			handle = EXCLUDED.handle,
			title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE tracked_channels.title END,
			avg_views = CASE WHEN EXCLUDED.avg_views > 0 THEN EXCLUDED.avg_views ELSE tracked_channels.avg_views END,
			refresh_interval_seconds = EXCLUDED.refresh_interval_seconds,
			priority = EXCLUDED.priority,
			active = EXCLUDED.active
	`, ch.ChannelID, ch.Handle, ch.Title, ch.AvgViews,
		int64(ch.RefreshInterval/time.Second), domain.ClampPriority(ch.Priority), ch.Active)
	if err != nil {
		return errors.NewPersistenceError("failed to upsert channel", "upsert", tableChannels, err)
	}
	return nil
}

func (r *Repository) UpdateChannelBaseline(ctx context.Context, channelID string, baseline domain.ChannelBaseline) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tracked_channels
		SET avg_views = $2, subscriber_count = $3, total_videos = $4
		WHERE channel_id = $1
	`, channelID, baseline.AvgViews, toInt64(baseline.SubscriberCount), toInt64(baseline.TotalVideos))
	if err != nil {
		return errors.NewPersistenceError("failed to update baseline", "update_baseline", tableChannels, err)
	}
	return nil
}

func (r *Repository) MarkChannelScraped(ctx context.Context, channelID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracked_channels SET last_scraped_at = $2 WHERE channel_id = $1`, channelID, at)
	if err != nil {
		return errors.NewPersistenceError("failed to mark channel scraped", "mark_scraped", tableChannels, err)
	}
	return nil
}

const snapshotColumns = `video_id, channel_id, title, thumbnail_url, views, likes, comments, published_at,
	snapshot_at, engagement_ratio, views_per_hour, velocity_score, multiplier, outlier_score`

func scanSnapshot(row rowScanner) (*domain.VideoSnapshot, error) {
	var (
		s                      domain.VideoSnapshot
		views, likes, comments int64
		published              sql.NullTime
	)
	if err := row.Scan(&s.VideoID, &s.ChannelID, &s.Title, &s.ThumbnailURL, &views, &likes, &comments,
		&published, &s.SnapshotAt, &s.EngagementRatio, &s.ViewsPerHour, &s.VelocityScore,
		&s.Multiplier, &s.OutlierScore); err != nil {
		return nil, err
	}
	s.Views = fromInt64(views)
	s.Likes = fromInt64(likes)
	s.Comments = fromInt64(comments)
	if published.Valid {
		s.PublishedAt = published.Time
	}
	return &s, nil
}

// GetLatestSnapshot returns the newest snapshot of videoID, or nil, nil when none exists.
func (r *Repository) GetLatestSnapshot(ctx context.Context, videoID string) (*domain.VideoSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM video_snapshots
		WHERE video_id = $1
		ORDER BY snapshot_at DESC
		LIMIT 1
	`, videoID)
	s, err := scanSnapshot(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistenceError("failed to get latest snapshot", "get_latest", tableSnapshots, err)
	}
	return s, nil
}

// ListSnapshots returns up to limit snapshots of videoID, oldest first.
func (r *Repository) ListSnapshots(ctx context.Context, videoID string, limit int) ([]domain.VideoSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+snapshotColumns+`
			FROM video_snapshots
			WHERE video_id = $1
			ORDER BY snapshot_at DESC
			LIMIT $2
		) recent
		ORDER BY snapshot_at ASC
	`, videoID, limit)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list snapshots", "list", tableSnapshots, err)
	}
	defer rows.Close()

	out := make([]domain.VideoSnapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.NewPersistenceError("failed to scan snapshot", "list", tableSnapshots, err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("failed to iterate snapshots", "list", tableSnapshots, err)
	}
	return out, nil
}

const insertSnapshot = `
	INSERT INTO video_snapshots (` + snapshotColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (video_id, channel_id, snapshot_at) DO NOTHING`

func snapshotArgs(s domain.VideoSnapshot) []any {
	return []any{
		s.VideoID, s.ChannelID, s.Title, s.ThumbnailURL,
		toInt64(s.Views), toInt64(s.Likes), toInt64(s.Comments),
		nullTime(s.PublishedAt), s.SnapshotAt,
		finite(s.EngagementRatio), finite(s.ViewsPerHour), finite(s.VelocityScore), finite(s.Multiplier),
		s.OutlierScore,
	}
}

// AppendSnapshotsBulk inserts all snapshots in one transaction. Duplicates of an
// existing (video, channel, time) key are skipped, so a retried batch is harmless.
func (r *Repository) AppendSnapshotsBulk(ctx context.Context, snapshots []domain.VideoSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewPersistenceError("failed to begin snapshot batch", "append_bulk", tableSnapshots, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSnapshot)
	if err != nil {
		return errors.NewPersistenceError("failed to prepare snapshot insert", "append_bulk", tableSnapshots, err)
	}
	defer stmt.Close()

	inserted := 0
	for _, s := range snapshots {
		res, err := stmt.ExecContext(ctx, snapshotArgs(s)...)
		if err != nil {
			return errors.NewPersistenceError(
				fmt.Sprintf("failed to insert snapshot of %s", s.VideoID), "append_bulk", tableSnapshots, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewPersistenceError("failed to commit snapshot batch", "append_bulk", tableSnapshots, err)
	}

	r.logger.Debug("Snapshots appended",
		zap.Int("requested", len(snapshots)),
		zap.Int("inserted", inserted))
	return nil
}

const outlierColumns = `video_id, channel_id, title, thumbnail_url, status, is_new, priority, notes,
	views, first_seen_views, multiplier, outlier_score, velocity_score, engagement_ratio, reasons,
	published_at, detected_at, last_updated_at`

func scanOutlier(row rowScanner) (*domain.Outlier, error) {
	var (
		o          domain.Outlier
		status     string
		views      int64
		firstViews int64
		reasons    pq.StringArray
		published  sql.NullTime
	)
	if err := row.Scan(&o.VideoID, &o.ChannelID, &o.Title, &o.ThumbnailURL, &status, &o.IsNew, &o.Priority,
		&o.Notes, &views, &firstViews, &o.Multiplier, &o.OutlierScore, &o.VelocityScore, &o.EngagementRatio,
		&reasons, &published, &o.DetectedAt, &o.LastUpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OutlierStatus(status)
	o.Views = fromInt64(views)
	o.FirstSeenViews = fromInt64(firstViews)
	o.Reasons = []string(reasons)
	if o.Reasons == nil {
		o.Reasons = []string{}
	}
	if published.Valid {
		o.PublishedAt = published.Time
	}
	return &o, nil
}

// outlierRefreshColumns are overwritten when a video is detected again. The other
// columns keep their first-write value, matching domain.MergeOutlier.
var outlierRefreshColumns = []string{
	"channel_id", "title", "thumbnail_url", "views", "multiplier", "outlier_score",
	"velocity_score", "engagement_ratio", "reasons", "published_at",
}

var upsertOutlier = buildUpsertOutlier()

func buildUpsertOutlier() string {
	sets := make([]string, 0, len(outlierRefreshColumns)+1)
	for _, col := range outlierRefreshColumns {
		sets = append(sets, col+" = EXCLUDED."+col)
	}
	sets = append(sets, "last_updated_at = GREATEST(outliers.last_updated_at, EXCLUDED.last_updated_at)")

	return `INSERT INTO outliers (` + outlierColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (video_id) DO UPDATE SET
			` + strings.Join(sets, ",\n\t\t\t")
}

// UpsertOutlier creates the outlier record or refreshes its metrics. Detection
// identity (detected_at, first_seen_views) and operator fields (status, notes,
// priority, is_new) survive re-detection.
func (r *Repository) UpsertOutlier(ctx context.Context, o *domain.Outlier) error {
	if o == nil {
		return nil
	}
	status := o.Status
	if !status.IsValid() {
		status = domain.OutlierStatusActive
	}
	reasons := o.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	_, err := r.db.ExecContext(ctx, upsertOutlier,
		o.VideoID, o.ChannelID, o.Title, o.ThumbnailURL, string(status), o.IsNew, o.Priority, o.Notes,
		toInt64(o.Views), toInt64(o.FirstSeenViews), finite(o.Multiplier), o.OutlierScore,
		finite(o.VelocityScore), finite(o.EngagementRatio), pq.Array(reasons),
		nullTime(o.PublishedAt), o.DetectedAt, o.LastUpdatedAt)
	if err != nil {
		return errors.NewPersistenceError(
			fmt.Sprintf("failed to upsert outlier %s", o.VideoID), "upsert", tableOutliers, err)
	}
	return nil
}

// GetOutlier returns nil, nil when videoID was never flagged.
func (r *Repository) GetOutlier(ctx context.Context, videoID string) (*domain.Outlier, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+outlierColumns+` FROM outliers WHERE video_id = $1`, videoID)
	o, err := scanOutlier(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistenceError("failed to get outlier", "get", tableOutliers, err)
	}
	return o, nil
}

// ListOutliers returns the strongest outliers first. An empty status lists every status.
func (r *Repository) ListOutliers(ctx context.Context, status domain.OutlierStatus, limit int) ([]*domain.Outlier, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + outlierColumns + ` FROM outliers`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY outlier_score DESC, multiplier DESC, last_updated_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list outliers", "list", tableOutliers, err)
	}
	defer rows.Close()

	out := make([]*domain.Outlier, 0)
	for rows.Next() {
		o, err := scanOutlier(rows)
		if err != nil {
			return nil, errors.NewPersistenceError("failed to scan outlier", "list", tableOutliers, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("failed to iterate outliers", "list", tableOutliers, err)
	}
	return out, nil
}

// SetOutlierStatus records an operator triage decision and clears the new flag.
func (r *Repository) SetOutlierStatus(ctx context.Context, videoID string, status domain.OutlierStatus, notes string) error {
	if !status.IsValid() {
		return errors.NewValidationError("invalid outlier status", "status", string(status))
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE outliers
		SET status = $2, is_new = FALSE, notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END
		WHERE video_id = $1
	`, videoID, string(status), notes)
	if err != nil {
		return errors.NewPersistenceError("failed to update outlier status", "set_status", tableOutliers, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("outlier " + videoID)
	}
	return nil
}

// BIGINT columns hold counters that never realistically exceed int64.
func toInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func fromInt64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// finite keeps NaN and Inf out of the metric columns.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
