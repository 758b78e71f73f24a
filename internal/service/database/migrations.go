package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Migration is a single schema step. Up must be idempotent DDL.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

func execStatements(statements ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "tracked channels, snapshots, outliers",
		Up: execStatements(`
CREATE TABLE IF NOT EXISTS tracked_channels (
    channel_id               TEXT PRIMARY KEY,
    handle                   TEXT NOT NULL DEFAULT '',
    title                    TEXT NOT NULL DEFAULT '',
    avg_views                DOUBLE PRECISION NOT NULL DEFAULT 0,
    subscriber_count         BIGINT NOT NULL DEFAULT 0,
    total_videos             BIGINT NOT NULL DEFAULT 0,
    refresh_interval_seconds INTEGER NOT NULL DEFAULT 21600,
    priority                 SMALLINT NOT NULL DEFAULT 5 CHECK (priority BETWEEN 1 AND 10),
    last_scraped_at          TIMESTAMPTZ,
    active                   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, `
CREATE TABLE IF NOT EXISTS video_snapshots (
    id               BIGSERIAL PRIMARY KEY,
    video_id         TEXT NOT NULL,
    channel_id       TEXT NOT NULL REFERENCES tracked_channels(channel_id) ON DELETE CASCADE,
    title            TEXT NOT NULL DEFAULT '',
    thumbnail_url    TEXT NOT NULL DEFAULT '',
    views            BIGINT NOT NULL DEFAULT 0,
    likes            BIGINT NOT NULL DEFAULT 0,
    comments         BIGINT NOT NULL DEFAULT 0,
    published_at     TIMESTAMPTZ,
    snapshot_at      TIMESTAMPTZ NOT NULL,
    engagement_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
    views_per_hour   DOUBLE PRECISION NOT NULL DEFAULT 0,
    velocity_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
    multiplier       DOUBLE PRECISION NOT NULL DEFAULT 0,
    outlier_score    SMALLINT NOT NULL DEFAULT 1,
    UNIQUE (video_id, channel_id, snapshot_at)
)`, `
CREATE INDEX IF NOT EXISTS idx_video_snapshots_video_time
    ON video_snapshots (video_id, snapshot_at DESC)`, `
CREATE TABLE IF NOT EXISTS outliers (
    video_id         TEXT PRIMARY KEY,
    channel_id       TEXT NOT NULL REFERENCES tracked_channels(channel_id) ON DELETE CASCADE,
    title            TEXT NOT NULL DEFAULT '',
    thumbnail_url    TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'active'
                     CHECK (status IN ('active', 'dismissed', 'analyzed', 'archived')),
    is_new           BOOLEAN NOT NULL DEFAULT TRUE,
    priority         INTEGER NOT NULL DEFAULT 0,
    notes            TEXT NOT NULL DEFAULT '',
    views            BIGINT NOT NULL DEFAULT 0,
    first_seen_views BIGINT NOT NULL DEFAULT 0,
    multiplier       DOUBLE PRECISION NOT NULL DEFAULT 0,
    outlier_score    SMALLINT NOT NULL DEFAULT 1,
    velocity_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
    engagement_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
    reasons          TEXT[] NOT NULL DEFAULT '{}',
    published_at     TIMESTAMPTZ,
    detected_at      TIMESTAMPTZ NOT NULL,
    last_updated_at  TIMESTAMPTZ NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS idx_outliers_status_score
    ON outliers (status, outlier_score DESC, last_updated_at DESC)`),
	},
	{
		Version:     2,
		Description: "due-queue index on tracked channels",
		Up: execStatements(`
CREATE INDEX IF NOT EXISTS idx_tracked_channels_due
    ON tracked_channels (active, priority DESC, last_scraped_at NULLS FIRST)`),
	},
}

func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}
	var version int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate applies every migration newer than the recorded version, each in its own transaction.
func migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	latest := latestVersion()
	if current >= latest {
		logger.Debug("Schema up to date", zap.Int("version", current))
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		logger.Info("Applying migration",
			zap.Int("version", m.Version),
			zap.String("description", m.Description))

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(ctx, tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
