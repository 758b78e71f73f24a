package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kapu/outlier-radar-go/internal/constants"
	"github.com/kapu/outlier-radar-go/internal/domain"
	"github.com/kapu/outlier-radar-go/internal/seed"
	"github.com/kapu/outlier-radar-go/internal/service/database"
	"github.com/kapu/outlier-radar-go/internal/service/queue"
	"github.com/kapu/outlier-radar-go/internal/service/scoring"
	"github.com/kapu/outlier-radar-go/internal/service/youtube"
	"github.com/kapu/outlier-radar-go/internal/util"
)

var (
	forceScrape   bool
	outlierStatus string
	outlierLimit  int
	triageNotes   string
	snapshotLimit int
)

func init() {
	scrapeCmd.Flags().BoolVarP(&forceScrape, "force", "f", false, "Run even if the next scheduled run is in the future")

	outliersCmd.Flags().StringVarP(&outlierStatus, "status", "s", string(domain.OutlierStatusActive), "Filter by status (empty for all)")
	outliersCmd.Flags().IntVarP(&outlierLimit, "limit", "n", 20, "Maximum rows")
	triageCmd.Flags().StringVar(&triageNotes, "notes", "", "Operator notes")
	outliersCmd.AddCommand(triageCmd)

	velocityCmd.Flags().IntVarP(&snapshotLimit, "snapshots", "n", 100, "Most recent snapshots to analyse")
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scheduler pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		// interrupting stops the batch between channels and still releases the run lock
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		container, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		sched, err := container.NewScheduler(ctx)
		if err != nil {
			return err
		}

		var summary *domain.BatchSummary
		if forceScrape {
			summary, err = sched.ForceRun(ctx)
		} else {
			summary, err = sched.Tick(ctx)
		}
		if err != nil {
			return err
		}
		if summary == nil {
			state := sched.State()
			if state.IsRunning {
				fmt.Println("Another run is in progress; use --force after it finishes")
				return nil
			}
			fmt.Printf("Not due yet; next run at %s (use --force to run now)\n", formatTimePtr(state.NextRunAt))
			return nil
		}

		printSummary(summary)
		return nil
	},
}

func printSummary(summary *domain.BatchSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tSTATUS\tVIDEOS\tSNAPSHOTS\tOUTLIERS\tQUOTA\tERRORS")
	for _, r := range summary.Results {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%d\t%d\n",
			r.ChannelID, r.Status, r.VideosProcessed, r.VideosFound,
			r.SnapshotsStored, r.OutliersFound, r.QuotaUsed, len(r.Errors))
	}
	w.Flush()

	fmt.Printf("\n%d channels, %d videos, %d outliers, %d quota units, %d errors\n",
		summary.ChannelsAttempted, summary.TotalVideos, summary.TotalOutliers,
		summary.TotalQuotaUsed, summary.TotalErrors)
	if summary.StoppedEarly {
		fmt.Printf("Stopped early: %s\n", summary.StopReason)
	}
	for _, e := range summary.AllErrors() {
		fmt.Println("  -", e)
	}
}

var seedCmd = &cobra.Command{
	Use:   "seed <channels.yaml>",
	Short: "Register or update tracked channels from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channels, err := seed.Load(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		container, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		for _, ch := range channels {
			if err := container.Repository.UpsertTrackedChannel(ctx, ch); err != nil {
				return fmt.Errorf("seeding %s: %w", ch.ChannelID, err)
			}
			logger.Debug("Channel seeded",
				zap.String("channel", ch.ChannelID),
				zap.Int("priority", ch.Priority),
				zap.Duration("refresh_interval", ch.RefreshInterval))
		}
		fmt.Printf("Seeded %d channels from %s\n", len(channels), args[0])
		return nil
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's quota usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		container, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		ledger := container.Quota.Snapshot(ctx)
		fmt.Printf("Date:      %s\n", ledger.Date)
		fmt.Printf("Used:      %d / %d\n", ledger.Used, ledger.Limit)
		fmt.Printf("Remaining: %d\n", ledger.Remaining())
		fmt.Printf("Resets at: %s\n", container.Quota.ResetAt().Format(time.RFC3339))

		if n := len(ledger.Operations); n > 0 {
			fmt.Println("\nRecent operations:")
			start := util.Max(0, n-10)
			for _, op := range ledger.Operations[start:] {
				fmt.Printf("  %s  %-14s %d\n", op.Timestamp.Format("15:04:05"), op.Operation, op.Cost)
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler state and the channel queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		container, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		state, err := container.States.Load(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			state = &domain.SchedulerState{}
		}

		channels, err := container.Repository.ListTrackedChannels(ctx, false)
		if err != nil {
			return err
		}

		now := container.Clock.Now()
		active := 0
		for _, ch := range channels {
			if ch.Active {
				active++
			}
		}
		due := queue.DueChannels(channels, len(channels), now)

		fmt.Printf("Running:          %v\n", state.IsRunning)
		fmt.Printf("Last run:         %s (%s)\n", formatTimePtr(state.LastRunAt), orDash(state.LastRunID))
		fmt.Printf("Next run:         %s\n", formatTimePtr(state.NextRunAt))
		fmt.Printf("Last run totals:  %d channels, %d outliers, %d quota units, %d errors\n",
			state.ChannelsScraped, state.OutliersFound, state.QuotaUsed, len(state.Errors))
		fmt.Printf("Channels:         %d tracked, %d active, %d due\n", len(channels), active, len(due))
		if next := queue.NextDueAt(channels, now); !next.IsZero() {
			fmt.Printf("Next channel due: %s\n", next.Format(time.RFC3339))
		}
		fmt.Printf("Quota remaining:  %d\n", container.Quota.Remaining(ctx))
		return nil
	},
}

var velocityCmd = &cobra.Command{
	Use:   "velocity <video-id>",
	Short: "Show the view-velocity trend of a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		container, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		videoID := args[0]
		snapshots, err := container.Repository.ListSnapshots(ctx, videoID, snapshotLimit)
		if err != nil {
			return err
		}
		if len(snapshots) == 0 {
			return fmt.Errorf("no snapshots stored for %s", videoID)
		}

		avgViews := 0.0
		if ch, err := container.Repository.GetTrackedChannel(ctx, snapshots[0].ChannelID); err != nil {
			logger.Warn("Failed to load channel baseline", zap.Error(err))
		} else if ch != nil {
			avgViews = ch.AvgViews
		}

		printTrendReport(scoring.BuildTrendReport(videoID, snapshots, avgViews), avgViews)
		return nil
	},
}

func printTrendReport(report scoring.TrendReport, avgViews float64) {
	fmt.Printf("Video:          %s\n", report.VideoID)
	if report.Latest != nil {
		fmt.Printf("Title:          %s\n", util.TruncateString(report.Latest.Title, constants.StringLimits.VideoTitle))
		fmt.Printf("Views:          %d (as of %s)\n", report.Latest.Views, report.Latest.SnapshotAt.Format(time.RFC3339))
		fmt.Printf("Outlier score:  %d\n", report.Latest.OutlierScore)
	}
	fmt.Printf("Channel avg:    %.0f\n", avgViews)
	if report.Velocity == nil {
		fmt.Println("Velocity:       not enough snapshots")
		return
	}
	v := report.Velocity
	fmt.Printf("Velocity:       %.1f views/h now, %.1f avg, %.1f peak\n",
		util.RoundTo(v.CurrentVelocity, 1), util.RoundTo(v.AvgVelocity, 1), util.RoundTo(v.PeakVelocity, 1))
	fmt.Printf("Acceleration:   %.2f (%s)\n", util.RoundTo(v.Acceleration, 2), v.Trend)
	fmt.Printf("Samples:        %d between %s and %s\n", v.Samples, v.Since.Format(time.RFC3339), v.Until.Format(time.RFC3339))
	fmt.Printf("Velocity score: %.1f\n", util.RoundTo(report.VelocityScore, 1))
}

var outliersCmd = &cobra.Command{
	Use:   "outliers",
	Short: "List detected outliers, strongest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := domain.OutlierStatus(outlierStatus)
		if status != "" && !status.IsValid() {
			return fmt.Errorf("unknown status %q", outlierStatus)
		}

		ctx := cmd.Context()
		container, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		outliers, err := container.Repository.ListOutliers(ctx, status, outlierLimit)
		if err != nil {
			return err
		}
		if len(outliers) == 0 {
			fmt.Println("No outliers.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tMULT\tVIEWS\tSTATUS\tNEW\tVIDEO\tCHANNEL\tTITLE")
		for _, o := range outliers {
			fmt.Fprintf(w, "%d\t%.1fx\t%d\t%s\t%v\t%s\t%s\t%s\n",
				o.OutlierScore, o.Multiplier, o.Views, o.Status, o.IsNew, o.VideoID, o.ChannelID,
				util.TruncateString(o.Title, constants.StringLimits.VideoTitle))
		}
		return w.Flush()
	},
}

var triageCmd = &cobra.Command{
	Use:   "triage <video-id> <active|dismissed|analyzed|archived>",
	Short: "Set an outlier's review status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := domain.OutlierStatus(args[1])
		if !status.IsValid() {
			return fmt.Errorf("unknown status %q", args[1])
		}

		ctx := cmd.Context()
		container, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		if err := container.Repository.SetOutlierStatus(ctx, args[0], status, triageNotes); err != nil {
			return err
		}
		outlier, err := container.Repository.GetOutlier(ctx, args[0])
		if err != nil {
			return err
		}
		if outlier == nil {
			fmt.Printf("%s marked %s\n", args[0], status)
			return nil
		}
		fmt.Printf("%s marked %s: %s (score %d, %.1fx, %d views, first seen %s at %d views)\n",
			outlier.VideoID, outlier.Status,
			util.TruncateString(outlier.Title, constants.StringLimits.VideoTitle),
			outlier.OutlierScore, outlier.Multiplier, outlier.Views,
			outlier.DetectedAt.Format(time.RFC3339), outlier.FirstSeenViews)
		if outlier.Notes != "" {
			fmt.Printf("notes: %s\n", outlier.Notes)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		postgres, err := database.NewPostgresService(database.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		}, logger)
		if err != nil {
			return err
		}
		defer postgres.Close()

		ctx := cmd.Context()
		if err := postgres.Migrate(ctx); err != nil {
			return err
		}
		v, err := postgres.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Schema at version %d\n", v)
		return nil
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize YouTube access with OAuth and store the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.YouTube.CredentialsFile == "" {
			return fmt.Errorf("YOUTUBE_CREDENTIALS_FILE is not set")
		}
		oauth, err := youtube.NewOAuth(cfg.YouTube.CredentialsFile, cfg.YouTube.TokenFile, logger)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()
		return oauth.Authorize(ctx, os.Stdin, os.Stdout)
	},
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
