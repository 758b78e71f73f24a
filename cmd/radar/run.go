package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rotation scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		container, err := buildContainer(ctx)
		if err != nil {
			return err
		}
		defer container.Close()

		sched, err := container.NewScheduler(ctx)
		if err != nil {
			return err
		}

		logger.Info("Outlier radar starting...",
			zap.String("version", version),
			zap.String("log_level", cfg.Logging.Level),
			zap.Int("quota_limit", cfg.Quota.DailyLimit),
		)

		errCh := make(chan error, 1)
		var metricsSrv *http.Server
		if cfg.Metrics.Addr != "" {
			metricsSrv = newMetricsServer(cfg.Metrics.Addr)
			go func() {
				logger.Info("Metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("metrics server: %w", err)
				}
			}()
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		sched.Start(ctx)
		logger.Info("Scheduler started, waiting for signals...")

		var runErr error
		select {
		case sig := <-sigCh:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case runErr = <-errCh:
			logger.Error("Runtime error", zap.Error(runErr))
		}

		logger.Info("Shutting down gracefully...")
		cancel()
		// an in-flight channel refresh finishes before Stop returns
		sched.Stop()

		if metricsSrv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error during metrics shutdown", zap.Error(err))
			}
		}

		logger.Info("Shutdown complete")
		return runErr
	},
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
