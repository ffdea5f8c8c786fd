package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/audit"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/config"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/logging"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/notify"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/provider"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/reconciler"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/scheduler"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/store"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/usage"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const metricsPort = 9190

var rootCmd = &cobra.Command{
	Use:     "userd",
	Short:   "Rflix User Center - subscription governance engine",
	Long:    `userd runs the periodic subscription governance tasks: expiration reconciliation, usage-limit enforcement, notification draining, and audit cleanup`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("userd %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the configured periodic task set",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		status := map[string]interface{}{
			"tasks": []map[string]string{
				{"name": "expiration-reconciliation", "interval": cfg.ReconcileInterval.String()},
				{"name": "usage-sweep", "interval": cfg.UsageSweepInterval.String()},
				{"name": "notification-drain", "interval": cfg.DrainInterval.String()},
				{"name": "audit-cleanup", "interval": cfg.AuditCleanupInterval.String()},
			},
		}
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup messages
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "userd",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Re-initialize logging with configuration-driven settings
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "userd",
	})

	log.Info().Str("version", Version).Msg("Starting subscription governance engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startMetricsServer(ctx, fmt.Sprintf(":%d", metricsPort))

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open governance store")
	}
	defer st.Close()

	recorder, err := audit.NewSQLiteRecorder(audit.SQLiteRecorderConfig{
		DataDir:       cfg.DataDir,
		RetentionDays: cfg.AuditRetentionDays,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit recorder")
	}
	defer recorder.Close()

	providerClient := provider.NewGuardedClient(
		provider.NewHTTPClient(provider.HTTPClientConfig{
			BaseURL: cfg.ProviderURL,
			Token:   cfg.ProviderToken,
			Timeout: cfg.ProviderTimeout,
		}),
		recorder,
		provider.GuardedConfig{HealthTimeout: cfg.HealthTimeout},
	)

	var cacheBackend usage.CacheBackend = usage.NewMemoryBackend()
	if cfg.RedisAddr != "" {
		cacheBackend = usage.NewRedisBackend(cfg.RedisAddr)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Using redis-backed tier cache")
	}
	tierCache := usage.NewTierCache(cacheBackend, cfg.TierCacheTTL, st.GetTier)

	notifier := notify.NewScheduler(st, notify.LogDispatcher{}, recorder, notify.SchedulerConfig{
		DedupWindow: cfg.DedupWindow,
		DrainBatch:  cfg.DrainBatch,
	})

	governor := usage.NewGovernor(st, tierCache, providerClient, notifier, recorder, usage.Config{
		ThresholdPercent: cfg.ThresholdPercent,
	})
	if err := governor.Rehydrate(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to rehydrate usage restrictions")
	}

	rec := reconciler.New(st, providerClient, notifier, recorder, reconciler.Config{
		BatchSize:  cfg.BatchSize,
		BatchPause: cfg.BatchPause,
	})

	handle := scheduler.NewHandle()
	handle.Register(scheduler.Task{
		Name:     "expiration-reconciliation",
		Interval: cfg.ReconcileInterval,
		Run: func(ctx context.Context) {
			if _, err := rec.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Reconciliation run failed")
			}
		},
	})
	handle.Register(scheduler.Task{
		Name:     "usage-sweep",
		Interval: cfg.UsageSweepInterval,
		Run:      governor.Sweep,
	})
	handle.Register(scheduler.Task{
		Name:     "notification-drain",
		Interval: cfg.DrainInterval,
		Run: func(ctx context.Context) {
			notifier.SweepExpirationWarnings(ctx)
			notifier.Drain(ctx)
		},
	})
	handle.Register(scheduler.Task{
		Name:     "audit-cleanup",
		Interval: cfg.AuditCleanupInterval,
		Run: func(ctx context.Context) {
			if _, err := recorder.Cleanup(); err != nil {
				log.Warn().Err(err).Msg("Audit cleanup failed")
			}
		},
	})

	handle.Start(ctx)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("Shutting down")
	handle.Stop()
	cancel()
}

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
