package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ergon.app/erp/common/id"
	"ergon.app/erp/common/logger"
	"ergon.app/erp/common/otel"
	"ergon.app/erp/core/config"
	"ergon.app/erp/core/db"
	"ergon.app/erp/internal/queue"
	"ergon.app/erp/internal/service"
	"ergon.app/erp/internal/telemetry"
	"ergon.app/erp/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	otelTelemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "erp worker starting",
		"env", cfg.Env,
		"worker_id", cfg.Worker.ID,
		"concurrency", cfg.Worker.Count)

	// Distinct node id from the server keeps request numbers unique.
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected", "driver", database.Driver())

	if err := database.Migrate(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to migrate database", "error", err)
		os.Exit(1)
	}

	var (
		waker  service.Waker
		wakeCh <-chan struct{}
	)
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		redisWaker := queue.NewRedisWaker(redisClient, cfg.Redis.WakeChannel, slog.Default())
		defer redisWaker.Close()

		wakeCh, err = redisWaker.Subscribe(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to subscribe to wake-ups", "error", err)
			os.Exit(1)
		}
		waker = redisWaker
		slog.InfoContext(ctx, "redis connected", "channel", cfg.Redis.WakeChannel)
	} else {
		slog.InfoContext(ctx, "redis disabled, polling only", "poll_interval", cfg.Worker.PollInterval)
	}

	services := service.NewServices(service.NewTxRunner(database), service.Options{
		Scheduler:   cfg.Scheduler,
		Approval:    cfg.Approval,
		MaxPageSize: cfg.MaxPageSize,
		Waker:       waker,
	})

	registry := worker.NewRegistry()
	if err := worker.RegisterBuiltins(registry, services, worker.LogNotifier{}); err != nil {
		slog.ErrorContext(ctx, "failed to register handlers", "error", err)
		os.Exit(1)
	}

	if err := worker.EnsureSystemJobs(ctx, services.Jobs(), cfg); err != nil {
		slog.ErrorContext(ctx, "failed to seed system jobs", "error", err)
		os.Exit(1)
	}

	w := worker.New(services.Jobs(), registry, worker.Config{
		ID:             cfg.Worker.ID,
		Concurrency:    cfg.Worker.Count,
		PollInterval:   cfg.Worker.PollInterval,
		BatchSize:      cfg.Worker.BatchSize,
		LockStaleAfter: cfg.Scheduler.LockStaleAfter,
		DefaultTimeout: cfg.Scheduler.DefaultTimeout,
	}).WithWakeups(wakeCh)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.InfoContext(ctx, "metrics server starting", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "metrics server error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx)
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop waits for in-flight runs; cancelling the run context cuts them
	// short once the shutdown budget is spent.
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded, cancelling in-flight jobs")
		cancelRun()
		<-stopped
	}

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "metrics server shutdown error", "error", err)
	}

	if otelTelemetry != nil {
		if err := otelTelemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(context.Background(), "worker shutdown complete")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

const banner = `
 ___ ___ ___  __      _____  ___ _  _____ ___
| __| _ \ _ \ \ \    / / _ \| _ \ |/ / __| _ \
| _||   /  _/  \ \/\/ / (_) |   / ' <| _||   /
|___|_|_\_|     \_/\_/ \___/|_|_\_|\_\___|_|_\
`
