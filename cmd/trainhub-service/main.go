// trainhub-service is the HTTP API server for managing training jobs.
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

	"trainhub/internal/api"
	"trainhub/internal/broadcast"
	"trainhub/internal/config"
	"trainhub/internal/dispatcher"
	"trainhub/internal/health"
	"trainhub/internal/job"
	"trainhub/internal/observability"
	"trainhub/internal/queue"
	"trainhub/internal/snapshot"
	"trainhub/internal/worker"
	"trainhub/internal/worker/dockerexec"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	logger := slog.Default()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Job table and callback dispatcher. Exhausted deliveries are
	// recorded on the job itself.
	store := job.NewStore()
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics, store.MarkCallbackExhausted)

	// Worker executor backend
	executor, err := newExecutor(svcCfg, logger)
	if err != nil {
		return err
	}

	// Live event broadcast with snapshot replay for late subscribers
	broadcaster := broadcast.New(broadcast.Config{}, func(jobID string) (job.Job, bool) {
		j, err := store.Get(jobID)
		return j, err == nil
	})

	manager := queue.New(queue.Config{MaxConcurrentJobs: svcCfg.MaxConcurrentJobs},
		store, executor, eventDispatcher, broadcaster, metrics)

	// Restore the job table from the last snapshot, then persist it
	// periodically. Persistence is optional.
	var snapshotter *snapshot.Snapshotter
	if svcCfg.SnapshotPath != "" {
		snapStore, err := snapshot.NewStore(svcCfg.SnapshotPath, logger)
		if err != nil {
			return fmt.Errorf("opening snapshot store: %w", err)
		}
		defer snapStore.Close()

		restored, err := snapStore.Load()
		if err != nil {
			slog.Warn("Failed to load snapshot, starting empty", "error", err)
		} else if len(restored) > 0 {
			if err := manager.Restore(restored); err != nil {
				return fmt.Errorf("restoring jobs: %w", err)
			}
		}

		snapshotter = snapshot.NewSnapshotter(snapStore, manager, svcCfg.SnapshotInterval, logger)
		go snapshotter.Run()
	}

	// Create health checker
	healthChecker := health.NewChecker(executor)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Manager:       manager,
		Broadcaster:   broadcaster,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:        ":" + svcCfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: SSE streams stay open for the life of a job.
		IdleTimeout: 60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port, "workerMode", svcCfg.WorkerMode)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop admitting jobs and cancel the ones still running.
	// Their workers get the usual cooperative window before force kill.
	slog.Info("Cancelling running jobs")
	for _, j := range manager.List(job.ListFilter{Status: job.StatusTraining}) {
		if _, err := manager.Cancel(context.Background(), j.ID); err != nil {
			slog.Warn("Failed to cancel running job", "jobId", j.ID, "error", err)
		}
	}

	managerCtx, managerCancel := context.WithTimeout(context.Background(), svcCfg.CancelGrace+15*time.Second)
	defer managerCancel()
	if err := manager.Close(managerCtx); err != nil {
		slog.Warn("Manager shutdown error", "error", err)
	}

	// Phase 4: Tear down the executor backend
	executorCtx, executorCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer executorCancel()
	if err := executor.Close(executorCtx); err != nil {
		slog.Warn("Executor shutdown error", "error", err)
	}

	// Phase 5: Drain callback dispatcher
	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	// Log final dispatcher stats
	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// Phase 6: Close the event broadcast and write the final snapshot
	broadcaster.Close()
	if snapshotter != nil {
		snapCtx, snapCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer snapCancel()
		if err := snapshotter.Close(snapCtx); err != nil {
			slog.Warn("Final snapshot failed", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}

// newExecutor builds the worker backend named by WORKER_MODE.
func newExecutor(cfg *config.ServiceConfig, logger *slog.Logger) (worker.Executor, error) {
	switch cfg.WorkerMode {
	case "local", "":
		return worker.NewLocal(&worker.SimTrainer{StepDuration: time.Second},
			worker.LocalConfig{CancelGrace: cfg.CancelGrace}, logger), nil
	case "docker":
		dockerCfg := dockerexec.LoadConfigFromEnv()
		dockerCfg.TrainerImage = cfg.TrainerImage
		dockerCfg.CancelGrace = cfg.CancelGrace
		exec, err := dockerexec.New(dockerCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to docker daemon: %w", err)
		}
		slog.Info("Connected to Docker daemon", "trainerImage", cfg.TrainerImage)
		return exec, nil
	default:
		return nil, fmt.Errorf("unknown WORKER_MODE %q (expected local or docker)", cfg.WorkerMode)
	}
}
