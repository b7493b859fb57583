// Command scheduler runs the control-surface HTTP API that an operator uses
// to start/stop/inspect Supervisor runs over task groups (§6).
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

	"github.com/relaygrid/fleetsched/internal/adapter/control"
	"github.com/relaygrid/fleetsched/internal/adapter/driver"
	"github.com/relaygrid/fleetsched/internal/adapter/heartbeat"
	"github.com/relaygrid/fleetsched/internal/adapter/observability"
	"github.com/relaygrid/fleetsched/internal/adapter/repo/postgres"
	"github.com/relaygrid/fleetsched/internal/classifier"
	"github.com/relaygrid/fleetsched/internal/clock"
	"github.com/relaygrid/fleetsched/internal/config"
	"github.com/relaygrid/fleetsched/internal/domain"
	"github.com/relaygrid/fleetsched/internal/supervisor"
	"github.com/relaygrid/fleetsched/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		slog.Error("scheduler exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("op=scheduler.load_config: %w", err)
	}

	log := observability.SetupLogger(cfg)
	slog.SetDefault(log)

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		return fmt.Errorf("op=scheduler.setup_tracing: %w", err)
	}
	if shutdownTracing != nil {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns, cfg.DBMaxConnIdleTime)
	if err != nil {
		return fmt.Errorf("op=scheduler.connect_db: %w", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("op=scheduler.migrate: %w", err)
	}

	store := postgres.NewStore(pool)
	taskRepo := postgres.NewTaskRepo(store, pool, cfg.MaxMessagesPerHour, cfg.DelayRandomness,
		time.Duration(cfg.CycleDelayMinutes*float64(time.Minute)), cfg.MaxAttemptsBeforeBlock)
	profileRepo := postgres.NewProfileRepo(store, pool)
	proxyRepo := postgres.NewProxyRepo(store, pool, cfg.ChatNotFoundThreshold, int64(cfg.ChatNotFoundMinSample))
	messageRepo := postgres.NewMessageRepo(pool)
	statsRepo := postgres.NewStatsRepo(pool)

	cleanup := postgres.NewCleanupService(pool, cfg.AttemptRetentionDays)
	go cleanup.RunPeriodic(ctx, cfg.CleanupInterval)

	var hb *heartbeat.Cache
	if cfg.HeartbeatEnabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer rdb.Close()
		hb = heartbeat.New(rdb, cfg.HeartbeatTTL)
	}

	browser := driver.NewStub()
	eng := classifier.New()
	realClock := clock.Real{}

	newWorker := func(groupID string, profile domain.Profile, runID string) *worker.Worker {
		w := &worker.Worker{
			GroupID: groupID,
			Profile: profile,
			RunID:   runID,
			Cfg: worker.Config{
				CycleDelay:         time.Duration(cfg.CycleDelayMinutes * float64(time.Minute)),
				MaxMessagesPerHour: cfg.MaxMessagesPerHour,
				DelayRandomness:    cfg.DelayRandomness,
				PageLoadTimeout:    cfg.PageLoadTimeout,
				SearchTimeout:      cfg.SearchTimeout,
				SendTimeout:        cfg.SendTimeout,
				LaunchMaxRetries:   cfg.LaunchMaxRetries,
				LaunchBackoffBase:  cfg.RestartBackoffBase,
			},
			Store:      store,
			Tasks:      taskRepo,
			Proxies:    proxyRepo,
			Messages:   messageRepo,
			Profiles:   profileRepo,
			Classifier: eng,
			Driver:     browser,
			Clock:      realClock,
		}
		if hb != nil {
			go hb.Run(ctx, profile.ProfileID, cfg.HeartbeatInterval, time.Now)
		}
		return w
	}

	newSupervisor := func(groupID string, workerCount int) *supervisor.Supervisor {
		return &supervisor.Supervisor{
			GroupID:  groupID,
			Profiles: profileRepo,
			Tasks:    taskRepo,
			NewWorker: func(profile domain.Profile, runID string) *worker.Worker {
				return newWorker(groupID, profile, runID)
			},
			Log: log,
			Cfg: supervisor.Config{
				WorkerCount:        workerCount,
				StaleClaimGrace:    cfg.StaleClaimGrace,
				ShutdownGrace:      cfg.ShutdownGrace,
				RestartBackoffBase: cfg.RestartBackoffBase,
				RestartBackoffCap:  cfg.RestartBackoffCap,
			},
		}
	}

	mgr := control.NewManager(newSupervisor)
	srv := &control.Server{
		Cfg:     cfg,
		Manager: mgr,
		Stats:   statsRepo,
		Store:   pool,
		Log:     log,
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ControlPort),
		Handler: srv.Router(),
	}

	go func() {
		log.Info("control surface listening", slog.Int("port", cfg.ControlPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control surface exited", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ControlShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("control surface shutdown error", slog.Any("error", err))
	}
	return nil
}
