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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/presence-service/internal/application"
	"github.com/example/presence-service/internal/config"
	"github.com/example/presence-service/internal/heartbeat"
	httptransport "github.com/example/presence-service/internal/http"
	"github.com/example/presence-service/internal/logging"
	"github.com/example/presence-service/internal/metrics"
)

func main() {
	bootstrap := logging.New(os.Stdout, slog.LevelInfo)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		bootstrap.Error("failed to load .env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise presence service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "sweep":
			outcome := svc.sweeper.SweepOnce(ctx)
			if outcome.Status == application.SweepFailed {
				os.Exit(1)
			}
			return
		default:
			logger.Error("unknown command", "command", os.Args[1])
			os.Exit(2)
		}
	}

	svc.sweeper.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long-poll responses may be held for up to MaxWaitTimeoutMs.
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("presence API listening",
		"addr", server.Addr,
		"store", cfg.StoreDriver,
		"lock", cfg.LockBackend,
		"sweep_backend", svc.sweeper.Backend(),
		"instance", svc.instanceID,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// service holds the wired components of one presenced process.
type service struct {
	instanceID string
	handler    http.Handler
	presence   *application.PresenceService
	activity   *application.ActivityService
	sweeper    *application.PresenceSweeper
	registry   *prometheus.Registry
	backend    *backend
}

func newService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*service, error) {
	instanceID := uuid.NewString()

	store, err := openBackend(ctx, cfg, instanceID, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	directory := newUserDirectoryAdapter(store.users)
	tracker := heartbeat.NewTracker(time.Now)
	sweepCfg := toSweepConfig(cfg.Sweep)

	presence := application.NewPresenceService(application.PresenceServiceDeps{
		Tracker:         tracker,
		Directory:       directory,
		OnlineThreshold: sweepCfg.OnlineThreshold,
		Instrumentation: recorder,
		Logger:          logger,
	})
	activity := application.NewActivityService(application.ActivityServiceDeps{
		Directory:       directory,
		Instrumentation: recorder,
		Logger:          logger,
		PollSlice:       cfg.LongPollSlice,
	})

	sweepDeps := application.SweeperDeps{
		Tracker:         tracker,
		Directory:       directory,
		Instrumentation: recorder,
		Logger:          logger,
	}
	if store.stale != nil {
		sweepDeps.Stale = store.stale
	}
	if store.locks != nil {
		sweepDeps.Lock = store.locks
	}
	sweeper := application.NewPresenceSweeper(sweepCfg, sweepDeps)

	var pinger httptransport.Pinger
	if store.pinger != nil {
		pinger = store.pinger
	}

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Activity:   httptransport.NewActivityHandler(activity, logger),
		Presence:   httptransport.NewPresenceHandler(presence, logger),
		Health:     httptransport.NewHealthHandler(pinger, logger),
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	return &service{
		instanceID: instanceID,
		handler:    handler,
		presence:   presence,
		activity:   activity,
		sweeper:    sweeper,
		registry:   registry,
		backend:    store,
	}, nil
}

// Close stops the sweep loop and releases the backend connections.
func (s *service) Close() {
	s.sweeper.Stop()
	s.backend.Close()
}

func toSweepConfig(cfg config.Sweep) application.SweepConfig {
	mode := application.SweepModeThread
	if cfg.Mode == config.SweepModeDisabled {
		mode = application.SweepModeDisabled
	}
	return application.SweepConfig{
		Enabled:         cfg.Enabled,
		Mode:            mode,
		Interval:        cfg.Interval,
		OnlineThreshold: cfg.OnlineThreshold,
		Grace:           cfg.Grace,
	}
}
