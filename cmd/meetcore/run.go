package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/services"
	httphandlers "meetcore/internal/handlers/http"
	"meetcore/internal/infrastructure/distributed"
	"meetcore/internal/infrastructure/middleware"
	"meetcore/internal/infrastructure/monitoring"
	"meetcore/internal/infrastructure/rest"
	signaling "meetcore/internal/infrastructure/signal"
	"meetcore/pkg/circuitbreaker"
	"meetcore/pkg/config"
	"meetcore/pkg/logger"
	"meetcore/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the configured session and serve the inspection API",
	RunE:  runMain,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Session.SessionID == "" {
		return fmt.Errorf("session.session_id is required")
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("failed to flush traces", "error", err)
		}
	}()

	// Core
	notifier := services.NewNotifier(log)
	directory := services.NewSessionDirectory(notifier, log)
	quality := services.NewQualityService(services.QualityThresholds{
		GoodMaxLossPercent: cfg.Quality.GoodMaxLossPercent,
		BadMaxLossPercent:  cfg.Quality.BadMaxLossPercent,
	})

	restCfg := rest.Config{
		BaseURL:   cfg.Session.BaseURL,
		SessionID: cfg.Session.SessionID,
		Token:     cfg.Session.Token,
		Timeout:   cfg.Session.JoinTimeout,
	}
	joinClient := rest.NewJoinClient(restCfg, nil, log)
	breaker := circuitbreaker.New(rest.StatsBreakerConfig())
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		log.Warnw("stats endpoint circuit changed", "from", from, "to", to)
	})
	statsClient := rest.NewStatsClient(restCfg, nil, log).WithBreaker(breaker)

	poller := services.NewStatsPoller(statsClient, quality, notifier, services.StatsPollerConfig{
		Interval:        cfg.Stats.PollInterval,
		FetchTimeout:    cfg.Stats.FetchTimeout,
		SendTransportID: domain.TransportID(cfg.Stats.SendTransportID),
		RecvTransportID: domain.TransportID(cfg.Stats.RecvTransportID),
	}, log)
	defer poller.Stop()

	// Monitoring
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Monitoring.PrometheusEnabled {
		notifier.Subscribe(monitoring.NewPrometheusCollector(registry))
		log.Info("Prometheus metrics enabled")
	}

	health := monitoring.NewHealthChecker()
	var joined atomic.Bool
	health.AddConditionCheck("session_joined", joined.Load)

	if cfg.Redis.Enabled {
		client, err := distributed.NewRedisClient(ctx, distributed.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			return err
		}
		defer client.Close()

		bus := distributed.NewEventBus(client, cfg.Redis.Channel, domain.SessionID(cfg.Session.SessionID), log)
		notifier.Subscribe(bus)
		health.AddRedisCheck(client, 2*time.Second)

		go func() {
			if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event bus stopped", "error", err)
			}
		}()
		go func() {
			err := bus.Subscribe(ctx, func(env distributed.Envelope) error {
				log.Debugw("session event from another instance",
					"instance_id", env.InstanceID,
					"type", env.Event.Type,
					"peer_id", env.Event.PeerID,
				)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("event bus subscription stopped", "error", err)
			}
		}()
	}

	// Signaling
	signalClient := newSignalClient(cfg, directory, log, func(ctx context.Context) error {
		err := joinClient.JoinAndLoad(ctx, directory)
		if err != nil && !errors.Is(err, domain.ErrDecode) {
			return err
		}
		joined.Store(true)
		return err
	}, poller.OnConnectionStateChange)
	health.AddConditionCheck("signaling", signalClient.Connected)

	signalErr := make(chan error, 1)
	go func() {
		signalErr <- signalClient.Run(ctx)
	}()

	// HTTP
	srv := &http.Server{
		Addr:         cfg.API.Address,
		Handler:      newRouter(cfg, zapLogger, directory, quality, health, registry),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting meetcore inspection API on %s", cfg.API.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	var (
		runErr     error
		signalDone <-chan error = signalErr
	)
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("inspection API failed: %w", err)
	case err := <-signalErr:
		signalDone = nil
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("signaling stopped: %w", err)
		}
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}
	stop()

	log.Info("Shutting down meetcore...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	}

	releaseSession(directory, signalDone, cfg.API.ShutdownTimeout, log)

	log.Info("meetcore stopped")
	return runErr
}

// releaseSession waits for the signaling loop to exit, so no late frame can add a
// peer back, then removes every peer to release its consumers. A nil signalDone
// means the loop has already exited.
func releaseSession(directory *services.SessionDirectory, signalDone <-chan error, timeout time.Duration, log *zap.SugaredLogger) {
	if signalDone != nil {
		select {
		case <-signalDone:
		case <-time.After(timeout):
			log.Warnw("signaling did not stop in time, releasing session anyway", "timeout", timeout)
		}
	}

	if n := directory.Len(); n > 0 {
		log.Infow("releasing session directory", "peers", n)
	}
	for _, peer := range directory.Snapshot() {
		if err := directory.RemovePeer(context.Background(), peer.ID); err != nil {
			log.Warnw("failed to release peer", "peer_id", peer.ID, "error", err)
		}
	}
}

func newSignalClient(
	cfg *config.Config,
	directory *services.SessionDirectory,
	log *zap.SugaredLogger,
	onConnect func(ctx context.Context) error,
	onState func(domain.ConnectionState),
) *signaling.Client {
	sigCfg := signaling.DefaultConfig(cfg.Signal.URL)
	sigCfg.PingInterval = cfg.Signal.PingInterval
	sigCfg.PongTimeout = cfg.Signal.PongTimeout
	sigCfg.MaxMessageBytes = cfg.Signal.MaxMessageBytes
	sigCfg.Retry.MaxAttempts = cfg.Signal.ReconnectAttempts
	if cfg.Session.Token != "" {
		sigCfg.Header = http.Header{"Authorization": []string{"Bearer " + cfg.Session.Token}}
	}
	sigCfg.OnConnect = onConnect
	sigCfg.OnStateChange = onState
	return signaling.NewClient(sigCfg, directory, log)
}

func newRouter(
	cfg *config.Config,
	zapLogger *zap.Logger,
	directory *services.SessionDirectory,
	quality *services.QualityService,
	health *monitoring.HealthChecker,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	log := zapLogger.Sugar()
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
		middleware.AccessLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	var apiMiddleware []gin.HandlerFunc
	if cfg.Auth.Enabled {
		auth := services.NewAuthService(cfg.Auth.JWTSecret, time.Hour)
		apiMiddleware = append(apiMiddleware, middleware.AuthMiddleware(auth, services.ScopeInspect))
	} else {
		log.Warn("inspection API authentication disabled")
	}

	httphandlers.NewSessionHandler(directory, quality, health, gatherer).SetupRoutes(router, apiMiddleware...)
	return router
}
