package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicemesh/internal/core/services"
	httphandlers "voicemesh/internal/handlers/http"
	"voicemesh/internal/infrastructure/middleware"
	"voicemesh/internal/infrastructure/monitoring"
	"voicemesh/internal/infrastructure/reliability"
	"voicemesh/internal/infrastructure/repositories"
	signalrelay "voicemesh/internal/infrastructure/signal"
	"voicemesh/pkg/circuitbreaker"
	"voicemesh/pkg/config"
	"voicemesh/pkg/logger"
	"voicemesh/pkg/retry"
	"voicemesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/voicemesh/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "voicemesh-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	roster := reliability.NewRosterWrapper(
		repoFactory.CreateRosterRepository(),
		retry.DefaultConfig(),
		circuitbreaker.DefaultConfig(),
		log,
	)

	var authService *services.AuthService
	if cfg.Auth.Enabled {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}

	var relayMetrics *monitoring.RelayCollector
	if cfg.Monitoring.PrometheusEnabled {
		relayMetrics = monitoring.NewRelayCollector()
	}

	relay := signalrelay.NewServer(signalrelay.ServerConfig{
		PingInterval:      cfg.Relay.PingInterval,
		ReadTimeout:       cfg.Relay.PongTimeout,
		MessagesPerSecond: cfg.RateLimiting.MessagesPerSecond,
		MessageBurst:      cfg.RateLimiting.Burst,
	}, roster, authService, relayMetrics, log)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("roster_store", repoFactory.HealthCheck, 2*time.Second)

	roomHandler := httphandlers.NewRoomHandler(roster, authService, healthChecker, logger.NewContextLogger(zapLogger))

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	roomHandler.SetupRoutes(router)
	router.GET("/ws", gin.WrapF(relay.HandleWebSocket))
	router.GET("/uptime", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uptime": time.Since(startTime).String()})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting relay", "address", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("relay failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracing", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("relay stopped")
}
