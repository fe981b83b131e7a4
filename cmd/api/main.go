// Package main provides the entrypoint for the Pacelight API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/api"
	"github.com/pacelight/pacelight/internal/api/middleware"
	"github.com/pacelight/pacelight/internal/apns"
	"github.com/pacelight/pacelight/internal/auth"
	"github.com/pacelight/pacelight/internal/database"
	"github.com/pacelight/pacelight/internal/push"
	"github.com/pacelight/pacelight/internal/registry"
	"github.com/pacelight/pacelight/internal/telemetry"
	"github.com/pacelight/pacelight/internal/timer"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pacelight-api"

	// Load .env in local development; deployed environments inject config.
	_ = godotenv.Load()

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Pacelight API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	// Initialize JWT service (get signing key from environment)
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		jwtSigningKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: jwtSigningKey,
	})

	// Initialize the push gateway client
	signer, err := apns.NewTokenSigner(apns.SignerConfig{
		AuthKeyPEM: strings.ReplaceAll(os.Getenv("APNS_AUTH_KEY"), `\n`, "\n"),
		KeyID:      os.Getenv("APNS_KEY_ID"),
		TeamID:     os.Getenv("APNS_TEAM_ID"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize push gateway credentials")
	}

	apnsClient, err := apns.NewClient(apns.ClientConfig{
		Signer: signer,
		Logger: log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize push gateway client")
	}
	log.Info().Str("key_id", signer.KeyID()).Msg("push gateway client initialized")

	// Initialize the token registry
	registryService := registry.NewService(registry.ServiceConfig{
		Repository:      registry.NewPostgresRepository(pool),
		Logger:          log,
		DefaultBundleID: os.Getenv("APNS_BUNDLE_ID"),
		Topic:           os.Getenv("APNS_TOPIC"),
	})

	// Initialize the timer store and action service
	timerRepo := timer.NewPostgresRepository(pool)
	timerService := timer.NewService(timer.ServiceConfig{
		Repository: timerRepo,
		Logger:     log,
	})

	// Initialize the push pipeline and monitor coordinator
	pushMetrics, err := push.NewDeliveryMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize delivery metrics")
	}
	pushService := push.NewService(push.ServiceConfig{
		Timers:   timerRepo,
		Registry: registryService,
		Client:   apnsClient,
		Logger:   log,
		Metrics:  pushMetrics,
	})
	monitors := push.NewCoordinator(push.CoordinatorConfig{
		Timers:  timerRepo,
		Service: pushService,
		Logger:  log,
	})
	defer monitors.StopAll()
	log.Info().Msg("push pipeline initialized")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		JWTService:      jwtService,
		PushService:     pushService,
		RegistryService: registryService,
		TimerService:    timerService,
		Monitors:        monitors,
		Database:        pool,
		Gateways:        apnsClient,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
