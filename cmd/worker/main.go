// Package main provides the entrypoint for the Pacelight push worker: it
// consumes timer change events from Pub/Sub, drives the push pipeline, and
// sweeps stale push tokens on a schedule.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/apns"
	"github.com/pacelight/pacelight/internal/database"
	"github.com/pacelight/pacelight/internal/push"
	"github.com/pacelight/pacelight/internal/registry"
	"github.com/pacelight/pacelight/internal/timer"
	"github.com/pacelight/pacelight/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pacelight-worker"

	// Load .env in local development; deployed environments inject config.
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting Pacelight worker")

	// Worker also exposes a health endpoint for Cloud Run
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	subscription := os.Getenv("PUBSUB_SUBSCRIPTION")
	if subscription == "" {
		subscription = "timer-changes"
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

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

	// Initialize the token registry and push pipeline
	registryService := registry.NewService(registry.ServiceConfig{
		Repository:      registry.NewPostgresRepository(pool),
		Logger:          log,
		DefaultBundleID: os.Getenv("APNS_BUNDLE_ID"),
		Topic:           os.Getenv("APNS_TOPIC"),
	})
	timerRepo := timer.NewPostgresRepository(pool)
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

	// Initialize the Pub/Sub change event handler
	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        projectID,
		SubscriptionName: subscription,
		PushService:      pushService,
		Monitors:         monitors,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pubsub handler")
	}
	defer handler.Close()

	// Start the stale token sweep
	sweep := worker.NewSweepJob(worker.SweepConfig{
		Registry: registryService,
		Logger:   log,
	})
	if err := sweep.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start token sweep job")
	}
	defer sweep.Stop()

	// Create HTTP server for health checks
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, Version)
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start health check server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Start consuming change events
	go func() {
		if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("pubsub handler stopped")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
