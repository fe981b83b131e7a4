// Package api provides the HTTP API for Pacelight.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pacelight/pacelight/internal/api/handler"
	"github.com/pacelight/pacelight/internal/api/middleware"
	"github.com/pacelight/pacelight/internal/auth"
	"github.com/pacelight/pacelight/internal/push"
	"github.com/pacelight/pacelight/internal/registry"
	"github.com/pacelight/pacelight/internal/timer"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	JWTService  *auth.JWTService

	PushService     *push.Service
	RegistryService *registry.Service
	TimerService    *timer.Service
	Monitors        *push.Coordinator

	// Database is pinged by readiness and status checks. Optional.
	Database handler.Pinger

	// Gateways reports push gateway breaker health. Optional.
	Gateways handler.GatewayReporter
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pacelight-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Database, cfg.Gateways)
	activityHandler := handler.NewActivityHandler(handler.ActivityHandlerConfig{
		Push:     cfg.PushService,
		Registry: cfg.RegistryService,
		Timers:   cfg.TimerService,
		Monitors: cfg.Monitors,
		Logger:   cfg.Logger,
	})

	// Create auth middleware
	authMiddleware := middleware.Auth(cfg.JWTService)

	// Create rate limit middleware for different endpoint categories
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			// Status endpoint requires authentication
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		// Activity endpoints - pushes are expensive, strict rate limiting
		r.Route("/activities", func(r chi.Router) {
			r.With(expensiveRateLimit).Post("/update", activityHandler.UpdateActivity)
			r.With(standardRateLimit).Post("/tokens", activityHandler.RegisterToken)

			// Monitor control (authenticated)
			r.Route("/{activityId}/monitor", func(r chi.Router) {
				r.Use(authMiddleware)
				r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit)) // 100 req/min per user
				r.Post("/", activityHandler.StartMonitor)
				r.Delete("/", activityHandler.StopMonitor)
			})
		})

		// Timer endpoints (authenticated) - user-based rate limiting
		r.Route("/timer", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit)) // 100 req/min per user
			r.Post("/action", activityHandler.TimerAction)
		})
	})

	return r
}
