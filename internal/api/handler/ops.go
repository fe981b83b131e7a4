// Package handler provides HTTP handlers for the Pacelight API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/pacelight/pacelight/internal/api/models"
	"github.com/pacelight/pacelight/internal/api/response"
	"github.com/pacelight/pacelight/internal/apns"
)

// Pinger checks a backing store's availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GatewayReporter reports per-environment push gateway health.
type GatewayReporter interface {
	BreakerStates() map[apns.Environment]string
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	db        Pinger
	gateways  GatewayReporter
}

// NewOpsHandler creates a new OpsHandler. The db and gateways dependencies
// are optional; when nil the corresponding status sections are omitted.
func NewOpsHandler(version, buildTime string, db Pinger, gateways GatewayReporter) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		db:        db,
		gateways:  gateways,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check. Ready means
// the database answers a ping; push gateway health never blocks readiness
// because deliveries degrade per-environment.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatusOK
	code := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status = models.HealthStatusFail
			code = http.StatusServiceUnavailable
		}
	}

	health := models.Health{
		Status: status,
		Time:   models.Timestamp(time.Now()),
	}
	response.JSON(w, r, code, health)
}

// SystemStatus handles GET /v1/ops/status - subsystem and gateway status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	now := models.Timestamp(time.Now())
	status := models.SystemStatus{
		Status: models.HealthStatusOK,
		Time:   now,
	}

	if h.db != nil {
		dbStatus := models.SubsystemStatus{Name: "postgres", Status: models.HealthStatusOK}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			detail := err.Error()
			dbStatus.Status = models.HealthStatusFail
			dbStatus.Detail = &detail
			status.Status = models.HealthStatusDegraded
		}
		status.Subsystems = append(status.Subsystems, dbStatus)
	}

	if h.gateways != nil {
		for _, env := range []apns.Environment{apns.EnvironmentDevelopment, apns.EnvironmentProduction} {
			states := h.gateways.BreakerStates()
			gw := models.GatewayStatus{
				Environment: string(env),
				Status:      gatewayHealth(states[env]),
			}
			if gw.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Gateways = append(status.Gateways, gw)
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func gatewayHealth(breakerState string) models.HealthStatus {
	switch breakerState {
	case "open":
		return models.HealthStatusFail
	case "half-open":
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}
