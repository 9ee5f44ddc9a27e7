package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/utils"
)

// Check states reported by the readiness endpoint
const (
	checkHealthy       = "healthy"
	checkUnhealthy     = "unhealthy"
	checkNotConfigured = "not_configured"
)

// ProviderLister reports the registered model providers
type ProviderLister interface {
	ListProviders() []string
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Providers []string          `json:"providers,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db        *sql.DB
	providers ProviderLister
	version   string
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when request
// logs are not persisted.
func NewHealthHandler(db *sql.DB, providers ProviderLister, version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		db:        db,
		providers: providers,
		version:   version,
		logger:    logger,
	}
}

// HandleHealth handles GET /health and /api/health.
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    checkHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /health/ready. The service is ready when the
// database answers and at least one model provider is configured.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch {
	case h.db == nil:
		checks["database"] = checkNotConfigured
	case h.checkDatabase(ctx) != nil:
		checks["database"] = checkUnhealthy
		allHealthy = false
	default:
		checks["database"] = checkHealthy
	}

	var providers []string
	if h.providers != nil {
		providers = h.providers.ListProviders()
	}
	if len(providers) == 0 {
		checks["providers"] = checkNotConfigured
		allHealthy = false
	} else {
		checks["providers"] = checkHealthy
	}

	status := checkHealthy
	httpStatus := http.StatusOK
	if !allHealthy {
		status = checkUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Checks:    checks,
		Providers: providers,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		return err
	}

	return nil
}
