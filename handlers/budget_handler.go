package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/middleware"
	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/services"
	"github.com/nandth/model-router-ai/services/audit"
	"github.com/nandth/model-router-ai/services/routing"
	"github.com/nandth/model-router-ai/utils"
)

// UpdateBudgetRequest is the body of PUT /api/budget
type UpdateBudgetRequest struct {
	MonthlyLimit *float64 `json:"monthly_limit" validate:"required,gte=0"`
}

// StatsSource aggregates persisted request logs
type StatsSource interface {
	Stats(ctx context.Context) (*models.RequestStats, error)
}

// AuditStatsSource reports the request-log recorder state
type AuditStatsSource interface {
	GetStats() audit.Stats
}

// StatsResponse is the answer to GET /api/stats
type StatsResponse struct {
	Requests     *models.RequestStats `json:"requests"`
	RoutingCache routing.CacheStats   `json:"routing_cache"`
	Recorder     *audit.Stats         `json:"recorder,omitempty"`
}

// BudgetHandler serves budget status and request statistics
type BudgetHandler struct {
	budget   BudgetGuard
	stats    StatsSource
	decider  Decider
	recorder AuditStatsSource
	logger   *zap.Logger
}

// NewBudgetHandler creates a new BudgetHandler. stats and recorder may be
// nil when request logs are not persisted.
func NewBudgetHandler(budget BudgetGuard, stats StatsSource, decider Decider, recorder AuditStatsSource, logger *zap.Logger) *BudgetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetHandler{
		budget:   budget,
		stats:    stats,
		decider:  decider,
		recorder: recorder,
		logger:   logger,
	}
}

// HandleGetBudget handles GET /api/budget
func (h *BudgetHandler) HandleGetBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.budget.Status(ctx)
	if err != nil {
		HandleServiceError(w, err, middleware.GetRequestIDFromContext(ctx), h.logger)
		return
	}
	_ = utils.WriteOK(w, status)
}

// HandleUpdateBudget handles PUT /api/budget
func (h *BudgetHandler) HandleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body UpdateBudgetRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.budget.SetLimit(*body.MonthlyLimit); err != nil {
		HandleServiceError(w, err, requestID, h.logger)
		return
	}

	subject := ""
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		subject = claims.Subject
	}
	h.logger.Info("budget limit changed",
		zap.String("request_id", requestID),
		zap.String("sub", subject),
		zap.Float64("monthly_limit", *body.MonthlyLimit))

	h.HandleGetBudget(w, r)
}

// HandleStats handles GET /api/stats
func (h *BudgetHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp := StatsResponse{Requests: &models.RequestStats{}}
	if h.stats != nil {
		stats, err := h.stats.Stats(ctx)
		if err != nil {
			HandleServiceError(w, services.WrapInternal("failed to aggregate request logs", err),
				middleware.GetRequestIDFromContext(ctx), h.logger)
			return
		}
		resp.Requests = stats
	}
	if h.decider != nil {
		resp.RoutingCache = h.decider.CacheStats()
	}
	if h.recorder != nil {
		recorder := h.recorder.GetStats()
		resp.Recorder = &recorder
	}

	_ = utils.WriteOK(w, resp)
}
