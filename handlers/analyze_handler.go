package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/middleware"
	"github.com/nandth/model-router-ai/services"
	"github.com/nandth/model-router-ai/services/routing"
	"github.com/nandth/model-router-ai/services/selfeval"
	"github.com/nandth/model-router-ai/services/tiers"
	"github.com/nandth/model-router-ai/utils"
)

// AnalyzeRequest is the body of POST /api/analyze
type AnalyzeRequest struct {
	Prompt    string `json:"prompt" validate:"required"`
	Model     string `json:"model,omitempty"`
	RouteMode string `json:"route_mode,omitempty" validate:"omitempty,oneof=auto force"`
}

// AnalyzeResponse is the routing decision for a prompt without an answer
type AnalyzeResponse struct {
	routing.Analysis
	Warnings []string `json:"warnings,omitempty"`
}

// AnalyzeHandler serves the routing introspection endpoints
type AnalyzeHandler struct {
	validator PromptValidator
	decider   Decider
	logger    *zap.Logger
}

// NewAnalyzeHandler creates a new AnalyzeHandler
func NewAnalyzeHandler(validator PromptValidator, decider Decider, logger *zap.Logger) *AnalyzeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyzeHandler{
		validator: validator,
		decider:   decider,
		logger:    logger,
	}
}

// HandleAnalyze handles POST /api/analyze. No model is called.
func (h *AnalyzeHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body AnalyzeRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	validated, err := h.validator.Validate(ctx, body.Prompt)
	if err != nil {
		HandleServiceError(w, err, requestID, h.logger)
		return
	}

	mode, err := tiers.ParseRouteMode(body.RouteMode)
	if err != nil {
		HandleServiceError(w, services.ErrInvalidRouteMode, requestID, h.logger)
		return
	}

	analysis := h.decider.Analyze(validated.Prompt, body.Model, mode)

	h.logger.Debug("prompt analyzed",
		zap.String("request_id", requestID),
		zap.Int("score", analysis.Decision.Score),
		zap.String("initial_tier", analysis.Decision.InitialTier.String()))

	_ = utils.WriteOK(w, AnalyzeResponse{Analysis: analysis, Warnings: validated.Warnings})
}

// HandleSelfEvalSchema handles GET /api/analyze/self-eval-schema
func (h *AnalyzeHandler) HandleSelfEvalSchema(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, selfeval.Schema())
}
