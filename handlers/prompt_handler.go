package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/middleware"
	"github.com/nandth/model-router-ai/services"
	"github.com/nandth/model-router-ai/services/routing"
	"github.com/nandth/model-router-ai/services/tiers"
	"github.com/nandth/model-router-ai/utils"
)

// PromptRequest is the body of POST /api/prompt and /api/prompt/stream
type PromptRequest struct {
	Prompt    string `json:"prompt" validate:"required"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty" validate:"omitempty,gte=1,lte=4000"`
	RouteMode string `json:"route_mode,omitempty" validate:"omitempty,oneof=auto force"`
}

// RoutingDetails summarizes how a prompt was routed
type RoutingDetails struct {
	RouteMode          tiers.RouteMode `json:"route_mode"`
	InitialTier        tiers.ModelTier `json:"initial_tier"`
	FinalTier          tiers.ModelTier `json:"final_tier"`
	Score              int             `json:"score"`
	HardTriggerReasons []string        `json:"hard_trigger_reasons"`
	Escalated          bool            `json:"escalated"`
	Path               string          `json:"path"`
	StageAConfidence   *float64        `json:"stage_a_confidence"`
	StageAEscalate     *bool           `json:"stage_a_escalate"`
}

// PromptResponse is the answer to POST /api/prompt
type PromptResponse struct {
	Success        bool            `json:"success"`
	ResponseText   string          `json:"response_text"`
	ModelUsed      string          `json:"model_used"`
	Tier           tiers.ModelTier `json:"tier"`
	TokensUsed     int             `json:"tokens_used"`
	TokensSaved    int             `json:"tokens_saved"`
	Cost           float64         `json:"cost"`
	LatencyMs      float64         `json:"latency_ms"`
	RequestID      string          `json:"request_id"`
	Warnings       []string        `json:"warnings,omitempty"`
	RoutingDetails RoutingDetails  `json:"routing_details"`
}

// PromptHandler serves the prompt endpoints
type PromptHandler struct {
	validator        PromptValidator
	pipeline         Pipeline
	decider          Decider
	budget           BudgetGuard
	estimator        CostEstimator
	defaultMaxTokens int
	logger           *zap.Logger
}

// NewPromptHandler creates a new PromptHandler. budget and estimator may be
// nil to skip spend enforcement.
func NewPromptHandler(
	validator PromptValidator,
	pipeline Pipeline,
	decider Decider,
	budget BudgetGuard,
	estimator CostEstimator,
	defaultMaxTokens int,
	logger *zap.Logger,
) *PromptHandler {
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = routing.DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptHandler{
		validator:        validator,
		pipeline:         pipeline,
		decider:          decider,
		budget:           budget,
		estimator:        estimator,
		defaultMaxTokens: defaultMaxTokens,
		logger:           logger,
	}
}

// admitted is a prompt request that passed validation and the budget check
type admitted struct {
	req      routing.Request
	warnings []string
}

// HandlePrompt handles POST /api/prompt
func (h *PromptHandler) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	in, ok := h.admit(w, r)
	if !ok {
		return
	}

	result, err := h.pipeline.Execute(ctx, in.req)
	if err != nil {
		HandleServiceError(w, err, requestID, h.logger)
		return
	}

	h.recordSpend(ctx, requestID, result.Cost)

	if err := utils.WriteOK(w, newPromptResponse(result, in.warnings)); err != nil {
		h.logger.Error("failed to write prompt response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// admit decodes, validates and budget-checks a prompt request, writing the
// error response itself when the request is rejected
func (h *PromptHandler) admit(w http.ResponseWriter, r *http.Request) (*admitted, bool) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body PromptRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		h.logger.Debug("invalid prompt body", zap.String("request_id", requestID), zap.Error(err))
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return nil, false
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return nil, false
	}

	validated, err := h.validator.Validate(ctx, body.Prompt)
	if err != nil {
		HandleServiceError(w, err, requestID, h.logger)
		return nil, false
	}

	mode, err := tiers.ParseRouteMode(body.RouteMode)
	if err != nil {
		HandleServiceError(w, services.ErrInvalidRouteMode, requestID, h.logger)
		return nil, false
	}

	maxTokens := body.MaxTokens
	if maxTokens == 0 {
		maxTokens = h.defaultMaxTokens
	}

	req := routing.Request{
		RequestID: requestID,
		Prompt:    validated.Prompt,
		ModelHint: body.Model,
		MaxTokens: maxTokens,
		Mode:      mode,
		ClientIP:  middleware.GetClientIPFromContext(ctx),
	}

	if err := h.checkBudget(ctx, req); err != nil {
		HandleServiceError(w, err, requestID, h.logger)
		return nil, false
	}

	return &admitted{req: req, warnings: validated.Warnings}, true
}

// checkBudget prices the request at its initial tier
func (h *PromptHandler) checkBudget(ctx context.Context, req routing.Request) error {
	if h.budget == nil || h.estimator == nil || h.decider == nil {
		return nil
	}
	decision := h.decider.Route(req.Prompt, req.ModelHint, req.Mode)
	estimate := h.estimator.Estimate(decision.InitialModel, req.Prompt, req.MaxTokens)
	return h.budget.Check(ctx, estimate)
}

// recordSpend adds the cost of an answered request to the month. Failures
// are logged; the answer has already been produced.
func (h *PromptHandler) recordSpend(ctx context.Context, requestID string, cost float64) {
	if h.budget == nil {
		return
	}
	if err := h.budget.Record(context.WithoutCancel(ctx), cost); err != nil {
		h.logger.Error("failed to record spend",
			zap.String("request_id", requestID),
			zap.Float64("cost", cost),
			zap.Error(err))
	}
}

func newPromptResponse(result *routing.Result, warnings []string) PromptResponse {
	d := result.Decision
	details := RoutingDetails{
		RouteMode:          d.Mode,
		InitialTier:        d.InitialTier,
		FinalTier:          d.FinalTier,
		Score:              d.Score,
		HardTriggerReasons: d.HardTriggers.Reasons,
		Escalated:          d.Escalated,
		Path:               string(result.Path),
	}
	if details.HardTriggerReasons == nil {
		details.HardTriggerReasons = []string{}
	}
	if d.SelfEval != nil {
		confidence := d.SelfEval.Confidence
		escalate := d.SelfEval.ShouldEscalate
		details.StageAConfidence = &confidence
		details.StageAEscalate = &escalate
	}

	return PromptResponse{
		Success:        true,
		ResponseText:   result.Answer,
		ModelUsed:      result.ModelUsed,
		Tier:           result.Tier,
		TokensUsed:     result.Usage.Total().TotalTokens,
		TokensSaved:    result.TokensSaved,
		Cost:           result.Cost,
		LatencyMs:      float64(result.Latency.Microseconds()) / 1000,
		RequestID:      result.RequestID,
		Warnings:       warnings,
		RoutingDetails: details,
	}
}

// HandleStream handles POST /api/prompt/stream as server-sent events.
// Rejections before the first event use the JSON error envelope.
func (h *PromptHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.WriteInternalServerError(w, "streaming unsupported")
		return
	}

	in, ok := h.admit(w, r)
	if !ok {
		return
	}

	events, _, err := h.pipeline.Stream(ctx, in.req)
	if err != nil {
		HandleServiceError(w, err, requestID, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		var payload interface{}
		switch ev.Type {
		case routing.EventDelta:
			payload = map[string]string{"text": ev.Delta}
		case routing.EventUsage:
			payload = ev.Usage
		case routing.EventDone:
			payload = ev.Done
			if ev.Done != nil {
				h.recordSpend(ctx, requestID, ev.Done.Cost)
			}
		case routing.EventError:
			status, code := ErrorStatus(ev.Err)
			h.logger.Error("stream failed",
				zap.String("request_id", requestID),
				zap.Int("status", status),
				zap.Error(ev.Err))
			payload = utils.ErrorBody{
				Code:    code,
				Message: executionFailedMessage,
				Details: map[string]interface{}{"request_id": requestID},
			}
		}

		if err := writeEvent(w, string(ev.Type), payload); err != nil {
			// the client went away; drain so the producer can finish
			h.logger.Debug("stream write failed", zap.String("request_id", requestID), zap.Error(err))
			for range events {
			}
			return
		}
		flusher.Flush()
	}
}

// writeEvent writes one SSE frame
func writeEvent(w http.ResponseWriter, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
