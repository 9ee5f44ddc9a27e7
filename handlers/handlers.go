package handlers

import (
	"context"
	"net/http"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/services/prompt"
	"github.com/nandth/model-router-ai/services/routing"
	"github.com/nandth/model-router-ai/services/tiers"
	"github.com/nandth/model-router-ai/utils"
)

// PromptValidator sanitizes and validates raw prompts
type PromptValidator interface {
	Validate(ctx context.Context, prompt string) (*prompt.ValidationResult, error)
}

// Pipeline answers prompts through the tiered routing pipeline
type Pipeline interface {
	Execute(ctx context.Context, req routing.Request) (*routing.Result, error)
	Stream(ctx context.Context, req routing.Request) (<-chan routing.StreamEvent, *routing.Decision, error)
}

// Decider produces routing decisions without calling a model
type Decider interface {
	Route(prompt, modelHint string, mode tiers.RouteMode) *routing.Decision
	Analyze(prompt, modelHint string, mode tiers.RouteMode) routing.Analysis
	CacheStats() routing.CacheStats
}

// BudgetGuard enforces and accounts the monthly spend limit
type BudgetGuard interface {
	Check(ctx context.Context, estimatedCost float64) error
	Record(ctx context.Context, cost float64) error
	Status(ctx context.Context) (models.BudgetStatus, error)
	SetLimit(limit float64) error
}

// CostEstimator prices a request before it runs
type CostEstimator interface {
	Estimate(model, prompt string, maxTokens int) float64
}

// ServiceInfo describes the running service at GET /
type ServiceInfo struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

// RootHandler serves the service descriptor
func RootHandler(version string) http.HandlerFunc {
	info := ServiceInfo{
		Name:    "model-router-ai",
		Version: version,
		Status:  "running",
		Endpoints: map[string]string{
			"prompt":           "POST /api/prompt",
			"stream":           "POST /api/prompt/stream",
			"analyze":          "POST /api/analyze",
			"self_eval_schema": "GET /api/analyze/self-eval-schema",
			"budget":           "GET /api/budget",
			"stats":            "GET /api/stats",
			"health":           "GET /api/health",
		},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, info)
	}
}

// NotFound answers unknown routes with the error envelope
func NotFound(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteError(w, http.StatusNotFound, "not_found", "endpoint not found", nil)
}
