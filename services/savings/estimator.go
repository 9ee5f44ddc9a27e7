// Package savings estimates what a routed request saved compared with
// sending every call to a fixed baseline model.
package savings

import (
	"math"

	"github.com/nandth/model-router-ai/services/tiers"
)

// DefaultBaselineModel is the model every call is compared against when no
// baseline is configured
const DefaultBaselineModel = "gpt-4"

// Pricer prices a token split for a model identifier. ok is false when the
// model has no known pricing.
type Pricer interface {
	Pricing(model string) (PriceQuote, bool)
}

// PriceQuote is the per-1000-token pricing of one model
type PriceQuote struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Cost returns the dollar cost of a token split
func (q PriceQuote) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*q.InputPer1K + float64(completionTokens)/1000*q.OutputPer1K
}

// TablePricer prices models from the tier table
type TablePricer struct {
	Table *tiers.Table
}

// Pricing implements Pricer
func (p TablePricer) Pricing(model string) (PriceQuote, bool) {
	cfg, ok := p.Table.Pricing(model)
	if !ok {
		return PriceQuote{}, false
	}
	return PriceQuote{InputPer1K: cfg.InputCostPer1K, OutputPer1K: cfg.OutputCostPer1K}, true
}

// Call is the token usage of a single model call within a request
type Call struct {
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Estimator computes savings against a fixed baseline model
type Estimator struct {
	pricer   Pricer
	baseline string
}

// NewEstimator creates an estimator. An empty baseline selects
// DefaultBaselineModel.
func NewEstimator(pricer Pricer, baseline string) *Estimator {
	if baseline == "" {
		baseline = DefaultBaselineModel
	}
	return &Estimator{pricer: pricer, baseline: baseline}
}

// Baseline returns the baseline model identifier
func (e *Estimator) Baseline() string {
	return e.baseline
}

// EstimateTokensSaved returns the baseline-token-equivalent savings of the
// calls made for one request.
//
// This is a cost-based proxy, not a count of tokens that were not
// generated: routing a call to a cheaper model leaves its token counts
// unchanged. For each call the dollar difference between the baseline
// price and the actual price of the same prompt/completion split is
// divided by the baseline's effective per-token price for that split.
// Calls with no tokens, calls on an unpriced model and calls at or above
// baseline cost contribute nothing. The sum is rounded and never negative.
func (e *Estimator) EstimateTokensSaved(calls []Call) int {
	base, ok := e.pricer.Pricing(e.baseline)
	if !ok {
		return 0
	}

	var saved float64
	for _, c := range calls {
		total := c.PromptTokens + c.CompletionTokens
		if total <= 0 {
			continue
		}

		baselineCost := base.Cost(c.PromptTokens, c.CompletionTokens)
		if baselineCost <= 0 {
			continue
		}

		actual, ok := e.pricer.Pricing(c.Model)
		if !ok {
			continue
		}
		delta := baselineCost - actual.Cost(c.PromptTokens, c.CompletionTokens)
		if delta <= 0 {
			continue
		}

		perToken := baselineCost / float64(total)
		saved += delta / perToken
	}

	return int(math.Max(0, math.Round(saved)))
}

// EstimateCost returns the actual dollar cost of the calls; unpriced
// models cost zero
func (e *Estimator) EstimateCost(calls []Call) float64 {
	var cost float64
	for _, c := range calls {
		if q, ok := e.pricer.Pricing(c.Model); ok {
			cost += q.Cost(c.PromptTokens, c.CompletionTokens)
		}
	}
	return cost
}
