// Package routing decides which tier answers a prompt and drives the
// self-evaluate-then-escalate pipeline against the model providers.
package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/services/features"
	"github.com/nandth/model-router-ai/services/scoring"
	"github.com/nandth/model-router-ai/services/tiers"
)

// CacheStats tracks decision cache counters
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Router produces routing decisions. It holds no per-request state; the
// optional decision cache only memoizes the pure feature/score/tier path.
type Router struct {
	table  *tiers.Table
	cache  *lru.Cache[string, Decision]
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRouter creates a router over a tier table. cacheSize <= 0 disables the
// decision cache.
func NewRouter(table *tiers.Table, cacheSize int, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{table: table, logger: logger}
	if cacheSize > 0 {
		cache, err := lru.New[string, Decision](cacheSize)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// Table returns the tier table the router maps onto
func (r *Router) Table() *tiers.Table {
	return r.table
}

// Route computes the initial decision for a prompt. In FORCE mode scoring
// is skipped and the tier is the hint's tier; an empty or unknown hint
// means CHEAP.
func (r *Router) Route(prompt, modelHint string, mode tiers.RouteMode) *Decision {
	if mode != tiers.RouteForce {
		mode = tiers.RouteAuto
		modelHint = ""
	}

	key := cacheKey(prompt, modelHint, mode)
	if r.cache != nil {
		if d, ok := r.cache.Get(key); ok {
			r.hits.Add(1)
			return d.clone()
		}
		r.misses.Add(1)
	}

	var d Decision
	if mode == tiers.RouteForce {
		d = r.forced(prompt, modelHint)
	} else {
		d = r.scored(prompt)
	}

	r.logger.Debug("routing decision",
		zap.String("route_mode", string(d.Mode)),
		zap.Int("score", d.Score),
		zap.String("initial_tier", d.InitialTier.String()),
		zap.String("initial_model", d.InitialModel),
		zap.Strings("hard_triggers", d.HardTriggers.Reasons),
	)

	if r.cache != nil {
		r.cache.Add(key, d)
	}
	return d.clone()
}

func (r *Router) forced(prompt, model string) Decision {
	tier, ok := r.table.TierForModel(model)
	if !ok {
		tier = tiers.Cheap
	}
	if model == "" {
		model = r.table.Model(tier)
	}
	return Decision{
		Mode:         tiers.RouteForce,
		InitialTier:  tier,
		FinalTier:    tier,
		InitialModel: model,
		FinalModel:   model,
		Features:     features.Extract(prompt),
		HardTriggers: scoring.HardTriggerResult{Reasons: []string{}},
	}
}

func (r *Router) scored(prompt string) Decision {
	f := features.Extract(prompt)
	score := scoring.ComputeScore(f)
	triggers := scoring.EvaluateHardTriggers(f)

	tier := tiers.MapScoreToTier(score)
	if triggers.Triggered {
		tier = tiers.Best
	}
	model := r.table.Model(tier)

	return Decision{
		Mode:         tiers.RouteAuto,
		InitialTier:  tier,
		FinalTier:    tier,
		InitialModel: model,
		FinalModel:   model,
		Score:        score,
		Features:     f,
		HardTriggers: triggers,
	}
}

// Analysis is the debug view of a routing decision
type Analysis struct {
	Decision         *Decision      `json:"decision"`
	Breakdown        map[string]int `json:"score_breakdown"`
	WouldUseSelfEval bool           `json:"would_use_self_eval"`
	Provider         string         `json:"provider"`
}

// Analyze returns the routing decision with its score breakdown without
// calling any model
func (r *Router) Analyze(prompt, modelHint string, mode tiers.RouteMode) Analysis {
	d := r.Route(prompt, modelHint, mode)

	breakdown := scoring.ScoreBreakdown(d.Features)
	if d.Mode == tiers.RouteForce {
		breakdown = map[string]int{scoring.KeyTotal: 0}
	}

	return Analysis{
		Decision:         d,
		Breakdown:        breakdown,
		WouldUseSelfEval: d.UsesSelfEval(),
		Provider:         r.table.Get(d.InitialTier).Provider,
	}
}

// CacheStats returns decision cache counters
func (r *Router) CacheStats() CacheStats {
	stats := CacheStats{Hits: r.hits.Load(), Misses: r.misses.Load()}
	if r.cache != nil {
		stats.Size = r.cache.Len()
	}
	return stats
}

func cacheKey(prompt, modelHint string, mode tiers.RouteMode) string {
	sum := sha256.Sum256([]byte(prompt))
	return string(mode) + "|" + modelHint + "|" + hex.EncodeToString(sum[:])
}
