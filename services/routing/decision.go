package routing

import (
	"github.com/nandth/model-router-ai/services/features"
	"github.com/nandth/model-router-ai/services/scoring"
	"github.com/nandth/model-router-ai/services/selfeval"
	"github.com/nandth/model-router-ai/services/tiers"
)

// Decision is the routing outcome for one prompt. The router fills the
// initial fields; the executor may refine it once by escalating. Final
// fields never move below the initial ones.
type Decision struct {
	Mode         tiers.RouteMode           `json:"route_mode"`
	InitialTier  tiers.ModelTier           `json:"initial_tier"`
	FinalTier    tiers.ModelTier           `json:"final_tier"`
	InitialModel string                    `json:"initial_model"`
	FinalModel   string                    `json:"final_model"`
	Score        int                       `json:"score"`
	Features     features.PromptFeatures   `json:"features"`
	HardTriggers scoring.HardTriggerResult `json:"hard_triggers"`
	SelfEval     *selfeval.SelfEvalResult  `json:"self_eval,omitempty"`
	Escalated    bool                      `json:"escalated"`
}

// UsesSelfEval reports whether the pipeline runs Stage A for this decision.
// Forced routes and BEST-tier routes are answered directly.
func (d *Decision) UsesSelfEval() bool {
	return d.Mode != tiers.RouteForce && d.InitialTier != tiers.Best
}

// recordSelfEval attaches the Stage-A evaluation; only the first call has
// any effect
func (d *Decision) recordSelfEval(eval selfeval.SelfEvalResult) {
	if d.SelfEval != nil {
		return
	}
	d.SelfEval = &eval
}

// escalate moves the final tier one step up from the initial tier. It is a
// no-op after the first call.
func (d *Decision) escalate(table *tiers.Table) {
	if d.Escalated {
		return
	}
	d.FinalTier = d.InitialTier.Next()
	d.FinalModel = table.Model(d.FinalTier)
	d.Escalated = true
}

// clone returns a copy that can be refined without touching the original
func (d Decision) clone() *Decision {
	c := d
	c.SelfEval = nil
	c.Escalated = false
	c.FinalTier = c.InitialTier
	c.FinalModel = c.InitialModel
	return &c
}
