package scoring

import "github.com/nandth/model-router-ai/services/features"

const (
	ReasonHighStakes         = "high_stakes detected (medical/legal/financial content)"
	ReasonStackTrace         = "stack_trace detected (debugging requires accuracy)"
	ReasonReasoningMultiStep = "hard_reasoning AND multi_part (complex multi-step reasoning)"
)

// HardTriggerResult lists every override rule that fired. Reasons is empty
// iff Triggered is false.
type HardTriggerResult struct {
	Triggered bool     `json:"triggered"`
	Reasons   []string `json:"reasons"`
}

// EvaluateHardTriggers checks each rule independently and collects all
// reasons in a fixed order. hard_reasoning on its own never triggers.
func EvaluateHardTriggers(f features.PromptFeatures) HardTriggerResult {
	reasons := []string{}

	if f.HighStakes {
		reasons = append(reasons, ReasonHighStakes)
	}
	if f.HasStackTrace {
		reasons = append(reasons, ReasonStackTrace)
	}
	if f.HardReasoning && f.MultiPart {
		reasons = append(reasons, ReasonReasoningMultiStep)
	}

	return HardTriggerResult{
		Triggered: len(reasons) > 0,
		Reasons:   reasons,
	}
}
