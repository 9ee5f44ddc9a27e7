// Package scoring converts prompt features into a 0-100 difficulty/risk
// score and evaluates the hard-override rules that force the best tier.
package scoring

import "github.com/nandth/model-router-ai/services/features"

const (
	MinScore = 0
	MaxScore = 100

	longPromptChars     = 2000
	veryLongPromptChars = 6000
)

// Breakdown keys
const (
	KeyCodeOrStack   = "code_or_stack"
	KeyMultiPart     = "multi_part"
	KeyHardReasoning = "hard_reasoning"
	KeyHighStakes    = "high_stakes"
	KeyFreshness     = "freshness_need"
	KeyStrictFormat  = "strict_format"
	KeyLength        = "length"
	KeyTotal         = "total"
)

// Weights holds the fixed point contribution of each predicate
var Weights = struct {
	CodeOrStack    int
	MultiPart      int
	HardReasoning  int
	HighStakes     int
	Freshness      int
	StrictFormat   int
	LongPrompt     int
	VeryLongPrompt int
}{
	CodeOrStack:    20,
	MultiPart:      15,
	HardReasoning:  20,
	HighStakes:     25,
	Freshness:      15,
	StrictFormat:   10,
	LongPrompt:     10,
	VeryLongPrompt: 20,
}

// contributions returns every term before clamping. The length terms are
// mutually exclusive.
func contributions(f features.PromptFeatures) map[string]int {
	c := map[string]int{
		KeyCodeOrStack:   when(f.HasCodeBlock || f.HasStackTrace, Weights.CodeOrStack),
		KeyMultiPart:     when(f.MultiPart, Weights.MultiPart),
		KeyHardReasoning: when(f.HardReasoning, Weights.HardReasoning),
		KeyHighStakes:    when(f.HighStakes, Weights.HighStakes),
		KeyFreshness:     when(f.FreshnessNeed, Weights.Freshness),
		KeyStrictFormat:  when(f.StrictFormat, Weights.StrictFormat),
		KeyLength:        0,
	}

	switch {
	case f.LengthChars > veryLongPromptChars:
		c[KeyLength] = Weights.VeryLongPrompt
	case f.LengthChars > longPromptChars:
		c[KeyLength] = Weights.LongPrompt
	}
	return c
}

// ComputeScore sums all contributions and clamps the total once to
// [MinScore, MaxScore].
func ComputeScore(f features.PromptFeatures) int {
	sum := 0
	for _, points := range contributions(f) {
		sum += points
	}
	return clamp(sum)
}

// ScoreBreakdown exposes each contribution plus a total equal to ComputeScore
func ScoreBreakdown(f features.PromptFeatures) map[string]int {
	breakdown := contributions(f)
	breakdown[KeyTotal] = ComputeScore(f)
	return breakdown
}

func when(cond bool, points int) int {
	if cond {
		return points
	}
	return 0
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
