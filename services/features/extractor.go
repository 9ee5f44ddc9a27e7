// Package features turns raw prompt text into the fixed set of signals the
// scorer and hard-trigger rules consume.
package features

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Feature names as they appear in logs, breakdowns and the Stage-B context
const (
	NameCodeBlock     = "has_code_block"
	NameStackTrace    = "has_stack_trace"
	NameMultiPart     = "multi_part"
	NameStrictFormat  = "strict_format"
	NameFreshnessNeed = "freshness_need"
	NameHardReasoning = "hard_reasoning"
	NameHighStakes    = "high_stakes"
)

const (
	codeFence              = "```"
	multiPartQuestionMarks = 3
)

// PromptFeatures is produced once per prompt and never mutated
type PromptFeatures struct {
	LengthChars   int  `json:"length_chars"`
	LengthWords   int  `json:"length_words"`
	HasCodeBlock  bool `json:"has_code_block"`
	HasStackTrace bool `json:"has_stack_trace"`
	MultiPart     bool `json:"multi_part"`
	StrictFormat  bool `json:"strict_format"`
	FreshnessNeed bool `json:"freshness_need"`
	HardReasoning bool `json:"hard_reasoning"`
	HighStakes    bool `json:"high_stakes"`
}

// Fired returns the names of the boolean features that are set, in a
// stable order.
func (f PromptFeatures) Fired() []string {
	fired := make([]string, 0, 7)
	for _, flag := range f.flags() {
		if flag.value {
			fired = append(fired, flag.name)
		}
	}
	return fired
}

// ToMap renders the record with the same keys as its JSON form
func (f PromptFeatures) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"length_chars": f.LengthChars,
		"length_words": f.LengthWords,
	}
	for _, flag := range f.flags() {
		m[flag.name] = flag.value
	}
	return m
}

type namedFlag struct {
	name  string
	value bool
}

func (f PromptFeatures) flags() []namedFlag {
	return []namedFlag{
		{NameCodeBlock, f.HasCodeBlock},
		{NameStackTrace, f.HasStackTrace},
		{NameMultiPart, f.MultiPart},
		{NameStrictFormat, f.StrictFormat},
		{NameFreshnessNeed, f.FreshnessNeed},
		{NameHardReasoning, f.HardReasoning},
		{NameHighStakes, f.HighStakes},
	}
}

var (
	stackTracePatterns = compile(
		`traceback`,
		`stack\s*trace`,
		`exception`,
		`nullpointerexception`,
		`segfault`,
		`segmentation\s*fault`,
		`error\s*at\s*line`,
		`at\s+[\w\.]+\([\w\.]+:\d+\)`,
		`file\s+"[^"]+",\s*line\s+\d+`,
	)

	multiPartPatterns = compile(
		`1\)\s*\w`,
		`2\)\s*\w`,
		`3\)\s*\w`,
		`\b(first|second|third|fourth|fifth)\b`,
		`\b(firstly|secondly|thirdly)\b`,
		`step\s*1\b`,
		`step\s*2\b`,
		`part\s*1\b`,
		`part\s*2\b`,
	)

	strictFormatPatterns = compile(
		`\bjson\b`,
		`\bschema\b`,
		`exact\s*format`,
		`only\s*output`,
		`\brfc\b`,
		`must\s*validate`,
		`strict\s*format`,
		`output\s*only`,
		`respond\s*only\s*with`,
		`return\s*only`,
	)

	freshnessPatterns = compile(
		`\blatest\b`,
		`\btoday\b`,
		`\bcurrent\b`,
		`\bright\s*now\b`,
		`\bthis\s*week\b`,
		`\bthis\s*month\b`,
		`\brecently\b`,
		`\b20[2-3]\d\b`,
		`\bnow\b`,
		`\bup\s*to\s*date\b`,
	)

	hardReasoningPatterns = compile(
		`\bprove\b`,
		`\bderive\b`,
		`\boptimize\b`,
		`\bcomplexity\b`,
		`\bedge\s*cases?\b`,
		`\bcorrectness\b`,
		`\barchitecture\b`,
		`\bformal\b`,
		`\btheorem\b`,
		`\bproof\b`,
		`\bmathematically\b`,
		`\bguarantee\b`,
		`\binvariant\b`,
		`\bverify\b`,
		`\bvalidate\b`,
		`\bassume\b`,
		`\bconstraint\b`,
	)

	highStakesPatterns = compile(
		// medical
		`\bmedical\b`,
		`\bdiagnosis\b`,
		`\bdosage\b`,
		`\bprescription\b`,
		`\bsymptoms?\b`,
		`\btreatment\b`,
		`\bmedication\b`,
		`\bhealth\s*condition\b`,
		// legal
		`\blegal\b`,
		`\bcontract\b`,
		`\blawsuit\b`,
		`\blitigation\b`,
		`\battorney\b`,
		`\blawyer\b`,
		`\bcourt\b`,
		`\bliability\b`,
		`\bcompliance\b`,
		// financial
		`\btax\b`,
		`\bfinancial\s*advice\b`,
		`\binvestment\s*advice\b`,
		`\bstock\s*recommendation\b`,
		`\btrade\s*recommendation\b`,
		`\bretirement\s*planning\b`,
		`\bmortgage\b`,
		`\bloan\s*advice\b`,
		// safety
		`\bsafety\s*critical\b`,
		`\bsecurity\s*vulnerability\b`,
		`\bharm\b`,
		`\bdangerous\b`,
	)
)

func compile(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Extract computes PromptFeatures for a prompt. It never fails: an empty
// prompt yields an all-false record.
func Extract(prompt string) PromptFeatures {
	lower := strings.ToLower(prompt)

	return PromptFeatures{
		LengthChars:   utf8.RuneCountInString(prompt),
		LengthWords:   len(strings.Fields(prompt)),
		HasCodeBlock:  strings.Contains(prompt, codeFence),
		HasStackTrace: matchesAny(lower, stackTracePatterns),
		MultiPart:     strings.Count(prompt, "?") >= multiPartQuestionMarks || matchesAny(lower, multiPartPatterns),
		StrictFormat:  matchesAny(lower, strictFormatPatterns),
		FreshnessNeed: matchesAny(lower, freshnessPatterns),
		HardReasoning: matchesAny(lower, hardReasoningPatterns),
		HighStakes:    matchesAny(lower, highStakesPatterns),
	}
}
