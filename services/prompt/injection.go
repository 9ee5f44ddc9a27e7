package prompt

import (
	"regexp"
	"sort"
)

// InjectionType names a class of instruction-override phrasing
type InjectionType string

const (
	InjectionTypeSystemPromptLeak    InjectionType = "system_prompt_leak"
	InjectionTypeInstructionOverride InjectionType = "instruction_override"
	InjectionTypeJailbreak           InjectionType = "jailbreak"
	InjectionTypeDelimiter           InjectionType = "delimiter"
)

// InjectionDetection is one suspicious span. Detections only produce
// warnings; code-heavy prompts legitimately contain many of these words.
type InjectionDetection struct {
	Type       InjectionType
	StartPos   int
	EndPos     int
	Confidence float64
}

type injectionRule struct {
	kind       InjectionType
	pattern    *regexp.Regexp
	confidence float64
}

var injectionRules = []injectionRule{
	{InjectionTypeSystemPromptLeak, regexp.MustCompile(`(?i)\b(?:show|reveal|print|repeat)\s+(?:me\s+)?(?:your|the)\s+(?:system|original|initial|hidden)\s+(?:prompt|instructions?)`), 0.9},
	{InjectionTypeInstructionOverride, regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget)\s+(?:all\s+|any\s+)?(?:previous|prior|above|earlier)\s+(?:instructions?|prompts?|rules)`), 0.9},
	{InjectionTypeInstructionOverride, regexp.MustCompile(`(?i)\boverride\s+(?:all\s+|the\s+)?(?:system|previous)\s+(?:instructions?|rules|settings)`), 0.85},
	{InjectionTypeJailbreak, regexp.MustCompile(`(?i)\b(?:DAN|developer|god|unrestricted)\s+mode\b`), 0.85},
	{InjectionTypeJailbreak, regexp.MustCompile(`(?i)\bwithout\s+(?:any\s+)?(?:ethical|moral)\s+(?:restrictions?|limitations?|guidelines?)`), 0.8},
	{InjectionTypeDelimiter, regexp.MustCompile(`<\|(?:system|user|assistant|im_start|im_end|end)\|>|\[/?(?:SYSTEM|INST)\]`), 0.8},
}

// DetectInjections returns instruction-override phrasing in text ordered
// by position
func DetectInjections(text string) []InjectionDetection {
	var found []InjectionDetection
	for _, rule := range injectionRules {
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			found = append(found, InjectionDetection{
				Type:       rule.kind,
				StartPos:   loc[0],
				EndPos:     loc[1],
				Confidence: rule.confidence,
			})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].StartPos < found[j].StartPos })
	return found
}

// injectionTypes lists the distinct detected types in first-seen order
func injectionTypes(found []InjectionDetection) []string {
	seen := make(map[InjectionType]bool, len(found))
	var out []string
	for _, d := range found {
		if !seen[d.Type] {
			seen[d.Type] = true
			out = append(out, string(d.Type))
		}
	}
	return out
}
