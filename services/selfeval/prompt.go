package selfeval

import (
	"fmt"
	"strings"
)

// SystemPrompt instructs the Stage-A model to answer and self-assess in a
// single JSON object.
const SystemPrompt = `You are a helpful AI assistant. Answer the user's question while also self-assessing your response quality.

You MUST respond with a valid JSON object in this exact format:
{
    "answer": "Your complete answer to the user's question here",
    "confidence": 0.0 to 1.0,
    "should_escalate": true or false,
    "reasons": ["reason1", "reason2"]
}

Guidelines for confidence and escalation:
- Set confidence to 0.9-1.0 when you are certain and have clear, factual knowledge
- Set confidence to 0.7-0.9 when you are fairly confident but not completely certain
- Set confidence to 0.5-0.7 when you are uncertain or making educated guesses
- Set confidence below 0.5 when you are guessing or handwaving

Set should_escalate to true when:
- You detect missing information needed for a complete answer
- The requirements are ambiguous or unclear
- The reasoning is complex and you may have made errors
- The question involves high-stakes domains (medical, legal, financial)
- You cannot comply with a strict output format requirement
- You are uncertain about your answer's correctness

Always provide your best answer in the "answer" field, even if you recommend escalation.`

// maxContextReasons limits how many Stage-A reasons are forwarded to Stage B
const maxContextReasons = 3

const escalationContextTemplate = `[Router Context - For Your Information Only]
This request was initially processed by a lighter model which recommended escalation.
Prompt features: score=%d, features=%s
Stage A feedback: confidence=%s, reasons=%s

Please provide your answer directly. Follow any format requirements from the user.
Do not wrap your response in JSON or reference this router context.`

// EscalationContext renders the Stage-B system message. firedFeatures are
// the names of the flags that were set on the prompt.
func EscalationContext(score int, firedFeatures []string, eval SelfEvalResult) string {
	featureText := "none"
	if len(firedFeatures) > 0 {
		parts := make([]string, len(firedFeatures))
		for i, name := range firedFeatures {
			parts[i] = name + "=true"
		}
		featureText = strings.Join(parts, ", ")
	}

	reasons := eval.Reasons
	if len(reasons) > maxContextReasons {
		reasons = reasons[:maxContextReasons]
	}
	reasonText := strings.Join(reasons, "; ")
	if reasonText == "" {
		reasonText = "none"
	}

	confidence := fmt.Sprintf("%.2f", eval.Confidence)
	return fmt.Sprintf(escalationContextTemplate, score, featureText, confidence, reasonText)
}
