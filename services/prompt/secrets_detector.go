package prompt

import (
	"regexp"
	"sort"
	"strings"
)

// SecretType names a class of credential
type SecretType string

const (
	SecretTypeAWSKey       SecretType = "aws_key"
	SecretTypeGCPKey       SecretType = "gcp_key"
	SecretTypeOpenAIKey    SecretType = "openai_key"
	SecretTypeAnthropicKey SecretType = "anthropic_key"
	SecretTypeGitHubToken  SecretType = "github_token"
	SecretTypeSlackToken   SecretType = "slack_token"
	SecretTypeJWT          SecretType = "jwt"
	SecretTypePrivateKey   SecretType = "private_key"
	SecretTypePassword     SecretType = "password"
	SecretTypeDatabaseURL  SecretType = "database_url"
)

// SecretDetection is one credential-like match
type SecretDetection struct {
	Type       SecretType
	StartPos   int
	EndPos     int
	Confidence float64
}

type secretRule struct {
	kind       SecretType
	pattern    *regexp.Regexp
	confidence float64
}

// Anthropic keys are matched before OpenAI keys since both start with "sk-"
var secretRules = []secretRule{
	{SecretTypeAWSKey, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0.95},
	{SecretTypeGCPKey, regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`), 0.95},
	{SecretTypeAnthropicKey, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}`), 0.95},
	{SecretTypeOpenAIKey, regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}`), 0.9},
	{SecretTypeGitHubToken, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), 0.95},
	{SecretTypeSlackToken, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}`), 0.9},
	{SecretTypeJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`), 0.85},
	{SecretTypePrivateKey, regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), 1.0},
	{SecretTypePassword, regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}`), 0.7},
	{SecretTypeDatabaseURL, regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^\s:@/]+:[^\s@/]+@[^\s]+`), 0.9},
}

// DetectSecrets returns all non-overlapping credential-like matches in
// text ordered by position. When two rules cover the same span the first
// rule wins.
func DetectSecrets(text string) []SecretDetection {
	var found []SecretDetection
	for _, rule := range secretRules {
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			if overlaps(found, loc[0], loc[1]) {
				continue
			}
			found = append(found, SecretDetection{
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

// HighConfidenceSecrets filters DetectSecrets by minimum confidence
func HighConfidenceSecrets(text string, minConfidence float64) []SecretDetection {
	var out []SecretDetection
	for _, d := range DetectSecrets(text) {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out
}

// HasSecrets reports whether text contains anything credential-like
func HasSecrets(text string) bool {
	return len(DetectSecrets(text)) > 0
}

// RedactSecrets replaces every detection at or above minConfidence with a
// typed placeholder such as "[REDACTED_AWS_KEY]"
func RedactSecrets(text string, minConfidence float64) string {
	detections := HighConfidenceSecrets(text, minConfidence)
	if len(detections) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, d := range detections {
		b.WriteString(text[last:d.StartPos])
		b.WriteString("[REDACTED_" + strings.ToUpper(string(d.Type)) + "]")
		last = d.EndPos
	}
	b.WriteString(text[last:])
	return b.String()
}

func overlaps(found []SecretDetection, start, end int) bool {
	for _, d := range found {
		if start < d.EndPos && end > d.StartPos {
			return true
		}
	}
	return false
}
