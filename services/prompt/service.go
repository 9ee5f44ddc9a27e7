// Package prompt cleans caller prompts before they reach the router:
// line endings are normalized, control characters dropped and size limits
// enforced. Credential-like strings are flagged and optionally redacted;
// instruction-override phrasing is flagged but never blocked.
package prompt

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/services"
)

// DefaultMaxChars accommodates large pasted code snippets
const DefaultMaxChars = 50000

// controlChars keeps tab, LF and CR (CR is normalized away first)
var controlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")

// Config holds configuration for prompt validation
type Config struct {
	MaxChars         int
	DetectSecrets    bool
	RedactSecrets    bool
	SecretConfidence float64
	DetectInjection  bool
}

// DefaultConfig returns the default validation configuration
func DefaultConfig() Config {
	return Config{
		MaxChars:         DefaultMaxChars,
		DetectSecrets:    true,
		RedactSecrets:    false,
		SecretConfidence: 0.8,
		DetectInjection:  true,
	}
}

// ValidationResult is an accepted prompt
type ValidationResult struct {
	Prompt     string
	Warnings   []string
	Secrets    []SecretDetection
	Injections []InjectionDetection
}

// Service validates and sanitizes prompts
type Service struct {
	config Config
	logger *zap.Logger
}

// NewService creates a prompt service
func NewService(config Config, logger *zap.Logger) *Service {
	if config.MaxChars <= 0 {
		config.MaxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{config: config, logger: logger}
}

// MaxChars returns the configured prompt size limit
func (s *Service) MaxChars() int {
	return s.config.MaxChars
}

// Sanitize normalizes CRLF and CR to LF and drops control characters.
// Tabs, newlines, quotes and backticks are preserved.
func Sanitize(prompt string) string {
	prompt = strings.ReplaceAll(prompt, "\r\n", "\n")
	prompt = strings.ReplaceAll(prompt, "\r", "\n")
	return controlChars.ReplaceAllString(prompt, "")
}

// Validate sanitizes a prompt and rejects it when it is blank or longer
// than the limit. The length check applies to the sanitized text.
func (s *Service) Validate(ctx context.Context, prompt string) (*ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := Sanitize(prompt)
	if strings.TrimSpace(clean) == "" {
		return nil, services.ErrEmptyPrompt
	}
	if n := utf8.RuneCountInString(clean); n > s.config.MaxChars {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "prompt exceeds maximum length", nil).
			WithDetail("max_chars", s.config.MaxChars).
			WithDetail("length", n)
	}

	result := &ValidationResult{Prompt: clean, Warnings: []string{}}

	if s.config.DetectInjection {
		if result.Injections = DetectInjections(clean); len(result.Injections) > 0 {
			result.Warnings = append(result.Warnings, "prompt contains instruction-override phrasing")
			s.logger.Warn("instruction-override phrasing in prompt",
				zap.Strings("injection_types", injectionTypes(result.Injections)))
		}
	}

	if !s.config.DetectSecrets {
		return result, nil
	}

	result.Secrets = HighConfidenceSecrets(clean, s.config.SecretConfidence)
	if len(result.Secrets) == 0 {
		return result, nil
	}

	types := make([]string, 0, len(result.Secrets))
	for _, d := range result.Secrets {
		types = append(types, string(d.Type))
	}
	result.Warnings = append(result.Warnings, "prompt appears to contain credentials")
	s.logger.Warn("credential-like content in prompt",
		zap.Strings("secret_types", types),
		zap.Bool("redacted", s.config.RedactSecrets),
	)

	if s.config.RedactSecrets {
		result.Prompt = RedactSecrets(clean, s.config.SecretConfidence)
	}
	return result, nil
}
