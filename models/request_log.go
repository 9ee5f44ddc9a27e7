package models

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// PromptPreviewLength is the number of prompt characters kept in a log record
const PromptPreviewLength = 120

// RoutePath names the branch of the pipeline a request took
type RoutePath string

const (
	RoutePathDirect         RoutePath = "direct"
	RoutePathStageAAccept   RoutePath = "stage_a_accept"
	RoutePathStageAEscalate RoutePath = "stage_a_escalate"
	RoutePathStream         RoutePath = "stream"
)

// RequestLog is the single record written per routed request, successful
// or not
type RequestLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	RequestID string    `json:"request_id" db:"request_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	ClientIP  string    `json:"client_ip,omitempty" db:"client_ip"`

	// Prompt summary; the full prompt is never stored
	PromptChars   int    `json:"prompt_chars" db:"prompt_chars"`
	PromptWords   int    `json:"prompt_words" db:"prompt_words"`
	PromptPreview string `json:"prompt_preview" db:"prompt_preview"`

	// Routing decision
	Features           json.RawMessage `json:"features" db:"features"`
	Score              int             `json:"score" db:"score"`
	HardTriggerReasons []string        `json:"hard_trigger_reasons" db:"hard_trigger_reasons"`
	RouteMode          string          `json:"route_mode" db:"route_mode"`
	Path               RoutePath       `json:"path" db:"path"`
	InitialTier        string          `json:"initial_tier" db:"initial_tier"`
	FinalTier          string          `json:"final_tier" db:"final_tier"`
	InitialModel       string          `json:"initial_model" db:"initial_model"`
	FinalModel         string          `json:"final_model" db:"final_model"`
	Escalated          bool            `json:"escalated" db:"escalated"`

	// Stage-A self evaluation, set only when Stage A ran
	StageAConfidence     *float64 `json:"stage_a_confidence,omitempty" db:"stage_a_confidence"`
	StageAShouldEscalate *bool    `json:"stage_a_should_escalate,omitempty" db:"stage_a_should_escalate"`
	StageAReasons        []string `json:"stage_a_reasons,omitempty" db:"stage_a_reasons"`
	StageAParseError     bool     `json:"stage_a_parse_error" db:"stage_a_parse_error"`

	// Metrics
	TokensStageA int     `json:"tokens_stage_a" db:"tokens_stage_a"`
	TokensStageB int     `json:"tokens_stage_b" db:"tokens_stage_b"`
	TotalTokens  int     `json:"total_tokens" db:"total_tokens"`
	TokensSaved  int     `json:"tokens_saved" db:"tokens_saved"`
	Cost         float64 `json:"cost" db:"cost"`
	LatencyMs    float64 `json:"latency_ms" db:"latency_ms"`

	Success      bool    `json:"success" db:"success"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
}

// TableName returns the table name for the RequestLog model
func (RequestLog) TableName() string {
	return "request_logs"
}

// NewRequestLog creates a record for a prompt, keeping only its preview
func NewRequestLog(requestID, prompt string) *RequestLog {
	return &RequestLog{
		ID:                 uuid.New(),
		RequestID:          requestID,
		Timestamp:          time.Now().UTC(),
		PromptPreview:      PromptPreview(prompt),
		HardTriggerReasons: []string{},
	}
}

// PromptPreview truncates a prompt to PromptPreviewLength characters,
// appending "..." when anything was cut
func PromptPreview(prompt string) string {
	if utf8.RuneCountInString(prompt) <= PromptPreviewLength {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:PromptPreviewLength]) + "..."
}

// SetStageA records the Stage-A self evaluation; at most five reasons are kept
func (l *RequestLog) SetStageA(confidence float64, shouldEscalate bool, reasons []string, parseError bool) {
	l.StageAConfidence = &confidence
	l.StageAShouldEscalate = &shouldEscalate
	if len(reasons) > 5 {
		reasons = reasons[:5]
	}
	l.StageAReasons = reasons
	l.StageAParseError = parseError
}

// MarkAsSucceeded completes the record for a successful request
func (l *RequestLog) MarkAsSucceeded(latency time.Duration) {
	l.Success = true
	l.LatencyMs = durationMillis(latency)
}

// MarkAsFailed completes the record for a failed request
func (l *RequestLog) MarkAsFailed(errorMessage string, latency time.Duration) {
	l.Success = false
	l.ErrorMessage = &errorMessage
	l.LatencyMs = durationMillis(latency)
}

func durationMillis(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000
	return float64(int64(ms*100+0.5)) / 100
}

// RequestStats aggregates request logs
type RequestStats struct {
	TotalRequests    int64   `json:"total_requests"`
	SuccessfulCount  int64   `json:"successful_requests"`
	FailedCount      int64   `json:"failed_requests"`
	EscalatedCount   int64   `json:"escalated_requests"`
	TotalCost        float64 `json:"total_cost"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalTokensSaved int64   `json:"total_tokens_saved"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	SuccessRate      float64 `json:"success_rate"`
	EscalationRate   float64 `json:"escalation_rate"`
}

// ComputeRates derives the ratio fields from the counters
func (s *RequestStats) ComputeRates() {
	if s.TotalRequests == 0 {
		s.SuccessRate = 0
		s.EscalationRate = 0
		return
	}
	s.SuccessRate = float64(s.SuccessfulCount) / float64(s.TotalRequests)
	s.EscalationRate = float64(s.EscalatedCount) / float64(s.TotalRequests)
}
