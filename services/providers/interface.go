package providers

import (
	"context"
	"errors"
	"net"
	"time"
)

// Provider is the model-call collaborator used by the routing executor.
// One implementation exists per provider tag (e.g. "openai").
type Provider interface {
	// Name returns the provider tag this implementation serves
	Name() string

	// ChatCompletion performs a single, non-streaming chat completion
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatCompletionStream performs a streaming chat completion. The
	// callback is invoked for every chunk in arrival order; a non-nil
	// error from the callback stops the stream.
	ChatCompletionStream(ctx context.Context, req *ChatRequest, callback StreamCallback) error

	// IsAvailable reports whether the provider has usable credentials
	IsAvailable(ctx context.Context) bool
}

// ChatRequest represents a unified chat completion request
type ChatRequest struct {
	// Model identifier (e.g., "gpt-3.5-turbo", "gpt-4")
	Model string `json:"model"`

	// Messages in the conversation
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// SystemMessage builds a system-role message
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user-role message
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// ChatResponse represents a unified chat completion response
type ChatResponse struct {
	ID           string        `json:"id"`
	Model        string        `json:"model"`
	Content      string        `json:"content"`
	FinishReason string        `json:"finish_reason"`
	Usage        Usage         `json:"usage"`
	Provider     string        `json:"provider"`
	Latency      time.Duration `json:"latency"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usage records
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// IsZero reports whether no tokens were recorded
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// StreamChunk is one event of a streaming completion: either a text delta
// or the trailing usage record.
type StreamChunk struct {
	Delta string
	Usage *Usage
}

// StreamCallback is called for each chunk in a streaming response
type StreamCallback func(chunk StreamChunk) error

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout bounds every outbound request
	Timeout time.Duration

	// MaxRetries is the attempt cap for transient failures
	MaxRetries int

	// RetryDelay is the base backoff delay
	RetryDelay time.Duration

	// RequestsPerSecond paces outbound calls; zero disables pacing
	RequestsPerSecond float64
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    60 * time.Second,
		MaxRetries: DefaultMaxAttempts,
		RetryDelay: 500 * time.Millisecond,
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable marks transient failures (network, timeout, 5xx, 429)
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is transient. Provider errors carry the
// flag explicitly; bare network and deadline errors are treated as
// transient. Caller cancellation is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryableStatus classifies an HTTP status code
func IsRetryableStatus(statusCode int) bool {
	return statusCode == 429 || statusCode >= 500
}
