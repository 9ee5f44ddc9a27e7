package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nandth/model-router-ai/services/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	providerName     = "anthropic"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// AnthropicAdapter implements providers.Provider against the Messages API
type AnthropicAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter
func NewAnthropicAdapter(config providers.ProviderConfig) *AnthropicAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &AnthropicAdapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name
func (a *AnthropicAdapter) Name() string {
	return providerName
}

// IsAvailable reports whether an API key is configured
func (a *AnthropicAdapter) IsAvailable(ctx context.Context) bool {
	return a.config.APIKey != ""
}

// ChatCompletion performs a Messages API call
func (a *AnthropicAdapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	httpResp, err := a.do(ctx, buildMessagesRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "failed to read response", httpResp.StatusCode, true, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, body)
	}

	var msgResp MessagesResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "failed to unmarshal response", httpResp.StatusCode, false, err)
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &providers.ChatResponse{
		ID:           msgResp.ID,
		Model:        msgResp.Model,
		Content:      text.String(),
		FinishReason: msgResp.StopReason,
		Provider:     a.Name(),
		Usage: providers.Usage{
			PromptTokens:     msgResp.Usage.InputTokens,
			CompletionTokens: msgResp.Usage.OutputTokens,
			TotalTokens:      msgResp.Usage.InputTokens + msgResp.Usage.OutputTokens,
		},
		Latency: time.Since(startTime),
	}, nil
}

// ChatCompletionStream consumes the Messages SSE stream. Input tokens arrive
// with message_start and output tokens with message_delta; the combined
// usage is reported once at message_stop.
func (a *AnthropicAdapter) ChatCompletionStream(ctx context.Context, req *providers.ChatRequest, callback providers.StreamCallback) error {
	httpResp, err := a.do(ctx, buildMessagesRequest(req, true))
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return a.handleErrorResponse(httpResp.StatusCode, body)
	}

	var usage providers.Usage
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var event StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
			return providers.NewProviderError(a.Name(), "STREAM_DECODE_ERROR", "failed to decode stream event", httpResp.StatusCode, false, err)
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.PromptTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				if err := callback(providers.StreamChunk{Delta: event.Delta.Text}); err != nil {
					return err
				}
			}
		case "message_delta":
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			return callback(providers.StreamChunk{Usage: &usage})
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			return providers.NewProviderError(a.Name(), "STREAM_ERROR", msg, httpResp.StatusCode, true, nil)
		}
	}

	if err := scanner.Err(); err != nil {
		return providers.NewProviderError(a.Name(), "STREAM_READ_ERROR", "stream interrupted", httpResp.StatusCode, true, err)
	}
	return providers.NewProviderError(a.Name(), "STREAM_TRUNCATED", "stream ended without message_stop", httpResp.StatusCode, true, io.ErrUnexpectedEOF)
}

func (a *AnthropicAdapter) do(ctx context.Context, msgReq *MessagesRequest) (*http.Response, error) {
	if a.config.APIKey == "" {
		return nil, providers.NewProviderError(a.Name(), "MISSING_API_KEY", "Anthropic API key not configured", 0, false, nil)
	}

	reqBody, err := json.Marshal(msgReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		retryable := !errors.Is(err, context.Canceled)
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, retryable, err)
	}
	return httpResp, nil
}

// buildMessagesRequest moves system messages into the top-level system field
func buildMessagesRequest(req *providers.ChatRequest, stream bool) *MessagesRequest {
	msgReq := &MessagesRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if msgReq.MaxTokens <= 0 {
		msgReq.MaxTokens = defaultMaxTokens
	}
	if req.Temperature > 0 {
		temperature := req.Temperature
		msgReq.Temperature = &temperature
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		msgReq.Messages = append(msgReq.Messages, Message{Role: msg.Role, Content: msg.Content})
	}
	msgReq.System = strings.Join(system, "\n\n")

	return msgReq
}

func (a *AnthropicAdapter) handleErrorResponse(statusCode int, body []byte) error {
	// 529 is Anthropic's overloaded status
	retryable := providers.IsRetryableStatus(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(statusCode)
		}
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", msg, statusCode, retryable, err)
	}

	return providers.NewProviderError(a.Name(), errResp.Error.Type, errResp.Error.Message, statusCode, retryable,
		fmt.Errorf("anthropic status %d", statusCode))
}

// Anthropic-specific request/response types

type MessagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type MessagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      MessagesUsage  `json:"usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type StreamEvent struct {
	Type    string            `json:"type"`
	Message *MessagesResponse `json:"message,omitempty"`
	Delta   *StreamDelta      `json:"delta,omitempty"`
	Usage   *MessagesUsage    `json:"usage,omitempty"`
	Error   *APIError         `json:"error,omitempty"`
}

type StreamDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ErrorResponse struct {
	Type  string   `json:"type"`
	Error APIError `json:"error"`
}

type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
