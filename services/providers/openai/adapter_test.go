package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nandth/model-router-ai/services/providers"
)

func TestNewOpenAIAdapter(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key"})

	if adapter == nil {
		t.Fatal("NewOpenAIAdapter() returned nil")
	}
	if adapter.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", adapter.Name())
	}
	if adapter.config.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", adapter.config.BaseURL, defaultBaseURL)
	}
	if !adapter.IsAvailable(context.Background()) {
		t.Error("IsAvailable() = false with API key set")
	}
}

func TestOpenAIAdapter_IsAvailable_NoKey(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{})
	if adapter.IsAvailable(context.Background()) {
		t.Error("IsAvailable() = true without API key")
	}

	_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{Model: "gpt-4"})
	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.Code != "MISSING_API_KEY" || provErr.Retryable {
		t.Errorf("unexpected error %+v", provErr)
	}
}

func TestOpenAIAdapter_BuildRequest(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{})

	req := &providers.ChatRequest{
		Model: "gpt-3.5-turbo",
		Messages: []providers.Message{
			providers.SystemMessage("be brief"),
			providers.UserMessage("hello"),
		},
		MaxTokens: 256,
	}

	built := adapter.buildOpenAIRequest(req, false)
	if built.Model != "gpt-3.5-turbo" {
		t.Errorf("Model = %s", built.Model)
	}
	if len(built.Messages) != 2 || built.Messages[0].Role != "system" {
		t.Errorf("unexpected messages %+v", built.Messages)
	}
	if built.MaxTokens == nil || *built.MaxTokens != 256 {
		t.Error("MaxTokens not propagated")
	}
	if built.Temperature != nil {
		t.Error("Temperature should be omitted when zero")
	}
	if built.StreamOptions != nil {
		t.Error("StreamOptions should only be set for streaming")
	}

	streamed := adapter.buildOpenAIRequest(req, true)
	if !streamed.Stream || streamed.StreamOptions == nil || !streamed.StreamOptions.IncludeUsage {
		t.Error("streaming request must ask for usage")
	}
}

func TestOpenAIAdapter_ChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %s", got)
		}

		var body OpenAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Model != "gpt-4" {
			t.Errorf("model = %s", body.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(OpenAIChatResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4",
			Choices: []OpenAIChoice{{
				Message:      OpenAIMessage{Role: "assistant", Content: "Hi there"},
				FinishReason: "stop",
			}},
			Usage: OpenAIUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		})
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key", BaseURL: server.URL + "/"})

	resp, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{
		Model:    "gpt-4",
		Messages: []providers.Message{providers.UserMessage("Hello")},
	})
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
	if resp.Content != "Hi there" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 || resp.Usage.PromptTokens != 12 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.Provider != "openai" {
		t.Errorf("Provider = %s", resp.Provider)
	}
}

func TestOpenAIAdapter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantCode      string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit_error"}}`, true, "rate_limit_error"},
		{"server error", http.StatusBadGateway, `upstream unavailable`, true, "UNKNOWN_ERROR"},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad model","type":"invalid_request_error"}}`, false, "invalid_request_error"},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"auth_error"}}`, false, "auth_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})
			_, err := adapter.ChatCompletion(context.Background(), &providers.ChatRequest{Model: "gpt-4"})

			var provErr *providers.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if provErr.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", provErr.Retryable, tt.wantRetryable)
			}
			if provErr.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", provErr.Code, tt.wantCode)
			}
			if provErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", provErr.StatusCode, tt.status)
			}
		})
	}
}

func TestOpenAIAdapter_ChatCompletionStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
			`data: {"id":"1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`data: {"id":"1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`data: {"id":"1","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
			`data: [DONE]`,
		}
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})

	var text strings.Builder
	var usage *providers.Usage
	err := adapter.ChatCompletionStream(context.Background(), &providers.ChatRequest{Model: "gpt-3.5-turbo"}, func(chunk providers.StreamChunk) error {
		text.WriteString(chunk.Delta)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ChatCompletionStream() error = %v", err)
	}
	if text.String() != "Hello" {
		t.Errorf("text = %q, want Hello", text.String())
	}
	if usage == nil || usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestOpenAIAdapter_ChatCompletionStream_Truncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})
	err := adapter.ChatCompletionStream(context.Background(), &providers.ChatRequest{Model: "gpt-4"}, func(providers.StreamChunk) error {
		return nil
	})

	var provErr *providers.ProviderError
	if !errors.As(err, &provErr) || provErr.Code != "STREAM_TRUNCATED" {
		t.Fatalf("expected truncated stream error, got %v", err)
	}
}

func TestOpenAIAdapter_ChatCompletionStream_CallbackStops(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	stop := errors.New("consumer gone")
	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})

	calls := 0
	err := adapter.ChatCompletionStream(context.Background(), &providers.ChatRequest{Model: "gpt-4"}, func(providers.StreamChunk) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}
