package routing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/services/providers"
	"github.com/nandth/model-router-ai/services/savings"
	"github.com/nandth/model-router-ai/services/tiers"
)

type reply struct {
	content string
	usage   providers.Usage
	err     error
}

// fakeProvider answers calls from a queue and records every request
type fakeProvider struct {
	mu          sync.Mutex
	unavailable bool
	replies     []reply
	requests    []*providers.ChatRequest

	chunks    []providers.StreamChunk
	streamErr error
}

func (f *fakeProvider) Name() string { return "openai" }

func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return !f.unavailable }

func (f *fakeProvider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if len(f.replies) == 0 {
		return nil, errors.New("unexpected call")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &providers.ChatResponse{Model: req.Model, Content: r.content, Usage: r.usage}, nil
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, req *providers.ChatRequest, callback providers.StreamCallback) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	chunks := f.chunks
	streamErr := f.streamErr
	f.mu.Unlock()

	for _, c := range chunks {
		if err := callback(c); err != nil {
			return err
		}
	}
	return streamErr
}

func (f *fakeProvider) calls() []*providers.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*providers.ChatRequest(nil), f.requests...)
}

// fakeRecorder keeps every log record
type fakeRecorder struct {
	mu      sync.Mutex
	entries []*models.RequestLog
}

func (r *fakeRecorder) Record(ctx context.Context, entry *models.RequestLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *fakeRecorder) all() []*models.RequestLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.RequestLog(nil), r.entries...)
}

func newTestExecutor(t *testing.T, provider providers.Provider) (*Executor, *fakeRecorder) {
	t.Helper()

	table := tiers.MustDefaultTable()
	router, err := NewRouter(table, 16, zap.NewNop())
	require.NoError(t, err)

	registry := providers.NewRegistry()
	if provider != nil {
		require.NoError(t, registry.RegisterProvider(provider))
	}

	recorder := &fakeRecorder{}
	estimator := savings.NewEstimator(savings.TablePricer{Table: table}, "gpt-4")
	return NewExecutor(router, registry, estimator, nil, recorder, zap.NewNop()), recorder
}

func usage(prompt, completion int) providers.Usage {
	return providers.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}
