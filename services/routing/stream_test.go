package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/services"
	"github.com/nandth/model-router-ai/services/providers"
	"github.com/nandth/model-router-ai/services/tiers"
)

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()

	var out []StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

func eventTypes(events []StreamEvent) []StreamEventType {
	types := make([]StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestStream_Success(t *testing.T) {
	u := usage(12, 3)
	provider := &fakeProvider{chunks: []providers.StreamChunk{
		{Delta: "Hel"},
		{Delta: "lo"},
		{Usage: &u},
	}}
	exec, recorder := newTestExecutor(t, provider)

	events, decision, err := exec.Stream(context.Background(), Request{Prompt: midPrompt})
	require.NoError(t, err)
	assert.Equal(t, tiers.Mid, decision.InitialTier)

	got := collect(t, events)
	assert.Equal(t, []StreamEventType{EventDelta, EventDelta, EventUsage, EventDone}, eventTypes(got))
	assert.Equal(t, "Hel", got[0].Delta)
	assert.Equal(t, 15, got[2].Usage.TotalTokens)

	done := got[3].Done
	require.NotNil(t, done)
	assert.Equal(t, "gpt-4", done.ModelUsed)
	assert.Equal(t, 15, done.TokensUsed)
	assert.False(t, done.Estimated)
	assert.Equal(t, 0, done.TokensSaved, "gpt-4 is the baseline")

	calls := provider.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 1, "streaming never self-evaluates")

	entries := recorder.all()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, models.RoutePathStream, entries[0].Path)
	assert.False(t, entries[0].Escalated)
}

func TestStream_EstimatesMissingUsage(t *testing.T) {
	provider := &fakeProvider{chunks: []providers.StreamChunk{{Delta: "abcdefgh"}}}
	exec, _ := newTestExecutor(t, provider)

	events, _, err := exec.Stream(context.Background(), Request{Prompt: simplePrompt})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)

	// "What is Python?" is 15 chars -> 4 tokens; "abcdefgh" -> 2 tokens
	assert.Equal(t, providers.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}, *got[1].Usage)
	assert.True(t, got[2].Done.Estimated)
	assert.Greater(t, got[2].Done.TokensSaved, 0)
}

func TestStream_UpstreamFailureEndsWithSingleError(t *testing.T) {
	provider := &fakeProvider{
		chunks:    []providers.StreamChunk{{Delta: "partial"}},
		streamErr: errors.New("connection reset"),
	}
	exec, recorder := newTestExecutor(t, provider)

	events, _, err := exec.Stream(context.Background(), Request{Prompt: simplePrompt})
	require.NoError(t, err)

	got := collect(t, events)
	assert.Equal(t, []StreamEventType{EventDelta, EventError}, eventTypes(got))
	assert.True(t, services.IsExecutionError(got[1].Err))

	entries := recorder.all()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

// cancellingProvider streams its chunks, then cancels the request context
type cancellingProvider struct {
	fakeProvider
	cancel context.CancelFunc
	failed bool
}

func (p *cancellingProvider) ChatCompletionStream(ctx context.Context, req *providers.ChatRequest, callback providers.StreamCallback) error {
	if err := p.fakeProvider.ChatCompletionStream(ctx, req, callback); err != nil {
		return err
	}
	p.cancel()
	if p.failed {
		return ctx.Err()
	}
	return nil
}

func TestStream_CancelledRequestStillTerminates(t *testing.T) {
	u := usage(5, 2)

	for i := 0; i < 50; i++ {
		t.Run("upstream aborted", func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			provider := &cancellingProvider{
				fakeProvider: fakeProvider{chunks: []providers.StreamChunk{{Delta: "partial"}}},
				cancel:       cancel,
				failed:       true,
			}
			exec, _ := newTestExecutor(t, provider)

			events, _, err := exec.Stream(ctx, Request{Prompt: simplePrompt})
			require.NoError(t, err)

			got := collect(t, events)
			require.NotEmpty(t, got)
			assert.Equal(t, EventError, got[len(got)-1].Type)
			assert.True(t, services.IsExecutionError(got[len(got)-1].Err))
		})

		t.Run("upstream completed", func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			provider := &cancellingProvider{
				fakeProvider: fakeProvider{chunks: []providers.StreamChunk{{Delta: "done"}, {Usage: &u}}},
				cancel:       cancel,
			}
			exec, _ := newTestExecutor(t, provider)

			events, _, err := exec.Stream(ctx, Request{Prompt: simplePrompt})
			require.NoError(t, err)

			got := collect(t, events)
			assert.Equal(t, []StreamEventType{EventDelta, EventUsage, EventDone}, eventTypes(got))
		})
	}
}

func TestStream_ConfigurationErrorBeforeEvents(t *testing.T) {
	exec, recorder := newTestExecutor(t, nil)

	events, decision, err := exec.Stream(context.Background(), Request{Prompt: simplePrompt})

	assert.Nil(t, events)
	require.NotNil(t, decision)
	assert.True(t, services.IsConfigurationError(err))
	assert.Len(t, recorder.all(), 1)
}
