package routing

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/services/providers"
	"github.com/nandth/model-router-ai/services/savings"
	"github.com/nandth/model-router-ai/services/tiers"
)

// StreamEventType tags a streaming event
type StreamEventType string

const (
	EventDelta StreamEventType = "delta"
	EventUsage StreamEventType = "usage"
	EventDone  StreamEventType = "done"
	EventError StreamEventType = "error"
)

// streamBuffer is the event channel capacity
const streamBuffer = 64

// StreamSummary closes a successful stream
type StreamSummary struct {
	RequestID   string          `json:"request_id"`
	ModelUsed   string          `json:"model_used"`
	Tier        tiers.ModelTier `json:"tier"`
	TokensUsed  int             `json:"tokens_used"`
	TokensSaved int             `json:"tokens_saved"`
	Cost        float64         `json:"cost"`
	LatencyMs   float64         `json:"latency_ms"`
	Estimated   bool            `json:"usage_estimated"`
}

// StreamEvent is one item of a streamed answer. A stream is a sequence of
// delta events followed by either one usage event and one done event, or
// one error event.
type StreamEvent struct {
	Type  StreamEventType
	Delta string
	Usage *providers.Usage
	Done  *StreamSummary
	Err   error
}

// Stream answers a request incrementally at its initial tier. Streaming
// never self-evaluates or escalates since both need the complete text.
// Configuration errors are returned before any event is produced; every
// later failure, cancellation included, arrives as the terminal error
// event. The channel is closed after the terminal event and must be
// drained by the caller.
func (e *Executor) Stream(ctx context.Context, req Request) (<-chan StreamEvent, *Decision, error) {
	start := time.Now()
	req = normalize(req)

	decision := e.router.Route(req.Prompt, req.ModelHint, req.Mode)
	entry := newLogEntry(req, decision)
	entry.Path = models.RoutePathStream

	provider, err := e.providerFor(ctx, decision.InitialTier)
	if err != nil {
		fillLogEntry(entry, decision, &Result{Path: models.RoutePathStream})
		entry.MarkAsFailed(err.Error(), time.Since(start))
		e.record(ctx, entry)
		return nil, decision, err
	}

	events := make(chan StreamEvent, streamBuffer)
	s := &streamRun{
		exec:     e,
		req:      req,
		decision: decision,
		entry:    entry,
		provider: provider,
		events:   events,
		start:    start,
	}
	go s.run(ctx)

	return events, decision, nil
}

type streamRun struct {
	exec     *Executor
	req      Request
	decision *Decision
	entry    *models.RequestLog
	provider providers.Provider
	events   chan StreamEvent
	start    time.Time

	terminal sync.Once
	text     strings.Builder
	usage    *providers.Usage
}

func (s *streamRun) run(ctx context.Context) {
	defer close(s.events)

	logger := s.exec.logger.With(zap.String("request_id", s.req.RequestID))
	logger.Info("streaming routed request",
		zap.String("tier", s.decision.InitialTier.String()),
		zap.String("model", s.decision.InitialModel),
	)

	err := s.provider.ChatCompletionStream(ctx, &providers.ChatRequest{
		Model:     s.decision.InitialModel,
		Messages:  []providers.Message{providers.UserMessage(s.req.Prompt)},
		MaxTokens: s.req.MaxTokens,
	}, s.onChunk(ctx))

	res := &Result{Path: models.RoutePathStream}
	if err != nil {
		if s.usage != nil {
			res.Usage.StageB = *s.usage
		}
		err = s.exec.fail(StageDirect, s.decision, res, err)

		fillLogEntry(s.entry, s.decision, res)
		s.entry.MarkAsFailed(err.Error(), time.Since(s.start))
		s.exec.record(ctx, s.entry)
		logger.Error("stream failed", zap.Error(err))

		s.finish(StreamEvent{Type: EventError, Err: err})
		return
	}

	usage, estimated := s.finalUsage()
	res.Usage.StageB = usage

	calls := []savings.Call{{
		Model:            s.decision.InitialModel,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}}
	summary := &StreamSummary{
		RequestID:  s.req.RequestID,
		ModelUsed:  s.decision.FinalModel,
		Tier:       s.decision.FinalTier,
		TokensUsed: usage.TotalTokens,
		Cost:       s.exec.savings.EstimateCost(calls),
		Estimated:  estimated,
	}
	if s.decision.Mode == tiers.RouteAuto {
		summary.TokensSaved = s.exec.savings.EstimateTokensSaved(calls)
	}
	latency := time.Since(s.start)
	summary.LatencyMs = float64(latency.Microseconds()) / 1000

	fillLogEntry(s.entry, s.decision, res)
	s.entry.Cost = summary.Cost
	s.entry.TokensSaved = summary.TokensSaved
	s.entry.MarkAsSucceeded(latency)
	s.exec.record(ctx, s.entry)

	logger.Info("stream completed",
		zap.Int("tokens_used", summary.TokensUsed),
		zap.Int("tokens_saved", summary.TokensSaved),
		zap.Bool("usage_estimated", estimated),
		zap.Duration("latency", latency),
	)

	s.finish(
		StreamEvent{Type: EventUsage, Usage: &usage},
		StreamEvent{Type: EventDone, Done: summary},
	)
}

func (s *streamRun) onChunk(ctx context.Context) providers.StreamCallback {
	return func(chunk providers.StreamChunk) error {
		if chunk.Usage != nil {
			u := *chunk.Usage
			s.usage = &u
		}
		if chunk.Delta == "" {
			return nil
		}
		s.text.WriteString(chunk.Delta)
		if !s.send(ctx, StreamEvent{Type: EventDelta, Delta: chunk.Delta}) {
			return ctx.Err()
		}
		return nil
	}
}

// finalUsage returns the upstream usage or, when the provider sent none, a
// token-counter estimate
func (s *streamRun) finalUsage() (providers.Usage, bool) {
	if s.usage != nil && !s.usage.IsZero() {
		u := *s.usage
		if u.TotalTokens == 0 {
			u.TotalTokens = u.PromptTokens + u.CompletionTokens
		}
		return u, false
	}
	model := s.decision.InitialModel
	u := providers.Usage{
		PromptTokens:     s.exec.counter.Count(model, s.req.Prompt),
		CompletionTokens: s.exec.counter.Count(model, s.text.String()),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u, true
}

// send delivers a delta unless the request is already cancelled
func (s *streamRun) send(ctx context.Context, ev StreamEvent) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish emits the closing events at most once. The sends ignore ctx so a
// cancelled request still ends with its terminal event; consumers must
// drain the channel until it is closed.
func (s *streamRun) finish(events ...StreamEvent) {
	s.terminal.Do(func() {
		for _, ev := range events {
			s.events <- ev
		}
	})
}
