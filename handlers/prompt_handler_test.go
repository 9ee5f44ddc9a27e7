package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/middleware"
	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/services"
	"github.com/nandth/model-router-ai/services/prompt"
	"github.com/nandth/model-router-ai/services/providers"
	"github.com/nandth/model-router-ai/services/routing"
	"github.com/nandth/model-router-ai/services/tiers"
)

// MockPipeline is a mock implementation of Pipeline
type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) Execute(ctx context.Context, req routing.Request) (*routing.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*routing.Result), args.Error(1)
}

func (m *MockPipeline) Stream(ctx context.Context, req routing.Request) (<-chan routing.StreamEvent, *routing.Decision, error) {
	args := m.Called(ctx, req)
	var events <-chan routing.StreamEvent
	if ch, ok := args.Get(0).(chan routing.StreamEvent); ok {
		events = ch
	}
	var decision *routing.Decision
	if d, ok := args.Get(1).(*routing.Decision); ok {
		decision = d
	}
	return events, decision, args.Error(2)
}

// fakeBudget records spend in memory
type fakeBudget struct {
	mu       sync.Mutex
	checkErr error
	checked  []float64
	recorded []float64
	limit    float64
}

func (f *fakeBudget) Check(_ context.Context, estimate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, estimate)
	return f.checkErr
}

func (f *fakeBudget) Record(_ context.Context, cost float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, cost)
	return nil
}

func (f *fakeBudget) Status(context.Context) (models.BudgetStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spent := 0.0
	for _, c := range f.recorded {
		spent += c
	}
	return models.NewBudgetStatus(&models.MonthlyBudget{Year: 2024, Month: 5, TotalSpent: spent, RequestCount: int64(len(f.recorded))}, f.limit, true), nil
}

func (f *fakeBudget) SetLimit(limit float64) error {
	if limit < 0 {
		return services.NewDomainError(services.ErrorTypeValidation, "monthly limit cannot be negative", nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return nil
}

func (f *fakeBudget) spend() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.recorded...)
}

// fixedEstimator prices every request the same and remembers the model
type fixedEstimator struct {
	cost  float64
	model string
}

func (e *fixedEstimator) Estimate(model, _ string, _ int) float64 {
	e.model = model
	return e.cost
}

type promptFixture struct {
	handler   *PromptHandler
	pipeline  *MockPipeline
	budget    *fakeBudget
	estimator *fixedEstimator
}

func newPromptFixture(t *testing.T) *promptFixture {
	t.Helper()

	router, err := routing.NewRouter(tiers.MustDefaultTable(), 0, zap.NewNop())
	require.NoError(t, err)

	f := &promptFixture{
		pipeline:  &MockPipeline{},
		budget:    &fakeBudget{limit: 100},
		estimator: &fixedEstimator{cost: 0.01},
	}
	f.handler = NewPromptHandler(
		prompt.NewService(prompt.DefaultConfig(), zap.NewNop()),
		f.pipeline,
		router,
		f.budget,
		f.estimator,
		700,
		zap.NewNop(),
	)
	return f
}

func promptRequest(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := middleware.WithRequestID(req.Context(), "req-123")
	ctx = middleware.WithClientIP(ctx, "10.0.0.1")
	return req.WithContext(ctx)
}

func cheapResult() *routing.Result {
	return &routing.Result{
		RequestID: "req-123",
		Answer:    "Python is a programming language.",
		ModelUsed: "gpt-3.5-turbo",
		Tier:      tiers.Cheap,
		Path:      models.RoutePathStageAAccept,
		Decision: &routing.Decision{
			Mode:        tiers.RouteAuto,
			InitialTier: tiers.Cheap,
			FinalTier:   tiers.Cheap,
			Score:       1,
		},
		Usage: routing.StageUsage{
			StageA: providers.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		},
		TokensSaved: 0,
		Cost:        0.000125,
		Latency:     1500 * time.Microsecond,
	}
}

func TestPromptHandler_HandlePrompt(t *testing.T) {
	f := newPromptFixture(t)

	f.pipeline.On("Execute", mock.Anything, mock.MatchedBy(func(req routing.Request) bool {
		return req.RequestID == "req-123" &&
			req.Prompt == "What is Python?" &&
			req.MaxTokens == 700 &&
			req.Mode == tiers.RouteAuto &&
			req.ClientIP == "10.0.0.1"
	})).Return(cheapResult(), nil)

	w := httptest.NewRecorder()
	f.handler.HandlePrompt(w, promptRequest("/api/prompt", `{"prompt": "What is Python?"}`))

	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data PromptResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

	got := response.Data
	assert.True(t, got.Success)
	assert.Equal(t, "Python is a programming language.", got.ResponseText)
	assert.Equal(t, "gpt-3.5-turbo", got.ModelUsed)
	assert.Equal(t, tiers.Cheap, got.Tier)
	assert.Equal(t, 150, got.TokensUsed)
	assert.Equal(t, 1.5, got.LatencyMs)
	assert.Equal(t, "stage_a_accept", got.RoutingDetails.Path)
	assert.Empty(t, got.RoutingDetails.HardTriggerReasons)
	assert.Nil(t, got.RoutingDetails.StageAConfidence)

	assert.Equal(t, "gpt-3.5-turbo", f.estimator.model, "budget is priced at the initial tier")
	assert.Equal(t, []float64{0.01}, f.budget.checked)
	assert.Equal(t, []float64{0.000125}, f.budget.spend())
	f.pipeline.AssertExpectations(t)
}

func TestPromptHandler_Rejections(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		budgetErr    error
		expectedCode int
		expectedErr  string
	}{
		{"empty body", ``, nil, http.StatusBadRequest, "bad_request"},
		{"missing prompt", `{}`, nil, http.StatusBadRequest, "bad_request"},
		{"whitespace prompt", `{"prompt": " \n\t "}`, nil, http.StatusBadRequest, CodeInvalidPrompt},
		{"max tokens too large", `{"prompt": "hi", "max_tokens": 4001}`, nil, http.StatusBadRequest, "bad_request"},
		{"unknown route mode", `{"prompt": "hi", "route_mode": "cheapest"}`, nil, http.StatusBadRequest, "bad_request"},
		{
			name:         "budget exceeded",
			body:         `{"prompt": "hi"}`,
			budgetErr:    services.NewDomainError(services.ErrorTypeBudget, "monthly budget exceeded", nil),
			expectedCode: http.StatusPaymentRequired,
			expectedErr:  CodeBudgetExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPromptFixture(t)
			f.budget.checkErr = tt.budgetErr

			w := httptest.NewRecorder()
			f.handler.HandlePrompt(w, promptRequest("/api/prompt", tt.body))

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.Equal(t, tt.expectedErr, decodeError(t, w).Code)
			f.pipeline.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
			assert.Empty(t, f.budget.spend())
		})
	}
}

func TestPromptHandler_ExecutionFailure(t *testing.T) {
	f := newPromptFixture(t)
	f.pipeline.On("Execute", mock.Anything, mock.Anything).
		Return(nil, &routing.ExecutionError{Stage: routing.StageA, Err: errors.New("connection reset")})

	w := httptest.NewRecorder()
	f.handler.HandlePrompt(w, promptRequest("/api/prompt", `{"prompt": "hi"}`))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, CodeUpstreamError, body.Code)
	assert.Equal(t, executionFailedMessage, body.Message)
	assert.Equal(t, "req-123", body.Details["request_id"])
	assert.Empty(t, f.budget.spend(), "failed requests are not charged")
}

func TestPromptHandler_ForcedRoute(t *testing.T) {
	f := newPromptFixture(t)
	f.pipeline.On("Execute", mock.Anything, mock.MatchedBy(func(req routing.Request) bool {
		return req.Mode == tiers.RouteForce && req.ModelHint == "gpt-4" && req.MaxTokens == 50
	})).Return(cheapResult(), nil)

	w := httptest.NewRecorder()
	f.handler.HandlePrompt(w, promptRequest("/api/prompt",
		`{"prompt": "hi", "model": "gpt-4", "route_mode": "force", "max_tokens": 50}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gpt-4", f.estimator.model)
	f.pipeline.AssertExpectations(t)
}

// sseFrames splits an event stream body into (event, data) pairs
func sseFrames(t *testing.T, body string) [][2]string {
	t.Helper()
	var frames [][2]string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		lines := strings.SplitN(block, "\n", 2)
		require.Len(t, lines, 2, "frame %q", block)
		frames = append(frames, [2]string{
			strings.TrimPrefix(lines[0], "event: "),
			strings.TrimPrefix(lines[1], "data: "),
		})
	}
	return frames
}

func TestPromptHandler_HandleStream(t *testing.T) {
	f := newPromptFixture(t)

	events := make(chan routing.StreamEvent, 8)
	usage := providers.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}
	events <- routing.StreamEvent{Type: routing.EventDelta, Delta: "Hello"}
	events <- routing.StreamEvent{Type: routing.EventDelta, Delta: " world"}
	events <- routing.StreamEvent{Type: routing.EventUsage, Usage: &usage}
	events <- routing.StreamEvent{Type: routing.EventDone, Done: &routing.StreamSummary{
		RequestID: "req-123",
		ModelUsed: "gpt-3.5-turbo",
		Tier:      tiers.Cheap,
		Cost:      0.00002,
	}}
	close(events)

	f.pipeline.On("Stream", mock.Anything, mock.Anything).Return(events, &routing.Decision{}, nil)

	w := httptest.NewRecorder()
	f.handler.HandleStream(w, promptRequest("/api/prompt/stream", `{"prompt": "Say hello"}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	frames := sseFrames(t, w.Body.String())
	require.Len(t, frames, 4)
	assert.Equal(t, [2]string{"delta", `{"text":"Hello"}`}, frames[0])
	assert.Equal(t, [2]string{"delta", `{"text":" world"}`}, frames[1])
	assert.Equal(t, "usage", frames[2][0])
	assert.Equal(t, "done", frames[3][0])

	var summary routing.StreamSummary
	require.NoError(t, json.Unmarshal([]byte(frames[3][1]), &summary))
	assert.Equal(t, "gpt-3.5-turbo", summary.ModelUsed)

	assert.Equal(t, []float64{0.00002}, f.budget.spend())
}

func TestPromptHandler_HandleStreamError(t *testing.T) {
	f := newPromptFixture(t)

	events := make(chan routing.StreamEvent, 2)
	events <- routing.StreamEvent{Type: routing.EventDelta, Delta: "Hel"}
	events <- routing.StreamEvent{Type: routing.EventError, Err: &routing.ExecutionError{
		Stage: routing.StageDirect,
		Err:   errors.New("stream interrupted: upstream key sk-secret"),
	}}
	close(events)

	f.pipeline.On("Stream", mock.Anything, mock.Anything).Return(events, &routing.Decision{}, nil)

	w := httptest.NewRecorder()
	f.handler.HandleStream(w, promptRequest("/api/prompt/stream", `{"prompt": "Say hello"}`))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-secret")

	frames := sseFrames(t, w.Body.String())
	require.Len(t, frames, 2)
	assert.Equal(t, "error", frames[1][0])

	var body struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[1][1]), &body))
	assert.Equal(t, CodeUpstreamError, body.Code)
	assert.Equal(t, executionFailedMessage, body.Message)
	assert.Equal(t, "req-123", body.Details["request_id"])
	assert.Empty(t, f.budget.spend())
}

func TestPromptHandler_HandleStreamNotConfigured(t *testing.T) {
	f := newPromptFixture(t)
	f.pipeline.On("Stream", mock.Anything, mock.Anything).
		Return(nil, &routing.Decision{}, services.ErrProviderNotConfigured)

	w := httptest.NewRecorder()
	f.handler.HandleStream(w, promptRequest("/api/prompt/stream", `{"prompt": "hi"}`))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, CodeServiceUnavailable, decodeError(t, w).Code)
}
