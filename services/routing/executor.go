package routing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/services"
	"github.com/nandth/model-router-ai/services/providers"
	"github.com/nandth/model-router-ai/services/savings"
	"github.com/nandth/model-router-ai/services/selfeval"
	"github.com/nandth/model-router-ai/services/tiers"
	"github.com/nandth/model-router-ai/services/tokens"
)

// DefaultMaxTokens is used when a request does not set an output limit
const DefaultMaxTokens = 1000

// Recorder receives the one log record written per request
type Recorder interface {
	Record(ctx context.Context, entry *models.RequestLog)
}

// Request is one prompt to be answered by the pipeline
type Request struct {
	RequestID string
	Prompt    string
	ModelHint string
	MaxTokens int
	Mode      tiers.RouteMode
	ClientIP  string
}

// StageUsage is the token usage per call. On the direct path the single
// call is accounted as StageB, matching the stage that produced the answer.
type StageUsage struct {
	StageA providers.Usage `json:"stage_a"`
	StageB providers.Usage `json:"stage_b"`
}

// Total returns the usage summed over both stages
func (u StageUsage) Total() providers.Usage {
	return u.StageA.Add(u.StageB)
}

// Result is a successfully answered request
type Result struct {
	RequestID   string           `json:"request_id"`
	Answer      string           `json:"response_text"`
	ModelUsed   string           `json:"model_used"`
	Tier        tiers.ModelTier  `json:"tier"`
	Path        models.RoutePath `json:"path"`
	Decision    *Decision        `json:"decision"`
	Usage       StageUsage       `json:"usage"`
	TokensSaved int              `json:"tokens_saved"`
	Cost        float64          `json:"cost"`
	Latency     time.Duration    `json:"latency"`
}

// Executor runs the routing pipeline:
//
//	ROUTE_DECIDED -> DIRECT_CALL
//	ROUTE_DECIDED -> STAGE_A -> ACCEPT
//	ROUTE_DECIDED -> STAGE_A -> ESCALATE -> STAGE_B
//
// Calls are issued sequentially; Stage B is built from the parsed Stage-A
// reply.
type Executor struct {
	router    *Router
	providers *providers.Registry
	savings   *savings.Estimator
	counter   tokens.Counter
	recorder  Recorder
	logger    *zap.Logger
}

// NewExecutor creates an executor. counter and recorder may be nil.
func NewExecutor(
	router *Router,
	registry *providers.Registry,
	estimator *savings.Estimator,
	counter tokens.Counter,
	recorder Recorder,
	logger *zap.Logger,
) *Executor {
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		router:    router,
		providers: registry,
		savings:   estimator,
		counter:   counter,
		recorder:  recorder,
		logger:    logger,
	}
}

// Router returns the router the executor decides with
func (e *Executor) Router() *Router {
	return e.router
}

// Execute answers a request. Provider failures abort the pipeline with an
// *ExecutionError; a missing provider is a configuration error. Exactly one
// log record is written whatever the outcome.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	req = normalize(req)

	decision := e.router.Route(req.Prompt, req.ModelHint, req.Mode)
	entry := newLogEntry(req, decision)

	e.logger.Info("executing routed request",
		zap.String("request_id", req.RequestID),
		zap.String("route_mode", string(decision.Mode)),
		zap.String("initial_tier", decision.InitialTier.String()),
		zap.Int("score", decision.Score),
	)

	result := &Result{
		RequestID: req.RequestID,
		Decision:  decision,
	}

	var err error
	if decision.UsesSelfEval() {
		err = e.runTwoStage(ctx, req, decision, result)
	} else {
		err = e.runDirect(ctx, req, decision, result)
	}

	result.Latency = time.Since(start)
	fillLogEntry(entry, decision, result)

	if err != nil {
		entry.MarkAsFailed(err.Error(), result.Latency)
		e.record(ctx, entry)
		e.logger.Error("routed request failed",
			zap.String("request_id", req.RequestID),
			zap.String("path", string(result.Path)),
			zap.Int("tokens_used", result.Usage.Total().TotalTokens),
			zap.Error(err),
		)
		return nil, err
	}

	calls := e.calls(decision, result)
	result.Cost = e.savings.EstimateCost(calls)
	if decision.Mode == tiers.RouteAuto {
		result.TokensSaved = e.savings.EstimateTokensSaved(calls)
	}
	entry.Cost = result.Cost
	entry.TokensSaved = result.TokensSaved

	entry.MarkAsSucceeded(result.Latency)
	e.record(ctx, entry)

	e.logger.Info("routed request completed",
		zap.String("request_id", req.RequestID),
		zap.String("path", string(result.Path)),
		zap.String("final_model", result.ModelUsed),
		zap.Bool("escalated", decision.Escalated),
		zap.Int("tokens_used", result.Usage.Total().TotalTokens),
		zap.Int("tokens_saved", result.TokensSaved),
		zap.Duration("latency", result.Latency),
	)
	return result, nil
}

func (e *Executor) runDirect(ctx context.Context, req Request, d *Decision, res *Result) error {
	res.Path = models.RoutePathDirect

	resp, err := e.call(ctx, d.InitialTier, d.InitialModel, req.MaxTokens, []providers.Message{
		providers.UserMessage(req.Prompt),
	})
	if err != nil {
		return e.fail(StageDirect, d, res, err)
	}

	res.Usage.StageB = resp.Usage
	res.Answer = resp.Content
	res.ModelUsed = d.FinalModel
	res.Tier = d.FinalTier
	return nil
}

func (e *Executor) runTwoStage(ctx context.Context, req Request, d *Decision, res *Result) error {
	res.Path = models.RoutePathStageAAccept

	stageA, err := e.call(ctx, d.InitialTier, d.InitialModel, req.MaxTokens, []providers.Message{
		providers.SystemMessage(selfeval.SystemPrompt),
		providers.UserMessage(req.Prompt),
	})
	if err != nil {
		return e.fail(StageA, d, res, err)
	}
	res.Usage.StageA = stageA.Usage

	parsed := selfeval.Parse(stageA.Content)
	if !parsed.Ok() {
		e.logger.Warn("stage A self-evaluation did not parse, escalating",
			zap.String("request_id", req.RequestID),
			zap.Error(parsed.Err),
		)
	}
	d.recordSelfEval(parsed.Eval)

	if !selfeval.ShouldEscalate(parsed.Eval) {
		res.Answer = parsed.Eval.Answer
		res.ModelUsed = d.FinalModel
		res.Tier = d.FinalTier
		return nil
	}

	d.escalate(e.router.Table())
	res.Path = models.RoutePathStageAEscalate

	e.logger.Debug("escalating request",
		zap.String("request_id", req.RequestID),
		zap.String("from_tier", d.InitialTier.String()),
		zap.String("to_tier", d.FinalTier.String()),
		zap.Float64("confidence", parsed.Eval.Confidence),
		zap.Bool("model_requested", parsed.Eval.ShouldEscalate),
	)

	stageB, err := e.call(ctx, d.FinalTier, d.FinalModel, req.MaxTokens, []providers.Message{
		providers.SystemMessage(selfeval.EscalationContext(d.Score, d.Features.Fired(), parsed.Eval)),
		providers.UserMessage(req.Prompt),
	})
	if err != nil {
		return e.fail(StageB, d, res, err)
	}

	res.Usage.StageB = stageB.Usage
	res.Answer = stageB.Content
	res.ModelUsed = d.FinalModel
	res.Tier = d.FinalTier
	return nil
}

// call resolves the provider serving tier and issues one completion
func (e *Executor) call(ctx context.Context, tier tiers.ModelTier, model string, maxTokens int, messages []providers.Message) (*providers.ChatResponse, error) {
	provider, err := e.providerFor(ctx, tier)
	if err != nil {
		return nil, err
	}

	resp, err := provider.ChatCompletion(ctx, &providers.ChatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	if resp.Usage.TotalTokens == 0 && (resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0) {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return resp, nil
}

func (e *Executor) providerFor(ctx context.Context, tier tiers.ModelTier) (providers.Provider, error) {
	tag := e.router.Table().Get(tier).Provider
	provider, err := e.providers.GetProvider(tag)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration, "no model provider configured", err).
			WithDetail("provider", tag).
			WithDetail("tier", tier.String())
	}
	if !provider.IsAvailable(ctx) {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration, "model provider is missing credentials", nil).
			WithDetail("provider", tag)
	}
	return provider, nil
}

// fail wraps provider errors as an ExecutionError; configuration errors are
// returned as they are
func (e *Executor) fail(stage string, d *Decision, res *Result, err error) error {
	if services.IsConfigurationError(err) {
		return err
	}
	return &ExecutionError{
		Stage:    stage,
		Decision: d,
		Usage:    res.Usage,
		Err:      err,
	}
}

func (e *Executor) calls(d *Decision, res *Result) []savings.Call {
	var calls []savings.Call
	if !res.Usage.StageA.IsZero() {
		calls = append(calls, savings.Call{
			Model:            d.InitialModel,
			PromptTokens:     res.Usage.StageA.PromptTokens,
			CompletionTokens: res.Usage.StageA.CompletionTokens,
		})
	}
	if !res.Usage.StageB.IsZero() {
		calls = append(calls, savings.Call{
			Model:            d.FinalModel,
			PromptTokens:     res.Usage.StageB.PromptTokens,
			CompletionTokens: res.Usage.StageB.CompletionTokens,
		})
	}
	return calls
}

func (e *Executor) record(ctx context.Context, entry *models.RequestLog) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(context.WithoutCancel(ctx), entry)
}

func normalize(req Request) Request {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Mode == "" {
		req.Mode = tiers.RouteAuto
	}
	return req
}

func newLogEntry(req Request, d *Decision) *models.RequestLog {
	entry := models.NewRequestLog(req.RequestID, req.Prompt)
	entry.ClientIP = req.ClientIP
	entry.PromptChars = d.Features.LengthChars
	entry.PromptWords = d.Features.LengthWords
	if data, err := json.Marshal(d.Features); err == nil {
		entry.Features = data
	}
	entry.Score = d.Score
	entry.HardTriggerReasons = d.HardTriggers.Reasons
	entry.RouteMode = string(d.Mode)
	entry.InitialTier = d.InitialTier.String()
	entry.InitialModel = d.InitialModel
	return entry
}

func fillLogEntry(entry *models.RequestLog, d *Decision, res *Result) {
	entry.Path = res.Path
	entry.FinalTier = d.FinalTier.String()
	entry.FinalModel = d.FinalModel
	entry.Escalated = d.Escalated
	if d.SelfEval != nil {
		entry.SetStageA(d.SelfEval.Confidence, d.SelfEval.ShouldEscalate, d.SelfEval.Reasons, d.SelfEval.ParseError)
	}
	entry.TokensStageA = res.Usage.StageA.TotalTokens
	entry.TokensStageB = res.Usage.StageB.TotalTokens
	entry.TotalTokens = res.Usage.Total().TotalTokens
}
