package providers

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttempts caps attempts per outbound call
	DefaultMaxAttempts = 3

	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 10 * time.Second
	jitterFraction   = 0.25
)

// RetryConfig configures RetryingProvider
type RetryConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerSecond float64
}

// RetryingProvider decorates a Provider with bounded exponential backoff
// for transient failures and optional outbound pacing. A low-quality but
// successful answer is never retried here.
type RetryingProvider struct {
	inner   Provider
	config  RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func() float64
}

// NewRetryingProvider wraps inner with retry and pacing behaviour
func NewRetryingProvider(inner Provider, config RetryConfig, logger *zap.Logger) *RetryingProvider {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaultBaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaultMaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &RetryingProvider{
		inner:  inner,
		config: config,
		logger: logger,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	if config.RequestsPerSecond > 0 {
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return p
}

// Name returns the wrapped provider's name
func (p *RetryingProvider) Name() string {
	return p.inner.Name()
}

// IsAvailable delegates to the wrapped provider
func (p *RetryingProvider) IsAvailable(ctx context.Context) bool {
	return p.inner.IsAvailable(ctx)
}

// ChatCompletion retries transient failures up to MaxAttempts
func (p *RetryingProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := p.wait(ctx); err != nil {
			return nil, err
		}

		resp, err := p.inner.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !p.shouldRetry(ctx, err, attempt) {
			break
		}
		if err := p.backoff(ctx, req.Model, attempt, err); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// ChatCompletionStream retries only while no chunk has reached the
// callback; a stream is not restartable once output was delivered.
func (p *RetryingProvider) ChatCompletionStream(ctx context.Context, req *ChatRequest, callback StreamCallback) error {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := p.wait(ctx); err != nil {
			return err
		}

		delivered := false
		err := p.inner.ChatCompletionStream(ctx, req, func(chunk StreamChunk) error {
			delivered = true
			return callback(chunk)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if delivered || !p.shouldRetry(ctx, err, attempt) {
			break
		}
		if err := p.backoff(ctx, req.Model, attempt, err); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (p *RetryingProvider) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= p.config.MaxAttempts || ctx.Err() != nil {
		return false
	}
	return IsRetryable(err)
}

func (p *RetryingProvider) backoff(ctx context.Context, model string, attempt int, cause error) error {
	delay := p.Delay(attempt)
	p.logger.Warn("retrying provider call",
		zap.String("provider", p.inner.Name()),
		zap.String("model", model),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
	return p.sleep(ctx, delay)
}

// Delay returns the backoff before the attempt following attempt n:
// BaseDelay * 2^(n-1), capped at MaxDelay, plus up to 25% jitter.
func (p *RetryingProvider) Delay(attempt int) time.Duration {
	delay := p.config.BaseDelay << uint(attempt-1)
	if delay <= 0 || delay > p.config.MaxDelay {
		delay = p.config.MaxDelay
	}
	return delay + time.Duration(float64(delay)*jitterFraction*p.jitter())
}

func (p *RetryingProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
