package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scope identifies a group of endpoints sharing one limit
type Scope string

const (
	ScopePrompt  Scope = "prompt"
	ScopeStream  Scope = "stream"
	ScopeAnalyze Scope = "analyze"
)

const (
	DefaultWindow        = 60 * time.Second
	DefaultPromptLimit   = 30
	DefaultStreamLimit   = 30
	DefaultAnalyzeLimit  = 60
	DefaultSweepInterval = time.Minute
)

// Config holds per-scope request limits over a shared window
type Config struct {
	Disabled bool
	Window   time.Duration
	Limits   map[Scope]int
}

// DefaultConfig returns the default limits
func DefaultConfig() Config {
	return Config{
		Window: DefaultWindow,
		Limits: map[Scope]int{
			ScopePrompt:  DefaultPromptLimit,
			ScopeStream:  DefaultStreamLimit,
			ScopeAnalyze: DefaultAnalyzeLimit,
		},
	}
}

// RateLimitResult represents the outcome of an admission check
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1
func (r RateLimitResult) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// RateLimitService is an in-process sliding-window limiter. Each key keeps
// the timestamps of its admitted requests inside the current window.
type RateLimitService struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewRateLimitService creates a new RateLimitService instance
func NewRateLimitService(config Config, logger *zap.Logger) *RateLimitService {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitService{
		config: config,
		logger: logger,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Enabled reports whether admission checks are enforced
func (s *RateLimitService) Enabled() bool {
	return !s.config.Disabled
}

// Limit returns the configured limit for a scope; zero means unlimited
func (s *RateLimitService) Limit(scope Scope) int {
	return s.config.Limits[scope]
}

// CheckLimit records a hit for clientIP in scope when the window has room
func (s *RateLimitService) CheckLimit(clientIP string, scope Scope) RateLimitResult {
	limit := s.Limit(scope)
	if s.config.Disabled || limit <= 0 {
		return RateLimitResult{Allowed: true, Limit: limit}
	}

	allowed, retryAfter, remaining := s.hit(BuildScopeKey(clientIP, scope), limit)
	if !allowed {
		s.logger.Debug("rate limit exceeded",
			zap.String("client_ip", clientIP),
			zap.String("scope", string(scope)),
			zap.Duration("retry_after", retryAfter))
	}
	return RateLimitResult{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}
}

// Allow records a hit for an arbitrary key against limit within the
// configured window. retryAfter is zero when allowed.
func (s *RateLimitService) Allow(key string, limit int) (bool, time.Duration) {
	allowed, retryAfter, _ := s.hit(key, limit)
	return allowed, retryAfter
}

func (s *RateLimitService) hit(key string, limit int) (bool, time.Duration, int) {
	now := s.now()
	windowStart := now.Add(-s.config.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	q := prune(s.hits[key], windowStart)
	if len(q) >= limit {
		s.hits[key] = q
		// the oldest admitted hit decides when a slot frees up
		retryAfter := q[0].Add(s.config.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter, 0
	}

	s.hits[key] = append(q, now)
	return true, 0, limit - len(q) - 1
}

// prune drops timestamps at or before windowStart
func prune(q []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(q) && !q[i].After(windowStart) {
		i++
	}
	if i == 0 {
		return q
	}
	return append(q[:0], q[i:]...)
}

// BuildScopeKey builds the limiter key for a client and scope
func BuildScopeKey(clientIP string, scope Scope) string {
	if clientIP == "" {
		clientIP = "unknown"
	}
	return fmt.Sprintf("%s:%s", clientIP, scope)
}

// CleanupIdleKeys removes keys with no hits inside the window
func (s *RateLimitService) CleanupIdleKeys() int {
	windowStart := s.now().Add(-s.config.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, q := range s.hits {
		q = prune(q, windowStart)
		if len(q) == 0 {
			delete(s.hits, key)
			removed++
			continue
		}
		s.hits[key] = q
	}
	return removed
}

// TrackedKeys returns the number of keys currently held
func (s *RateLimitService) TrackedKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}

// StartCleanupWorker periodically prunes idle keys until ctx is done
func (s *RateLimitService) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if n := s.CleanupIdleKeys(); n > 0 {
				s.logger.Debug("pruned idle rate limit keys", zap.Int("removed", n))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
