package budget

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/repositories"
	"github.com/nandth/model-router-ai/services"
	"github.com/nandth/model-router-ai/services/tiers"
	"github.com/nandth/model-router-ai/services/tokens"
)

// DefaultMonthlyLimit is the spend ceiling in USD when none is configured
const DefaultMonthlyLimit = 100.0

// Config holds configuration for the BudgetService
type Config struct {
	MonthlyLimit float64
	Enforcement  bool
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MonthlyLimit: DefaultMonthlyLimit,
		Enforcement:  true,
	}
}

// BudgetService tracks spend per calendar month (UTC) and rejects requests
// that would take the month over its limit
type BudgetService struct {
	repo   repositories.BudgetRepository
	logger *zap.Logger

	mu       sync.RWMutex
	limit    float64
	enforced bool

	now func() time.Time
}

// NewBudgetService creates a new BudgetService instance
func NewBudgetService(repo repositories.BudgetRepository, config Config, logger *zap.Logger) *BudgetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetService{
		repo:     repo,
		logger:   logger,
		limit:    config.MonthlyLimit,
		enforced: config.Enforcement,
		now:      time.Now,
	}
}

// Limit returns the current monthly limit
func (s *BudgetService) Limit() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit
}

// Enforced reports whether Check rejects over-budget requests
func (s *BudgetService) Enforced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enforced
}

// SetLimit replaces the monthly limit for the running process
func (s *BudgetService) SetLimit(limit float64) error {
	if limit < 0 {
		return services.NewDomainError(services.ErrorTypeValidation, "monthly limit must not be negative", nil).
			WithDetail("limit", limit)
	}

	s.mu.Lock()
	previous := s.limit
	s.limit = limit
	s.mu.Unlock()

	s.logger.Info("monthly budget limit updated",
		zap.Float64("previous_limit", previous),
		zap.Float64("limit", limit))
	return nil
}

// Check returns a budget error when adding estimatedCost to this month's
// spend would exceed the limit. It is a no-op when enforcement is off.
func (s *BudgetService) Check(ctx context.Context, estimatedCost float64) error {
	if !s.Enforced() {
		return nil
	}

	current, err := s.current(ctx)
	if err != nil {
		return err
	}

	limit := s.Limit()
	if current.TotalSpent+estimatedCost > limit {
		s.logger.Warn("monthly budget exceeded",
			zap.Float64("spent", current.TotalSpent),
			zap.Float64("estimated_cost", estimatedCost),
			zap.Float64("limit", limit))

		return services.NewDomainError(services.ErrorTypeBudget, "monthly budget exceeded", nil).
			WithDetail("limit", limit).
			WithDetail("spent", current.TotalSpent).
			WithDetail("estimated_cost", estimatedCost)
	}

	s.logger.Debug("budget check passed",
		zap.Float64("spent", current.TotalSpent),
		zap.Float64("estimated_cost", estimatedCost),
		zap.Float64("limit", limit))
	return nil
}

// Record adds the cost of a completed request to the current month
func (s *BudgetService) Record(ctx context.Context, cost float64) error {
	if s.repo == nil {
		return nil
	}
	if cost < 0 {
		cost = 0
	}

	now := s.now().UTC()
	if err := s.repo.AddSpend(ctx, now.Year(), int(now.Month()), cost, now); err != nil {
		return services.WrapInternal("failed to record spend", err)
	}
	return nil
}

// Status returns the current month's spend against the limit
func (s *BudgetService) Status(ctx context.Context) (models.BudgetStatus, error) {
	current, err := s.current(ctx)
	if err != nil {
		return models.BudgetStatus{}, err
	}
	return models.NewBudgetStatus(current, s.Limit(), s.Enforced()), nil
}

// current loads this month's row; a month without spend reads as zero
func (s *BudgetService) current(ctx context.Context) (*models.MonthlyBudget, error) {
	now := s.now()
	if s.repo == nil {
		return models.NewMonthlyBudget(now), nil
	}

	empty := models.NewMonthlyBudget(now)
	b, err := s.repo.GetByMonth(ctx, empty.Year, empty.Month)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return empty, nil
		}
		return nil, services.WrapInternal("failed to load monthly budget", err)
	}
	return b, nil
}

// CostEstimator prices a request before it runs: the prompt's tokens plus
// max_tokens of output at the model's tier pricing
type CostEstimator struct {
	table   *tiers.Table
	counter tokens.Counter
}

// NewCostEstimator creates an estimator. A nil counter uses the
// characters/4 heuristic.
func NewCostEstimator(table *tiers.Table, counter tokens.Counter) *CostEstimator {
	if counter == nil {
		counter = tokens.EstimateCounter{}
	}
	return &CostEstimator{table: table, counter: counter}
}

// Estimate returns the worst-case dollar cost of sending prompt to model.
// Models outside the tier table cost zero.
func (e *CostEstimator) Estimate(model, prompt string, maxTokens int) float64 {
	if maxTokens < 0 {
		maxTokens = 0
	}
	return e.table.Cost(model, e.counter.Count(model, prompt), maxTokens)
}
