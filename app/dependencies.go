package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/config"
	"github.com/nandth/model-router-ai/middleware"
	"github.com/nandth/model-router-ai/repositories"
	"github.com/nandth/model-router-ai/repositories/sqlstore"
	"github.com/nandth/model-router-ai/services/audit"
	"github.com/nandth/model-router-ai/services/budget"
	"github.com/nandth/model-router-ai/services/prompt"
	"github.com/nandth/model-router-ai/services/providers"
	"github.com/nandth/model-router-ai/services/providers/anthropic"
	"github.com/nandth/model-router-ai/services/providers/openai"
	"github.com/nandth/model-router-ai/services/ratelimit"
	"github.com/nandth/model-router-ai/services/routing"
	"github.com/nandth/model-router-ai/services/savings"
	"github.com/nandth/model-router-ai/services/tokens"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *sqlstore.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *sqlstore.RepositoryFactory

	// Repositories
	RequestLogs repositories.RequestLogRepository
	Budgets     repositories.BudgetRepository

	// Provider Registry
	ProviderRegistry *providers.Registry

	// Routing pipeline
	TokenCounter tokens.Counter
	Router       *routing.Router
	Savings      *savings.Estimator
	Executor     *routing.Executor

	// Supporting services
	PromptService *prompt.Service
	RateLimiter   *ratelimit.RateLimitService
	AuditService  *audit.AuditService
	BudgetService *budget.BudgetService
	CostEstimator *budget.CostEstimator

	// Middleware
	AuthMiddleware      *middleware.AuthMiddleware
	AdmissionMiddleware *middleware.AdmissionMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initProviders(cfg); err != nil {
		_ = deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		_ = deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initMiddleware(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.ProviderRegistry.ListProviders()))
	return deps, nil
}

// initDatabase opens the store and applies pending migrations
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := sqlstore.NewRepositoryFactory(ctx, cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.RequestLogs = repos.RequestLogs
	d.Budgets = repos.Budgets

	d.Logger.Info("repositories initialized")
}

// initProviders registers every provider with credentials, each wrapped in
// retry and outbound pacing
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()

	if cfg.Providers.OpenAI.Configured() {
		adapter := openai.NewOpenAIAdapter(providerConfig(cfg.Providers.OpenAI))
		if err := registry.RegisterProvider(d.withRetry(adapter, cfg.Providers.OpenAI)); err != nil {
			return err
		}
		d.Logger.Info("registered OpenAI provider")
	}

	if cfg.Providers.Anthropic.Configured() {
		adapter := anthropic.NewAnthropicAdapter(providerConfig(cfg.Providers.Anthropic))
		if err := registry.RegisterProvider(d.withRetry(adapter, cfg.Providers.Anthropic)); err != nil {
			return err
		}
		d.Logger.Info("registered Anthropic provider")
	}

	if registry.Count() == 0 {
		d.Logger.Warn("no LLM providers configured, prompt requests will be rejected")
	}

	d.ProviderRegistry = registry
	return nil
}

func (d *Dependencies) withRetry(p providers.Provider, s config.ProviderSettings) providers.Provider {
	return providers.NewRetryingProvider(p, providers.RetryConfig{
		MaxAttempts:       s.MaxRetries,
		BaseDelay:         s.RetryDelay,
		RequestsPerSecond: s.RequestsPerSecond,
	}, d.Logger.Named(p.Name()))
}

func providerConfig(s config.ProviderSettings) providers.ProviderConfig {
	return providers.ProviderConfig{
		APIKey:            s.APIKey,
		BaseURL:           s.BaseURL,
		Timeout:           s.Timeout,
		MaxRetries:        s.MaxRetries,
		RetryDelay:        s.RetryDelay,
		RequestsPerSecond: s.RequestsPerSecond,
	}
}

// initServices builds the routing pipeline and its supporting services
func (d *Dependencies) initServices(cfg *config.Config) error {
	table := cfg.Tiers.Table

	router, err := routing.NewRouter(table, cfg.Routing.DecisionCacheSize, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	d.Router = router

	d.TokenCounter = tokens.NewTiktokenCounter(d.Logger)
	d.Savings = savings.NewEstimator(savings.TablePricer{Table: table}, cfg.Routing.SavingsBaselineModel)

	d.AuditService = audit.NewAuditService(d.RequestLogs, d.Logger.Named("audit"), audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	if err := d.AuditService.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	d.Executor = routing.NewExecutor(router, d.ProviderRegistry, d.Savings, d.TokenCounter, d.AuditService, d.Logger)

	promptCfg := prompt.DefaultConfig()
	promptCfg.MaxChars = cfg.Prompt.MaxChars
	promptCfg.DetectSecrets = cfg.Prompt.DetectSecrets
	promptCfg.RedactSecrets = cfg.Prompt.RedactSecrets
	promptCfg.DetectInjection = cfg.Prompt.DetectInjection
	d.PromptService = prompt.NewService(promptCfg, d.Logger)

	d.RateLimiter = ratelimit.NewRateLimitService(ratelimit.Config{
		Disabled: cfg.RateLimit.Disabled,
		Window:   cfg.RateLimit.Window,
		Limits: map[ratelimit.Scope]int{
			ratelimit.ScopePrompt:  cfg.RateLimit.PromptLimit,
			ratelimit.ScopeStream:  cfg.RateLimit.StreamLimit,
			ratelimit.ScopeAnalyze: cfg.RateLimit.AnalyzeLimit,
		},
	}, d.Logger)

	d.BudgetService = budget.NewBudgetService(d.Budgets, budget.Config{
		MonthlyLimit: cfg.Budget.MonthlyLimit,
		Enforcement:  cfg.Budget.Enforcement,
	}, d.Logger)
	d.CostEstimator = budget.NewCostEstimator(table, d.TokenCounter)

	d.Logger.Info("services initialized",
		zap.String("savings_baseline", cfg.Routing.SavingsBaselineModel),
		zap.Int("decision_cache_size", cfg.Routing.DecisionCacheSize),
		zap.Bool("rate_limit_enabled", d.RateLimiter.Enabled()),
		zap.Float64("monthly_budget", cfg.Budget.MonthlyLimit))
	return nil
}

// initMiddleware builds admission and admin authentication. Without an
// admin secret every admin request is rejected.
func (d *Dependencies) initMiddleware(cfg *config.Config) {
	d.AdmissionMiddleware = middleware.NewAdmissionMiddleware(d.RateLimiter, d.Logger)

	var validator middleware.TokenValidator
	if cfg.Auth.AdminJWTSecret != "" {
		validator = middleware.NewHMACValidator(cfg.Auth.AdminJWTSecret, cfg.Auth.AdminJWTIssuer)
	} else {
		d.Logger.Warn("ADMIN_JWT_SECRET not set, admin endpoints disabled")
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain request logs before the database goes away
	if d.AuditService != nil {
		timeout := d.Config.Audit.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		d.AuditService = nil
	}

	if err := d.closeDatabase(); err != nil {
		errs = append(errs, err)
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}

func (d *Dependencies) closeDatabase() error {
	if d.RepoFactory == nil {
		return nil
	}
	if err := d.RepoFactory.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.RepoFactory = nil
	d.Logger.Info("database connection closed")
	return nil
}
