package routes

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nandth/model-router-ai/app"
	"github.com/nandth/model-router-ai/handlers"
	"github.com/nandth/model-router-ai/middleware"
	"github.com/nandth/model-router-ai/services/ratelimit"
	"github.com/nandth/model-router-ai/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies, version string) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(chimw.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}

	health := handlers.NewHealthHandler(db, deps.ProviderRegistry, version, deps.Logger)
	prompt := handlers.NewPromptHandler(
		deps.PromptService,
		deps.Executor,
		deps.Router,
		deps.BudgetService,
		deps.CostEstimator,
		cfg.Routing.DefaultMaxTokens,
		deps.Logger,
	)
	analyze := handlers.NewAnalyzeHandler(deps.PromptService, deps.Router, deps.Logger)
	budget := handlers.NewBudgetHandler(deps.BudgetService, deps.RequestLogs, deps.Router, deps.AuditService, deps.Logger)

	admission := deps.AdmissionMiddleware
	auth := deps.AuthMiddleware

	r.Get("/", handlers.RootHandler(version))

	// Health check endpoints
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.HandleHealth)

		r.With(admission.Limit(ratelimit.ScopePrompt)).Post("/prompt", prompt.HandlePrompt)
		r.With(admission.Limit(ratelimit.ScopeStream)).Post("/prompt/stream", prompt.HandleStream)

		r.Route("/analyze", func(r chi.Router) {
			r.Use(admission.Limit(ratelimit.ScopeAnalyze))
			r.Post("/", analyze.HandleAnalyze)
			r.Get("/self-eval-schema", analyze.HandleSelfEvalSchema)
		})

		r.Get("/budget", budget.HandleGetBudget)

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth)
			r.Use(auth.RequireRole(middleware.RoleAdmin))
			r.Put("/budget", budget.HandleUpdateBudget)
			r.Get("/stats", budget.HandleStats)
		})
	})

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	return r
}
