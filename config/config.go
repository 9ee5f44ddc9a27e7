package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nandth/model-router-ai/services/providers"
	"github.com/nandth/model-router-ai/services/tiers"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Providers     ProvidersConfig
	Tiers         TiersConfig
	Routing       RoutingConfig
	Prompt        PromptConfig
	RateLimit     RateLimitConfig
	Budget        BudgetConfig
	Audit         AuditConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds storage configuration. SQLite is the default;
// a postgres:// DATABASE_URL or DB_DRIVER=postgres selects PostgreSQL.
type DatabaseConfig struct {
	Driver           string
	ConnectionString string // From DATABASE_URL when set
	SQLitePath       string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	AutoMigrate      bool
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI    ProviderSettings
	Anthropic ProviderSettings
}

// ProviderSettings holds one upstream provider's settings
type ProviderSettings struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerSecond float64
}

// Configured reports whether credentials are present
func (p ProviderSettings) Configured() bool {
	return p.APIKey != ""
}

// TiersConfig holds the tier table. File overrides DefaultConfigs per tier.
type TiersConfig struct {
	File  string
	Table *tiers.Table
}

// RoutingConfig holds pipeline settings
type RoutingConfig struct {
	SavingsBaselineModel string
	DecisionCacheSize    int
	DefaultMaxTokens     int
}

// PromptConfig holds input sanitizer settings
type PromptConfig struct {
	MaxChars        int
	DetectSecrets   bool
	RedactSecrets   bool
	DetectInjection bool
}

// RateLimitConfig holds per-scope admission limits
type RateLimitConfig struct {
	Disabled      bool
	Window        time.Duration
	PromptLimit   int
	StreamLimit   int
	AnalyzeLimit  int
	SweepInterval time.Duration
}

// BudgetConfig holds monthly spend settings
type BudgetConfig struct {
	MonthlyLimit float64
	Enforcement  bool
}

// AuditConfig holds request log pipeline settings
type AuditConfig struct {
	BufferSize      int
	WorkerCount     int
	ShutdownTimeout time.Duration
}

// AuthConfig holds admin endpoint authentication settings
type AuthConfig struct {
	AdminJWTSecret string
	AdminJWTIssuer string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string // json or console
	LogFile           string
	LogFileMaxSizeMB  int
	LogFileMaxBackups int
	LogFileMaxAgeDays int
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 3*time.Minute),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: loadDatabaseConfig(),
		Providers: ProvidersConfig{
			OpenAI:    loadProviderSettings("OPENAI", "https://api.openai.com/v1"),
			Anthropic: loadProviderSettings("ANTHROPIC", "https://api.anthropic.com"),
		},
		Tiers: TiersConfig{
			File: getEnv("TIERS_CONFIG_FILE", ""),
		},
		Routing: RoutingConfig{
			SavingsBaselineModel: getEnv("SAVINGS_BASELINE_MODEL", "gpt-4"),
			DecisionCacheSize:    getEnvAsInt("ROUTING_CACHE_SIZE", 1024),
			DefaultMaxTokens:     getEnvAsInt("DEFAULT_MAX_TOKENS", 1000),
		},
		Prompt: PromptConfig{
			MaxChars:        getEnvAsInt("MAX_PROMPT_CHARS", 50000),
			DetectSecrets:   getEnvAsBool("PROMPT_DETECT_SECRETS", true),
			RedactSecrets:   getEnvAsBool("PROMPT_REDACT_SECRETS", false),
			DetectInjection: getEnvAsBool("PROMPT_DETECT_INJECTION", true),
		},
		RateLimit: RateLimitConfig{
			Disabled:      getEnvAsBool("RATE_LIMIT_DISABLED", false),
			Window:        time.Duration(getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
			PromptLimit:   getEnvAsInt("RATE_LIMIT_PROMPT", 30),
			StreamLimit:   getEnvAsInt("RATE_LIMIT_STREAM", 30),
			AnalyzeLimit:  getEnvAsInt("RATE_LIMIT_ANALYZE", 60),
			SweepInterval: getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		},
		Budget: BudgetConfig{
			MonthlyLimit: getEnvAsFloat("MONTHLY_BUDGET_LIMIT", 100.0),
			Enforcement:  getEnvAsBool("BUDGET_ENFORCEMENT", true),
		},
		Audit: AuditConfig{
			BufferSize:      getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount:     getEnvAsInt("AUDIT_WORKER_COUNT", 4),
			ShutdownTimeout: getEnvAsDuration("AUDIT_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			AdminJWTIssuer: getEnv("ADMIN_JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			LogFile:           getEnv("LOG_FILE", ""),
			LogFileMaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			LogFileMaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 3),
			LogFileMaxAgeDays: getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 28),
		},
	}
	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "certs/cert.pem")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "certs/key.pem")

	table, err := LoadTierTable(cfg.Tiers.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load tier table: %w", err)
	}
	cfg.Tiers.Table = table

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite database path is required")
		}
	case DriverPostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" && c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Tiers.Table == nil {
		return fmt.Errorf("tier table is required")
	}
	if _, ok := c.Tiers.Table.Pricing(c.Routing.SavingsBaselineModel); !ok {
		return fmt.Errorf("savings baseline model %q is not in the tier table", c.Routing.SavingsBaselineModel)
	}
	if c.Routing.DefaultMaxTokens <= 0 {
		return fmt.Errorf("default max tokens must be positive")
	}
	if c.Prompt.MaxChars <= 0 {
		return fmt.Errorf("max prompt chars must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.Budget.MonthlyLimit < 0 {
		return fmt.Errorf("monthly budget limit cannot be negative")
	}
	if c.Audit.WorkerCount <= 0 || c.Audit.BufferSize <= 0 {
		return fmt.Errorf("audit worker count and buffer size must be positive")
	}
	for name, p := range map[string]ProviderSettings{"openai": c.Providers.OpenAI, "anthropic": c.Providers.Anthropic} {
		if p.MaxRetries < 1 || p.MaxRetries > providers.DefaultMaxAttempts {
			return fmt.Errorf("%s max retries must be between 1 and %d", name, providers.DefaultMaxAttempts)
		}
	}

	if c.IsProduction() {
		if !c.Providers.OpenAI.Configured() && !c.Providers.Anthropic.Configured() {
			return fmt.Errorf("at least one LLM provider must be configured in production")
		}
		if c.Auth.AdminJWTSecret == "" {
			return fmt.Errorf("admin JWT secret is required in production")
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the driver-specific data source name
func (c *DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	}
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("driver=sqlite path=%s", c.SQLitePath)
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("driver=postgres host=%s port=%s database=%s", u.Hostname(), port, db)
		}
		return "driver=postgres host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("driver=postgres host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig reads DATABASE_URL first, then DB_* variables
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:          strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		SQLitePath:      getEnv("SQLITE_PATH", "model_router.db"),
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", ""),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", ""),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", true),
	}

	dbURL := getEnv("DATABASE_URL", "")
	switch {
	case strings.HasPrefix(dbURL, "sqlite://"):
		cfg.Driver = DriverSQLite
		cfg.SQLitePath = sqlitePathFromURL(dbURL)
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		cfg.Driver = DriverPostgres
		cfg.ConnectionString = dbURL
	}

	if cfg.Driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY under concurrent audit workers
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}
	return cfg
}

// sqlitePathFromURL maps sqlite:///./app.db to ./app.db and
// sqlite:////var/app.db to /var/app.db
func sqlitePathFromURL(raw string) string {
	path := strings.TrimPrefix(raw, "sqlite://")
	if strings.HasPrefix(path, "/") {
		path = path[1:]
	}
	if path == "" {
		return "model_router.db"
	}
	return path
}

func loadProviderSettings(prefix, defaultBaseURL string) ProviderSettings {
	return ProviderSettings{
		APIKey:            getEnv(prefix+"_API_KEY", ""),
		BaseURL:           getEnv(prefix+"_BASE_URL", defaultBaseURL),
		Timeout:           getEnvAsDuration(prefix+"_TIMEOUT", 60*time.Second),
		MaxRetries:        getEnvAsInt(prefix+"_MAX_RETRIES", providers.DefaultMaxAttempts),
		RetryDelay:        getEnvAsDuration(prefix+"_RETRY_DELAY", time.Second),
		RequestsPerSecond: getEnvAsFloat(prefix+"_REQUESTS_PER_SECOND", 0),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch valueStr {
	case "":
		return defaultValue
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
