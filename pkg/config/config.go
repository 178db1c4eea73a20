// Package config loads environment-driven configuration for the research
// agent core: database connection, worker pool tuning, quota/rate-limit
// plans, and LLM provider toggles.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Plan identifies a user's subscription tier, which drives quota limits.
type Plan string

// Supported plans.
const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// PlanLimits holds the daily/concurrent/cycle caps for a plan.
type PlanLimits struct {
	DailyTaskLimit      int
	ConcurrentTaskLimit int
	MaxCycles           int
	QueuePriority       int // lower sorts earlier
}

// Defaults per plan (spec.md §3).
var planLimits = map[Plan]PlanLimits{
	PlanFree: {
		DailyTaskLimit:      5,
		ConcurrentTaskLimit: 1,
		MaxCycles:           5,
		QueuePriority:       100,
	},
	PlanPremium: {
		DailyTaskLimit:      100,
		ConcurrentTaskLimit: 5,
		MaxCycles:           100,
		QueuePriority:       50,
	},
}

// LimitsFor returns the plan limits for a plan, defaulting to free for any
// unrecognized value.
func LimitsFor(p Plan) PlanLimits {
	if limits, ok := planLimits[p]; ok {
		return limits
	}
	return planLimits[PlanFree]
}

// RateLimit describes the three sliding-window caps for one action kind.
type RateLimit struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// Action kinds tracked by the rate limiter (spec.md §3, RateLimitRecord).
const (
	ActionTaskCreate = "task_create"
	ActionCommand    = "command"
	ActionMessage    = "message"
)

// rateLimits are the fixed per-action-kind caps from spec.md §3.
var rateLimits = map[string]RateLimit{
	ActionTaskCreate: {PerMinute: 2, PerHour: 10, PerDay: 50},
	ActionCommand:    {PerMinute: 10, PerHour: 100, PerDay: 500},
	ActionMessage:    {PerMinute: 20, PerHour: 200, PerDay: 1000},
}

// RateLimitFor returns the configured caps for an action kind. The second
// return value is false for unknown action kinds.
func RateLimitFor(action string) (RateLimit, bool) {
	rl, ok := rateLimits[action]
	return rl, ok
}

// QueueConfig controls how the scheduler polls, claims, and processes tasks.
// Mirrors the shape of a worker-pool tuning struct: one set of durations that
// every worker in the process shares.
type QueueConfig struct {
	WorkerCount             int
	MaxConcurrentTasks      int
	PollInterval            time.Duration
	PollIntervalJitter      time.Duration
	CycleTimeout            time.Duration
	GracefulShutdownTimeout time.Duration
	OrphanDetectionInterval time.Duration
	OrphanThreshold         time.Duration
	InterArticlePacing      time.Duration
	InterCyclePacing        time.Duration
}

// DefaultQueueConfig returns the built-in scheduler defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:             3,
		MaxConcurrentTasks:      3,
		PollInterval:            10 * time.Second,
		PollIntervalJitter:      2 * time.Second,
		CycleTimeout:            10 * time.Minute,
		GracefulShutdownTimeout: 10 * time.Minute,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
		InterArticlePacing:      2 * time.Second,
		InterCyclePacing:        60 * time.Second,
	}
}

// LLMConfig controls the LLM Gateway's provider, toggles, and concurrency.
type LLMConfig struct {
	APIKey             string
	Model              string
	FallbackModel      string
	UseAgentStrategy   bool
	UseAgentAnalyze    bool
	MaxConcurrent      int
	MaxRetries         int
	InitialBackoff     time.Duration
	BackoffFactor      float64
	RequestTimeout     time.Duration
}

// DefaultLLMConfig returns built-in LLM gateway defaults; callers overlay
// environment values on top.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:          "claude-sonnet-4-5",
		FallbackModel:  "claude-haiku-4-5",
		MaxConcurrent:  5,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		BackoffFactor:  2.0,
		RequestTimeout: 30 * time.Second,
	}
}

// PipelineConfig controls per-cycle pipeline defaults (spec.md §4.5).
type PipelineConfig struct {
	MaxQueries     int
	PerQueryLimit  int
	BM25TopK       int
	MaxAnalyze     int
	AnalysisCacheSize int
}

// DefaultPipelineConfig returns built-in pipeline defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxQueries:        4,
		PerQueryLimit:     50,
		BM25TopK:          20,
		MaxAnalyze:        10,
		AnalysisCacheSize: 1000,
	}
}

// SourceConfig holds per-adapter settings for the four external source
// integrations (spec.md §4.2).
type SourceConfig struct {
	HTTPTimeout      time.Duration
	GitHubToken      string
	PubMedAPIKey     string
	ScholarProxyBase string
}

// DefaultSourceConfig returns built-in source adapter defaults.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		HTTPTimeout:      20 * time.Second,
		ScholarProxyBase: "https://duckduckgo.com/html/",
	}
}

// Config is the umbrella configuration object passed to every component at
// startup.
type Config struct {
	Database Database
	Queue    QueueConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Sources  SourceConfig

	HTTPPort        string
	WorkerID        string
	DryRun          bool
	TestUserOverride string
}

// Database holds the Postgres connection parameters.
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Load reads configuration from the environment (after any .env file has
// already been loaded by the caller via godotenv). Missing required values
// return an error rather than silently defaulting, so misconfiguration fails
// fast at startup.
func Load() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	db := Database{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            dbPort,
		User:            getEnv("DB_USER", "agent"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnv("DB_NAME", "research_agent"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}

	queueCfg := DefaultQueueConfig()
	if v := os.Getenv("POLL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_SECONDS: %w", err)
		}
		queueCfg.PollInterval = time.Duration(secs) * time.Second
	}

	llmCfg := DefaultLLMConfig()
	llmCfg.APIKey = os.Getenv("LLM_API_KEY")
	llmCfg.UseAgentStrategy = getEnvBool("USE_AGENT_STRATEGY", true)
	llmCfg.UseAgentAnalyze = getEnvBool("USE_AGENT_ANALYZE", false)
	if v := os.Getenv("MAX_CONCURRENT_ANALYSIS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_ANALYSIS: %w", err)
		}
		llmCfg.MaxConcurrent = n
	}

	sourceCfg := DefaultSourceConfig()
	sourceCfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	sourceCfg.PubMedAPIKey = os.Getenv("PUBMED_API_KEY")
	if v := os.Getenv("SCHOLAR_PROXY_BASE"); v != "" {
		sourceCfg.ScholarProxyBase = v
	}

	return &Config{
		Database:         db,
		Queue:            queueCfg,
		LLM:              llmCfg,
		Pipeline:         DefaultPipelineConfig(),
		Sources:          sourceCfg,
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		WorkerID:         getEnv("WORKER_ID", defaultWorkerID()),
		DryRun:           getEnvBool("DRY_RUN", false),
		TestUserOverride: os.Getenv("TEST_USER_OVERRIDE"),
	}, nil
}

// Validate checks the database configuration for obviously broken values.
func (c Database) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("DB_MAX_IDLE_CONNS cannot be negative, got %d", c.MaxIdleConns)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-local"
	}
	return host
}
