package config

import (
	"fmt"
	"time"
)

// Config holds the overall configuration for the application.
type Config struct {
	Core      Core
	Server    Server
	Paths     PathsConfig
	Exec      Exec
	Consent   Consent
	LLM       LLM
	Cache     Cache
	Telemetry Telemetry
	Warnings  []string
}

// Core contains global configuration settings.
type Core struct {
	Debug     bool
	LogLevel  string // "debug", "info", "warn", "error"
	LogFormat string // "json" or "text"
	TZ        string
}

// Server contains the API server configuration.
type Server struct {
	Host        string
	Port        int
	BasePath    string // URL path for reverse proxy subpath hosting
	APIToken    string // Empty disables bearer auth
	Permissions map[Permission]bool

	// RequestTimeout aborts handlers that exceed it with 504.
	RequestTimeout time.Duration
	// MaxBodyBytes rejects larger request bodies with 413. Zero disables the limit.
	MaxBodyBytes int64
	// RateLimitPerMin is the per-client request budget across all routes.
	// Zero disables rate limiting.
	RateLimitPerMin int
	// RateLimitChatPerMin is the tighter per-client budget for agent chat.
	RateLimitChatPerMin int
}

// Permission represents a permission string used in the application.
type Permission string

const (
	PermissionRunPlans    Permission = "run_plans"
	PermissionSubmitPlans Permission = "submit_plans"
)

// PathsConfig represents the file system paths configuration.
type PathsConfig struct {
	DataDir        string
	SandboxRoot    string
	DBPath         string
	PromptsDir     string
	ConfigFileUsed string
}

// Exec contains the plan executor configuration.
type Exec struct {
	// Concurrency is the maximum number of steps dispatched in parallel.
	Concurrency int
	// ReflectMaxIters bounds reflection revisions per goal.
	ReflectMaxIters int
}

// Consent contains the consent gating configuration.
type Consent struct {
	// Require gates consent-protected capabilities on a matching token.
	Require bool
	// Auto makes the executor supply a wildcard token for every run.
	Auto bool
	// TokenSecret signs issued consent grants. Empty disables issuance.
	TokenSecret string
	// TokenTTL is the lifetime of issued grants.
	TokenTTL time.Duration
}

// LLMBackend identifies the local model backend.
type LLMBackend string

const (
	BackendOllama   LLMBackend = "ollama"
	BackendLlamaCPP LLMBackend = "llamacpp"
	BackendStub     LLMBackend = "stub"
)

// IsValid reports whether the backend is a known value.
func (b LLMBackend) IsValid() bool {
	switch b {
	case BackendOllama, BackendLlamaCPP, BackendStub:
		return true
	default:
		return false
	}
}

// LLM contains the model router configuration.
type LLM struct {
	Backend     LLMBackend
	OllamaURL   string
	LlamaCPPURL string
	// Model is the default model when a request does not name one.
	Model string
	// AllowList restricts callable models. Empty allows all.
	AllowList []string
	// DailyUSDBudget caps estimated spend per UTC day. 0 disables.
	DailyUSDBudget float64
	// DailyTokenBudget caps estimated tokens per UTC day. 0 disables.
	DailyTokenBudget int64
	// CacheTTL is the prompt cache entry lifetime.
	CacheTTL time.Duration
}

// CacheBackend identifies where the response cache lives.
type CacheBackend string

const (
	CacheBackendSQLite CacheBackend = "sqlite"
	CacheBackendRedis  CacheBackend = "redis"
)

// IsValid reports whether the cache backend is a known value.
func (b CacheBackend) IsValid() bool {
	switch b {
	case CacheBackendSQLite, CacheBackendRedis:
		return true
	default:
		return false
	}
}

// Cache contains the response cache configuration.
type Cache struct {
	Backend  CacheBackend
	RedisURL string
}

// Telemetry contains metrics and tracing configuration.
type Telemetry struct {
	// MetricsEnabled exposes /metrics when true.
	MetricsEnabled bool
	// OTELEndpoint is the OTLP collector address. Empty disables tracing.
	OTELEndpoint string
}

// Validate performs basic validation on the configuration to ensure required
// fields are set and numerical values fall within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be >= 0, got %d", c.Server.MaxBodyBytes)
	}
	if c.Server.RateLimitPerMin < 0 || c.Server.RateLimitChatPerMin < 0 {
		return fmt.Errorf("rate limits must be >= 0")
	}
	if c.Exec.Concurrency < 1 {
		return fmt.Errorf("exec.concurrency must be >= 1, got %d", c.Exec.Concurrency)
	}
	if c.Exec.ReflectMaxIters < 0 {
		return fmt.Errorf("exec.reflect_max_iters must be >= 0, got %d", c.Exec.ReflectMaxIters)
	}
	if !c.LLM.Backend.IsValid() {
		return fmt.Errorf("invalid llm backend: %q (must be one of: ollama, llamacpp, stub)", c.LLM.Backend)
	}
	if c.LLM.DailyUSDBudget < 0 {
		return fmt.Errorf("llm.daily_usd_budget must be >= 0")
	}
	if c.LLM.DailyTokenBudget < 0 {
		return fmt.Errorf("llm.daily_token_budget must be >= 0")
	}
	if !c.Cache.Backend.IsValid() {
		return fmt.Errorf("invalid cache backend: %q (must be one of: sqlite, redis)", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheBackendRedis && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when cache.backend is redis")
	}
	switch c.Core.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q (must be 'text' or 'json')", c.Core.LogFormat)
	}
	if c.Paths.SandboxRoot == "" {
		return fmt.Errorf("paths.sandbox_root must not be empty")
	}
	if c.Paths.DBPath == "" {
		return fmt.Errorf("paths.db_path must not be empty")
	}
	return nil
}
