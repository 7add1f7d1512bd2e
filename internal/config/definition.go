package config

// Definition is the raw configuration file structure before defaults and
// validation are applied. Pointer fields distinguish unset values from zero
// values when overlay files are merged on top of the base definition.
type Definition struct {
	// Debug enables debug logging.
	Debug *bool `mapstructure:"debug"`

	// LogLevel sets the minimum log level.
	LogLevel string `mapstructure:"logLevel"`

	// LogFormat specifies the log output format ("text" or "json").
	LogFormat string `mapstructure:"logFormat"`

	// TZ specifies the timezone, e.g. "UTC" or "Asia/Tokyo".
	TZ string `mapstructure:"tz"`

	// Host is the server binding host.
	Host string `mapstructure:"host"`

	// Port is the server binding port.
	Port *int `mapstructure:"port"`

	// BasePath is the base URL path for subpath hosting.
	BasePath string `mapstructure:"basePath"`

	// APIToken enables bearer-token auth when set.
	APIToken string `mapstructure:"apiToken"`

	// RequestTimeoutSec aborts slow requests after this many seconds.
	RequestTimeoutSec *int `mapstructure:"requestTimeoutSec"`

	// MaxBodyBytes caps accepted request body size.
	MaxBodyBytes *int64 `mapstructure:"maxBodyBytes"`

	// RateLimitGlobalPerMin is the per-client request budget per minute.
	RateLimitGlobalPerMin *int `mapstructure:"rateLimitGlobalPerMin"`

	// RateLimitChatPerMin is the per-client agent chat budget per minute.
	RateLimitChatPerMin *int `mapstructure:"rateLimitChatPerMin"`

	// Paths configures file system locations.
	Paths *PathsDef `mapstructure:"paths"`

	// Exec configures the plan executor.
	Exec *ExecDef `mapstructure:"exec"`

	// Consent configures consent gating.
	Consent *ConsentDef `mapstructure:"consent"`

	// LLM configures the model router.
	LLM *LLMDef `mapstructure:"llm"`

	// Cache configures the response cache.
	Cache *CacheDef `mapstructure:"cache"`

	// Telemetry configures metrics and tracing.
	Telemetry *TelemetryDef `mapstructure:"telemetry"`
}

// PathsDef defines file system paths in the configuration file.
type PathsDef struct {
	DataDir     string `mapstructure:"dataDir"`
	SandboxRoot string `mapstructure:"sandboxRoot"`
	DBPath      string `mapstructure:"dbPath"`
	PromptsDir  string `mapstructure:"promptsDir"`
}

// ExecDef defines executor settings in the configuration file.
type ExecDef struct {
	Concurrency     *int `mapstructure:"concurrency"`
	ReflectMaxIters *int `mapstructure:"reflectMaxIters"`
}

// ConsentDef defines consent settings in the configuration file.
type ConsentDef struct {
	Require     *bool  `mapstructure:"require"`
	Auto        *bool  `mapstructure:"auto"`
	TokenSecret string `mapstructure:"tokenSecret"`
	TokenTTL    string `mapstructure:"tokenTTL"`
}

// LLMDef defines model router settings in the configuration file.
type LLMDef struct {
	Backend          string   `mapstructure:"backend"`
	OllamaURL        string   `mapstructure:"ollamaURL"`
	LlamaCPPURL      string   `mapstructure:"llamacppURL"`
	Model            string   `mapstructure:"model"`
	AllowList        []string `mapstructure:"allowlist"`
	DailyUSDBudget   *float64 `mapstructure:"dailyUSDBudget"`
	DailyTokenBudget *int64   `mapstructure:"dailyTokenBudget"`
	CacheTTLMS       *int64   `mapstructure:"cacheTTLMS"`
}

// CacheDef defines cache settings in the configuration file.
type CacheDef struct {
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redisURL"`
}

// TelemetryDef defines telemetry settings in the configuration file.
type TelemetryDef struct {
	MetricsEnabled *bool  `mapstructure:"metricsEnabled"`
	OTELEndpoint   string `mapstructure:"otelEndpoint"`
}
