package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/olympus-org/olympus/internal/build"
)

// overlayFileName is merged on top of the main configuration file when
// present in the same directory. Useful for untracked local overrides.
const overlayFileName = "config.local.yaml"

// ConfigLoader reads and merges configuration from various sources.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	appHomeDir string
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile returns a ConfigLoaderOption that sets the configuration file path.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// WithAppHomeDir returns a ConfigLoaderOption that sets the application home
// directory, overriding the default OLYMPUS_HOME resolution.
func WithAppHomeDir(dir string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.appHomeDir = dir
	}
}

// NewConfigLoader creates a ConfigLoader with the given viper instance and options.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{v: v}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load is a convenience wrapper that builds a loader on a fresh viper
// instance and loads the configuration.
func Load(options ...ConfigLoaderOption) (*Config, error) {
	return NewConfigLoader(viper.New(), options...).Load()
}

// Load reads configuration files, applies defaults and environment overrides,
// and returns a validated Config instance.
func (l *ConfigLoader) Load() (*Config, error) {
	loadDotenv()

	appHome := l.resolveAppHome()
	configDir, dataDir := resolveDirs(appHome)

	l.configureViper(configDir)
	l.bindEnvironmentVariables()
	l.setViperDefaultValues(dataDir)

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.mergeOverlay(&def); err != nil {
		return nil, err
	}

	cfg, err := l.buildConfig(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	cfg.Paths.ConfigFileUsed = l.v.ConfigFileUsed()
	cfg.Warnings = l.warnings

	return cfg, nil
}

// loadDotenv loads a .env file from the working directory when present.
// Existing environment variables are never overridden.
func loadDotenv() {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}

func (l *ConfigLoader) resolveAppHome() string {
	if l.appHomeDir != "" {
		return resolvePathOrBlank(l.appHomeDir)
	}
	envKey := strings.ToUpper(build.Slug) + "_HOME"
	if dir := os.Getenv(envKey); dir != "" {
		return resolvePathOrBlank(dir)
	}
	return ""
}

// resolveDirs returns the config search directory and the default data directory.
func resolveDirs(appHome string) (configDir, dataDir string) {
	if appHome != "" {
		return appHome, filepath.Join(appHome, "data")
	}
	return filepath.Join(xdg.ConfigHome, build.Slug), filepath.Join(xdg.DataHome, build.Slug)
}

func (l *ConfigLoader) configureViper(configDir string) {
	if l.configFile == "" {
		l.v.AddConfigPath(configDir)
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(l.configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(strings.ToUpper(build.Slug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	l.v.AutomaticEnv()
}

type envBinding struct {
	key    string
	env    string
	isPath bool
	// aliases are additional unprefixed environment variable names,
	// checked after the canonical forms.
	aliases []string
}

var envBindings = []envBinding{
	// Core
	{key: "debug", env: "DEBUG"},
	{key: "log_level", env: "LOG_LEVEL"},
	{key: "log_format", env: "LOG_FORMAT"},
	{key: "tz", env: "TZ"},

	// Server
	{key: "host", env: "HOST"},
	{key: "port", env: "PORT"},
	{key: "base_path", env: "BASE_PATH"},
	{key: "api_token", env: "API_TOKEN"},
	{key: "request_timeout_sec", env: "REQUEST_TIMEOUT_SEC"},
	{key: "max_body_bytes", env: "MAX_BODY_BYTES"},
	{key: "rate_limit_global_per_min", env: "RATE_LIMIT_GLOBAL_PER_MIN"},
	{key: "rate_limit_chat_per_min", env: "RATE_LIMIT_CHAT_PER_MIN"},

	// Paths
	{key: "paths.data_dir", env: "DATA_DIR", isPath: true},
	{key: "paths.sandbox_root", env: "SANDBOX_ROOT", isPath: true},
	{key: "paths.db_path", env: "DB_PATH", isPath: true},
	{key: "paths.prompts_dir", env: "PROMPTS_DIR", isPath: true},

	// Executor
	{key: "exec.concurrency", env: "EXEC_CONCURRENCY"},
	{key: "exec.reflect_max_iters", env: "REFLECT_MAX_ITERS"},

	// Consent
	{key: "consent.require", env: "REQUIRE_CONSENT"},
	{key: "consent.auto", env: "AUTO_CONSENT"},
	{key: "consent.token_secret", env: "CONSENT_TOKEN_SECRET"},
	{key: "consent.token_ttl", env: "CONSENT_TOKEN_TTL"},

	// LLM
	{key: "llm.backend", env: "LLM_BACKEND", aliases: []string{"OLY_LLM_BACKEND"}},
	{key: "llm.ollama_url", env: "OLLAMA_URL", aliases: []string{"OLLAMA_BASE_URL"}},
	{key: "llm.llamacpp_url", env: "LLAMACPP_URL", aliases: []string{"LLAMA_CPP_URL"}},
	{key: "llm.model", env: "LLM_MODEL"},
	{key: "llm.allowlist", env: "MODEL_ALLOWLIST", aliases: []string{"OLLAMA_MODEL_ALLOWLIST"}},
	{key: "llm.daily_usd_budget", env: "DAILY_USD_BUDGET"},
	{key: "llm.daily_token_budget", env: "DAILY_TOKEN_BUDGET"},
	{key: "llm.cache_ttl_ms", env: "LLM_CACHE_TTL_MS"},

	// Cache
	{key: "cache.backend", env: "CACHE_BACKEND"},
	{key: "cache.redis_url", env: "REDIS_URL"},

	// Telemetry
	{key: "telemetry.metrics_enabled", env: "METRICS_ENABLED"},
	{key: "telemetry.otel_endpoint", env: "OTEL_ENDPOINT"},
}

// bindEnvironmentVariables binds each key to its prefixed form and to the
// bare name so that OLYMPUS_SANDBOX_ROOT and SANDBOX_ROOT both work, with
// the prefixed form winning.
func (l *ConfigLoader) bindEnvironmentVariables() {
	prefix := strings.ToUpper(build.Slug) + "_"

	for _, b := range envBindings {
		names := []string{prefix + b.env, b.env}
		names = append(names, b.aliases...)

		if b.isPath {
			for _, name := range names {
				if val := os.Getenv(name); val != "" {
					if abs, err := filepath.Abs(val); err == nil && abs != val {
						_ = os.Setenv(name, abs)
					}
				}
			}
		}

		args := append([]string{b.key}, names...)
		_ = l.v.BindEnv(args...)
	}
}

func (l *ConfigLoader) setViperDefaultValues(dataDir string) {
	// Core
	l.v.SetDefault("debug", false)
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("log_format", "text")

	// Server
	l.v.SetDefault("host", "127.0.0.1")
	l.v.SetDefault("port", 8000)
	l.v.SetDefault("base_path", "")
	l.v.SetDefault("request_timeout_sec", 30)
	l.v.SetDefault("max_body_bytes", 5_000_000)
	l.v.SetDefault("rate_limit_global_per_min", 120)
	l.v.SetDefault("rate_limit_chat_per_min", 30)

	// Paths
	l.v.SetDefault("paths.data_dir", dataDir)
	l.v.SetDefault("paths.sandbox_root", ".sandbox")
	l.v.SetDefault("paths.db_path", filepath.Join(dataDir, build.Slug+".db"))

	// Executor
	l.v.SetDefault("exec.concurrency", 2)
	l.v.SetDefault("exec.reflect_max_iters", 2)

	// Consent
	l.v.SetDefault("consent.require", true)
	l.v.SetDefault("consent.auto", false)
	l.v.SetDefault("consent.token_ttl", "1h")

	// LLM
	l.v.SetDefault("llm.backend", "ollama")
	l.v.SetDefault("llm.ollama_url", "http://localhost:11434")
	l.v.SetDefault("llm.llamacpp_url", "http://127.0.0.1:8080")
	l.v.SetDefault("llm.model", "llama3:8b")
	l.v.SetDefault("llm.daily_usd_budget", 0.0)
	l.v.SetDefault("llm.daily_token_budget", 0)
	l.v.SetDefault("llm.cache_ttl_ms", 1800000)

	// Cache
	l.v.SetDefault("cache.backend", "sqlite")

	// Telemetry
	l.v.SetDefault("telemetry.metrics_enabled", true)
}

// mergeOverlay merges config.local.yaml from the config file's directory on
// top of the definition when the file exists.
func (l *ConfigLoader) mergeOverlay(def *Definition) error {
	used := l.v.ConfigFileUsed()
	if used == "" {
		return nil
	}

	overlayFile := filepath.Join(filepath.Dir(used), overlayFileName)
	if _, err := os.Stat(overlayFile); err != nil {
		return nil
	}

	cm, err := readYAMLFile(overlayFile)
	if err != nil {
		return fmt.Errorf("failed to read overlay config: %w", err)
	}

	overlay, err := decodeDefinition(cm)
	if err != nil {
		return fmt.Errorf("failed to decode overlay config: %w", err)
	}

	if err := mergo.Merge(def, overlay, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge overlay config: %w", err)
	}

	return nil
}

// readYAMLFile reads the contents of the file into a map.
func readYAMLFile(file string) (map[string]any, error) {
	data, err := os.ReadFile(file) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", file, err)
	}

	var cm map[string]any
	derr := yaml.NewDecoder(bytes.NewReader(data)).Decode(&cm)
	if errors.Is(derr, io.EOF) {
		derr = nil
	}

	return cm, derr
}

// decodeDefinition decodes the configuration map into a Definition.
func decodeDefinition(cm map[string]any) (*Definition, error) {
	def := new(Definition)
	md, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      def,
	})
	err := md.Decode(cm)

	return def, err
}

// buildConfig transforms the Definition into a validated Config structure.
// Scalar values resolve through viper (defaults and environment) first, with
// non-empty file values taking precedence.
func (l *ConfigLoader) buildConfig(def Definition) (*Config, error) {
	var cfg Config

	l.loadCoreConfig(&cfg, def)
	l.loadServerConfig(&cfg, def)
	if err := l.loadPathsConfig(&cfg, def); err != nil {
		return nil, err
	}
	l.loadExecConfig(&cfg, def)
	l.loadConsentConfig(&cfg, def)
	l.loadLLMConfig(&cfg, def)
	l.loadCacheConfig(&cfg, def)
	l.loadTelemetryConfig(&cfg, def)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *ConfigLoader) loadCoreConfig(cfg *Config, def Definition) {
	cfg.Core = Core{
		Debug:     l.v.GetBool("debug"),
		LogLevel:  l.v.GetString("log_level"),
		LogFormat: l.v.GetString("log_format"),
		TZ:        l.v.GetString("tz"),
	}

	if def.Debug != nil {
		cfg.Core.Debug = *def.Debug
	}
	setIfNotEmpty(&cfg.Core.LogLevel, def.LogLevel)
	setIfNotEmpty(&cfg.Core.LogFormat, def.LogFormat)
	setIfNotEmpty(&cfg.Core.TZ, def.TZ)
}

func (l *ConfigLoader) loadServerConfig(cfg *Config, def Definition) {
	cfg.Server = Server{
		Host:     l.v.GetString("host"),
		Port:     l.v.GetInt("port"),
		BasePath: l.v.GetString("base_path"),
		APIToken: l.v.GetString("api_token"),
		Permissions: map[Permission]bool{
			PermissionRunPlans:    true,
			PermissionSubmitPlans: true,
		},
		RequestTimeout:      time.Duration(l.v.GetInt("request_timeout_sec")) * time.Second,
		MaxBodyBytes:        l.v.GetInt64("max_body_bytes"),
		RateLimitPerMin:     l.v.GetInt("rate_limit_global_per_min"),
		RateLimitChatPerMin: l.v.GetInt("rate_limit_chat_per_min"),
	}

	setIfNotEmpty(&cfg.Server.Host, def.Host)
	if def.Port != nil {
		cfg.Server.Port = *def.Port
	}
	setIfNotEmpty(&cfg.Server.BasePath, def.BasePath)
	setIfNotEmpty(&cfg.Server.APIToken, def.APIToken)
	if def.RequestTimeoutSec != nil {
		cfg.Server.RequestTimeout = time.Duration(*def.RequestTimeoutSec) * time.Second
	}
	if def.MaxBodyBytes != nil {
		cfg.Server.MaxBodyBytes = *def.MaxBodyBytes
	}
	if def.RateLimitGlobalPerMin != nil {
		cfg.Server.RateLimitPerMin = *def.RateLimitGlobalPerMin
	}
	if def.RateLimitChatPerMin != nil {
		cfg.Server.RateLimitChatPerMin = *def.RateLimitChatPerMin
	}

	cfg.Server.BasePath = cleanBasePath(cfg.Server.BasePath)
}

func (l *ConfigLoader) loadPathsConfig(cfg *Config, def Definition) error {
	cfg.Paths = PathsConfig{
		DataDir:     l.v.GetString("paths.data_dir"),
		SandboxRoot: l.v.GetString("paths.sandbox_root"),
		DBPath:      l.v.GetString("paths.db_path"),
		PromptsDir:  l.v.GetString("paths.prompts_dir"),
	}

	if def.Paths != nil {
		setIfNotEmpty(&cfg.Paths.DataDir, def.Paths.DataDir)
		setIfNotEmpty(&cfg.Paths.SandboxRoot, def.Paths.SandboxRoot)
		setIfNotEmpty(&cfg.Paths.DBPath, def.Paths.DBPath)
		setIfNotEmpty(&cfg.Paths.PromptsDir, def.Paths.PromptsDir)
	}

	pathFields := []struct {
		name   string
		target *string
	}{
		{"data_dir", &cfg.Paths.DataDir},
		{"sandbox_root", &cfg.Paths.SandboxRoot},
		{"db_path", &cfg.Paths.DBPath},
		{"prompts_dir", &cfg.Paths.PromptsDir},
	}
	for _, f := range pathFields {
		resolved, err := resolvePath(f.name, *f.target)
		if err != nil {
			return err
		}
		*f.target = resolved
	}

	return nil
}

func (l *ConfigLoader) loadExecConfig(cfg *Config, def Definition) {
	cfg.Exec = Exec{
		Concurrency:     l.v.GetInt("exec.concurrency"),
		ReflectMaxIters: l.v.GetInt("exec.reflect_max_iters"),
	}

	if def.Exec != nil {
		if def.Exec.Concurrency != nil {
			cfg.Exec.Concurrency = *def.Exec.Concurrency
		}
		if def.Exec.ReflectMaxIters != nil {
			cfg.Exec.ReflectMaxIters = *def.Exec.ReflectMaxIters
		}
	}

	if cfg.Exec.Concurrency < 1 {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid exec.concurrency value: %d, using 2", cfg.Exec.Concurrency))
		cfg.Exec.Concurrency = 2
	}
}

func (l *ConfigLoader) loadConsentConfig(cfg *Config, def Definition) {
	cfg.Consent = Consent{
		Require:     l.v.GetBool("consent.require"),
		Auto:        l.v.GetBool("consent.auto"),
		TokenSecret: l.v.GetString("consent.token_secret"),
		TokenTTL:    l.parseDuration("consent.token_ttl", l.v.GetString("consent.token_ttl")),
	}

	if def.Consent != nil {
		if def.Consent.Require != nil {
			cfg.Consent.Require = *def.Consent.Require
		}
		if def.Consent.Auto != nil {
			cfg.Consent.Auto = *def.Consent.Auto
		}
		setIfNotEmpty(&cfg.Consent.TokenSecret, def.Consent.TokenSecret)
		if def.Consent.TokenTTL != "" {
			cfg.Consent.TokenTTL = l.parseDuration("consent.tokenTTL", def.Consent.TokenTTL)
		}
	}

	if cfg.Consent.TokenTTL <= 0 {
		cfg.Consent.TokenTTL = time.Hour
	}
}

func (l *ConfigLoader) loadLLMConfig(cfg *Config, def Definition) {
	cfg.LLM = LLM{
		Backend:          LLMBackend(l.v.GetString("llm.backend")),
		OllamaURL:        l.v.GetString("llm.ollama_url"),
		LlamaCPPURL:      l.v.GetString("llm.llamacpp_url"),
		Model:            l.v.GetString("llm.model"),
		AllowList:        parseStringList(l.v.Get("llm.allowlist")),
		DailyUSDBudget:   l.v.GetFloat64("llm.daily_usd_budget"),
		DailyTokenBudget: l.v.GetInt64("llm.daily_token_budget"),
		CacheTTL:         time.Duration(l.v.GetInt64("llm.cache_ttl_ms")) * time.Millisecond,
	}

	if def.LLM != nil {
		if def.LLM.Backend != "" {
			cfg.LLM.Backend = LLMBackend(def.LLM.Backend)
		}
		setIfNotEmpty(&cfg.LLM.OllamaURL, def.LLM.OllamaURL)
		setIfNotEmpty(&cfg.LLM.LlamaCPPURL, def.LLM.LlamaCPPURL)
		setIfNotEmpty(&cfg.LLM.Model, def.LLM.Model)
		if len(def.LLM.AllowList) > 0 {
			cfg.LLM.AllowList = def.LLM.AllowList
		}
		if def.LLM.DailyUSDBudget != nil {
			cfg.LLM.DailyUSDBudget = *def.LLM.DailyUSDBudget
		}
		if def.LLM.DailyTokenBudget != nil {
			cfg.LLM.DailyTokenBudget = *def.LLM.DailyTokenBudget
		}
		if def.LLM.CacheTTLMS != nil {
			cfg.LLM.CacheTTL = time.Duration(*def.LLM.CacheTTLMS) * time.Millisecond
		}
	}
}

func (l *ConfigLoader) loadCacheConfig(cfg *Config, def Definition) {
	cfg.Cache = Cache{
		Backend:  CacheBackend(l.v.GetString("cache.backend")),
		RedisURL: l.v.GetString("cache.redis_url"),
	}

	if def.Cache != nil {
		if def.Cache.Backend != "" {
			cfg.Cache.Backend = CacheBackend(def.Cache.Backend)
		}
		setIfNotEmpty(&cfg.Cache.RedisURL, def.Cache.RedisURL)
	}
}

func (l *ConfigLoader) loadTelemetryConfig(cfg *Config, def Definition) {
	cfg.Telemetry = Telemetry{
		MetricsEnabled: l.v.GetBool("telemetry.metrics_enabled"),
		OTELEndpoint:   l.v.GetString("telemetry.otel_endpoint"),
	}

	if def.Telemetry != nil {
		if def.Telemetry.MetricsEnabled != nil {
			cfg.Telemetry.MetricsEnabled = *def.Telemetry.MetricsEnabled
		}
		setIfNotEmpty(&cfg.Telemetry.OTELEndpoint, def.Telemetry.OTELEndpoint)
	}
}

// parseDuration parses a duration string, returning zero and adding a warning if invalid.
func (l *ConfigLoader) parseDuration(fieldName, value string) time.Duration {
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s value: %s", fieldName, value))
		return 0
	}
	return duration
}

func setIfNotEmpty(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// parseStringList parses comma-separated strings or string slices, filtering empty entries.
func parseStringList(input any) []string {
	var result []string

	switch v := input.(type) {
	case string:
		if v != "" {
			for _, s := range strings.Split(v, ",") {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					result = append(result, trimmed)
				}
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					result = append(result, trimmed)
				}
			}
		}
	case []string:
		for _, s := range v {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}

	return result
}

func cleanBasePath(s string) string {
	if s == "" {
		return ""
	}

	cleanPath := path.Clean(s)
	if !path.IsAbs(cleanPath) {
		cleanPath = path.Join("/", cleanPath)
	}

	// Root path is equivalent to no base path
	if cleanPath == "/" {
		return ""
	}
	return cleanPath
}

// resolvePath expands a leading ~ and makes the path absolute. Empty paths
// are returned as-is.
func resolvePath(fieldName, pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	resolved := expandHome(pathValue)
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s path %q: %w", fieldName, pathValue, err)
	}
	return abs, nil
}

func resolvePathOrBlank(pathValue string) string {
	resolved, err := resolvePath("", pathValue)
	if err != nil {
		return pathValue
	}
	return resolved
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
