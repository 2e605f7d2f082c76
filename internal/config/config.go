package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Profiles ProfilesConfig `yaml:"profiles" mapstructure:"profiles"`
	Matcher  MatcherConfig  `yaml:"matcher" mapstructure:"matcher"`
	AI       AIConfig       `yaml:"ai" mapstructure:"ai"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the Postgres connection pool. Zero values keep pgx defaults.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MaxBodyBytes       int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// CatalogConfig configures the subsidy catalog.
type CatalogConfig struct {
	Path              string `yaml:"path" mapstructure:"path"`
	Strict            bool   `yaml:"strict" mapstructure:"strict"`
	ReloadIntervalSec int    `yaml:"reload_interval_secs" mapstructure:"reload_interval_secs"`
}

// ProfilesConfig locates farm profile documents.
type ProfilesConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// MatcherConfig configures the matching orchestrator.
type MatcherConfig struct {
	Concurrency     int  `yaml:"concurrency" mapstructure:"concurrency"`
	AITimeoutMs     int  `yaml:"ai_timeout_ms" mapstructure:"ai_timeout_ms"`
	AIEligibleOnly  bool `yaml:"ai_eligible_only" mapstructure:"ai_eligible_only"`
	Recommendations int  `yaml:"recommendations" mapstructure:"recommendations"`
}

// AIConfig configures the supplementary AI signal.
type AIConfig struct {
	Provider          string          `yaml:"provider" mapstructure:"provider"`
	FallbackHeuristic bool            `yaml:"fallback_heuristic" mapstructure:"fallback_heuristic"`
	RatePerSecond     float64         `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst             int             `yaml:"burst" mapstructure:"burst"`
	Anthropic         AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Retry             RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit           CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetryConfig configures retries of AI calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the AI circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RequestTimeout returns the per-request HTTP timeout.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// ReloadInterval returns the catalog poll interval; zero disables polling.
func (c CatalogConfig) ReloadInterval() time.Duration {
	return time.Duration(c.ReloadIntervalSec) * time.Second
}

// AITimeout returns the per-item budget for the AI signal.
func (m MatcherConfig) AITimeout() time.Duration {
	return time.Duration(m.AITimeoutMs) * time.Millisecond
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUBSIDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "subsidy-match.db")
	v.SetDefault("store.pool.max_conns", 0)
	v.SetDefault("store.pool.min_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("catalog.strict", false)
	v.SetDefault("catalog.reload_interval_secs", 0)
	v.SetDefault("profiles.dir", "profiles")
	v.SetDefault("matcher.concurrency", 8)
	v.SetDefault("matcher.ai_timeout_ms", 10000)
	v.SetDefault("matcher.ai_eligible_only", false)
	v.SetDefault("matcher.recommendations", 3)
	v.SetDefault("ai.provider", "none")
	v.SetDefault("ai.fallback_heuristic", true)
	v.SetDefault("ai.rate_per_second", 2.0)
	v.SetDefault("ai.burst", 4)
	v.SetDefault("ai.anthropic.key", "")
	v.SetDefault("ai.anthropic.base_url", "")
	v.SetDefault("ai.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("ai.anthropic.max_tokens", 256)
	v.SetDefault("ai.anthropic.timeout_secs", 20)
	v.SetDefault("ai.retry.max_attempts", 2)
	v.SetDefault("ai.retry.initial_backoff_ms", 250)
	v.SetDefault("ai.retry.max_backoff_ms", 2000)
	v.SetDefault("ai.retry.multiplier", 2.0)
	v.SetDefault("ai.retry.jitter_fraction", 0.2)
	v.SetDefault("ai.circuit.failure_threshold", 5)
	v.SetDefault("ai.circuit.reset_timeout_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "serve",
// "match", "runs" or "catalog".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	needsStore := mode == "serve" || mode == "match" || mode == "runs"
	if needsStore && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	needsCatalog := mode == "serve" || mode == "match" || mode == "catalog"
	if needsCatalog && c.Catalog.Path == "" {
		problems = append(problems, "catalog.path is required")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if mode == "serve" || mode == "match" {
		if c.Matcher.Concurrency < 1 {
			problems = append(problems, "matcher.concurrency must be at least 1")
		}
		if c.Matcher.Recommendations < 0 {
			problems = append(problems, "matcher.recommendations must not be negative")
		}
		switch c.AI.Provider {
		case "", "none", "heuristic":
		case "claude":
			if c.AI.Anthropic.Key == "" && !c.AI.FallbackHeuristic {
				problems = append(problems, "ai.anthropic.key is required")
			}
		default:
			problems = append(problems, "ai.provider must be none, heuristic or claude")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
