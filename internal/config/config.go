package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Waterfall  WaterfallConfig  `yaml:"waterfall" mapstructure:"waterfall"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	NATS       NATSConfig       `yaml:"nats" mapstructure:"nats"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. Driver is "sqlite",
// "postgres" or "memory".
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CacheConfig controls the cache stage.
type CacheConfig struct {
	Enabled  bool `yaml:"enabled" mapstructure:"enabled"`
	TTLHours int  `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// WaterfallConfig holds waterfall tuning. ConfigPath optionally points at a
// YAML file with per-stage provider lists.
type WaterfallConfig struct {
	ConfigPath             string `yaml:"config_path" mapstructure:"config_path"`
	LowConfidenceThreshold int    `yaml:"low_confidence_threshold" mapstructure:"low_confidence_threshold"`
	HalfLifeDays           int    `yaml:"half_life_days" mapstructure:"half_life_days"`
	DecayFloor             int    `yaml:"decay_floor" mapstructure:"decay_floor"`
}

// BudgetConfig holds spend defaults in cents.
type BudgetConfig struct {
	DefaultEntityCents   int  `yaml:"default_entity_cents" mapstructure:"default_entity_cents"`
	ChargeFailedAttempts bool `yaml:"charge_failed_attempts" mapstructure:"charge_failed_attempts"`
}

// RetryConfig configures provider call retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	CallTimeoutSecs  int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
}

// CircuitConfig configures the per-provider circuit breaker.
type CircuitConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int  `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ProvidersConfig groups provider credentials and prices.
type ProvidersConfig struct {
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	ContactOut ContactOutConfig `yaml:"contactout" mapstructure:"contactout"`
	LinkedIn   LinkedInConfig   `yaml:"linkedin" mapstructure:"linkedin"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
}

// JinaConfig holds Jina AI Reader settings. CostCents prices the website
// provider that reads through it.
type JinaConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	CostCents int     `yaml:"cost_cents" mapstructure:"cost_cents"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Model     string  `yaml:"model" mapstructure:"model"`
	CostCents int     `yaml:"cost_cents" mapstructure:"cost_cents"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	CostCents int    `yaml:"cost_cents" mapstructure:"cost_cents"`
}

// ContactOutConfig holds ContactOut API settings.
type ContactOutConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	CostCents int     `yaml:"cost_cents" mapstructure:"cost_cents"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	CostCents int     `yaml:"cost_cents" mapstructure:"cost_cents"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LinkedInConfig prices the LinkedIn profile provider.
type LinkedInConfig struct {
	CostCents int `yaml:"cost_cents" mapstructure:"cost_cents"`
}

// QueueConfig selects the job queue backend: "store" uses the configured
// database, "nats" uses JetStream.
type QueueConfig struct {
	Backend          string `yaml:"backend" mapstructure:"backend"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// NATSConfig configures the JetStream job queue. Events is the subject
// prefix job lifecycle events are published under.
type NATSConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Stream      string `yaml:"stream" mapstructure:"stream"`
	Subject     string `yaml:"subject" mapstructure:"subject"`
	Durable     string `yaml:"durable" mapstructure:"durable"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	Events      string `yaml:"events" mapstructure:"events"`
	AckWaitSecs int    `yaml:"ack_wait_secs" mapstructure:"ack_wait_secs"`
	MaxDeliver  int    `yaml:"max_deliver" mapstructure:"max_deliver"`
}

// NotionConfig holds Notion API credentials.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SalesforceConfig holds Salesforce JWT auth settings for salesforce://
// sources.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// AllowAllOrigins relaxes CORS to any origin.
	AllowAllOrigins bool `yaml:"allow_all_origins" mapstructure:"allow_all_origins"`
	// MaxRows caps the rows accepted by one synchronous request.
	MaxRows int `yaml:"max_rows" mapstructure:"max_rows"`
}

// MonitoringConfig configures job health checks. Alerts are posted to
// WebhookURL when a threshold is crossed. A zero CostThresholdCents
// disables the cost check.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdCents   int     `yaml:"cost_threshold_cents" mapstructure:"cost_threshold_cents"`
	StallMinutes         int     `yaml:"stall_minutes" mapstructure:"stall_minutes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from a YAML file and the environment. With an
// empty path ./config.yaml is used when present; an explicit path must
// exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enrich.db")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_hours", 720)
	v.SetDefault("waterfall.low_confidence_threshold", 60)
	v.SetDefault("waterfall.half_life_days", 180)
	v.SetDefault("waterfall.decay_floor", 40)
	v.SetDefault("budget.default_entity_cents", 50)
	v.SetDefault("budget.charge_failed_attempts", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.call_timeout_secs", 30)
	v.SetDefault("circuit.enabled", true)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("providers.jina.base_url", "https://r.jina.ai")
	v.SetDefault("providers.jina.cost_cents", 0)
	v.SetDefault("providers.jina.rate_limit", 5.0)
	v.SetDefault("providers.perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("providers.perplexity.model", "sonar-pro")
	v.SetDefault("providers.perplexity.cost_cents", 2)
	v.SetDefault("providers.perplexity.rate_limit", 2.0)
	v.SetDefault("providers.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("providers.anthropic.max_tokens", 1024)
	v.SetDefault("providers.anthropic.cost_cents", 1)
	v.SetDefault("providers.contactout.base_url", "https://api.contactout.com")
	v.SetDefault("providers.contactout.cost_cents", 25)
	v.SetDefault("providers.contactout.rate_limit", 1.0)
	v.SetDefault("providers.google.cost_cents", 1)
	v.SetDefault("providers.google.rate_limit", 10.0)
	v.SetDefault("providers.linkedin.cost_cents", 10)
	v.SetDefault("queue.backend", "store")
	v.SetDefault("queue.poll_interval_secs", 2)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "ENRICH_JOBS")
	v.SetDefault("nats.subject", "enrich.jobs")
	v.SetDefault("nats.durable", "enrich-workers")
	v.SetDefault("nats.bucket", "enrich_jobs")
	v.SetDefault("nats.events", "enrich.events")
	v.SetDefault("nats.ack_wait_secs", 600)
	v.SetDefault("nats.max_deliver", 3)
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("batch.concurrency", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_rows", 500)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.stall_minutes", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// envOnlyKeys have no default, so AutomaticEnv alone would not surface them
// to Unmarshal.
var envOnlyKeys = []string{
	"waterfall.config_path",
	"providers.jina.key",
	"providers.perplexity.key",
	"providers.anthropic.key",
	"providers.contactout.key",
	"providers.google.key",
	"notion.token",
	"salesforce.client_id",
	"salesforce.username",
	"salesforce.key_path",
	"server.allow_all_origins",
	"monitoring.enabled",
	"monitoring.webhook_url",
	"monitoring.cost_threshold_cents",
}

// Validate checks the settings a command mode depends on. Mode is one of
// "resolve", "run", "worker" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}
	if c.Budget.DefaultEntityCents < 0 {
		errs = append(errs, "budget.default_entity_cents must be >= 0")
	}
	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
		errs = append(errs, "batch.concurrency must be between 1 and 64")
	}
	if c.Waterfall.LowConfidenceThreshold < 0 || c.Waterfall.LowConfidenceThreshold > 100 {
		errs = append(errs, "waterfall.low_confidence_threshold must be between 0 and 100")
	}

	switch mode {
	case "resolve", "run":
	case "worker":
		errs = append(errs, c.validateQueue()...)
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateQueue()...)
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateQueue() []string {
	switch c.Queue.Backend {
	case "store":
		if c.Store.Driver == "memory" {
			return []string{"queue.backend store needs a sqlite or postgres store"}
		}
	case "nats":
		if c.NATS.URL == "" {
			return []string{"nats.url is required for the nats queue"}
		}
	default:
		return []string{fmt.Sprintf("queue.backend %q is not one of store, nats", c.Queue.Backend)}
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
