package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Tavily     TavilyConfig     `yaml:"tavily" mapstructure:"tavily"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Grouping   GroupingConfig   `yaml:"grouping" mapstructure:"grouping"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// TavilyConfig holds Tavily search settings.
type TavilyConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	SearchDepth string  `yaml:"search_depth" mapstructure:"search_depth"`
	MaxResults  int     `yaml:"max_results" mapstructure:"max_results"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// FirecrawlConfig holds Firecrawl scrape settings.
type FirecrawlConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string   `yaml:"key" mapstructure:"key"`
	BaseURL    string   `yaml:"base_url" mapstructure:"base_url"`
	Model      string   `yaml:"model" mapstructure:"model"`
	RatePerSec float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Categories []string `yaml:"categories" mapstructure:"categories"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Dir      string `yaml:"dir" mapstructure:"dir"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CheckpointConfig configures batch checkpoints.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver  string `yaml:"driver" mapstructure:"driver"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// StoreConfig configures the run history database. An empty driver
// disables run history.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Size    int `yaml:"size" mapstructure:"size"`
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// RetryConfig configures collaborator retries.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BreakerConfig configures per-collaborator circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// GroupingConfig configures variant grouping.
type GroupingConfig struct {
	// LexiconPath points at a YAML attribute lexicon. Empty uses the
	// built-in lexicon.
	LexiconPath string `yaml:"lexicon_path" mapstructure:"lexicon_path"`
}

// ExportConfig configures the catalog export.
type ExportConfig struct {
	Format         string `yaml:"format" mapstructure:"format"`
	Output         string `yaml:"output" mapstructure:"output"`
	RecordsPerFile int    `yaml:"records_per_file" mapstructure:"records_per_file"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// flagKeys maps command-line flags to the settings they override.
var flagKeys = map[string]string{
	"batch-size":  "batch.size",
	"max-workers": "batch.workers",
}

// Load reads configuration from file and environment. Flags of the given
// sets take precedence over both when they were set on the command line.
func Load(flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("tavily.base_url", "https://api.tavily.com")
	v.SetDefault("tavily.search_depth", "advanced")
	v.SetDefault("tavily.max_results", 10)
	v.SetDefault("tavily.rate_per_sec", 2.0)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("firecrawl.rate_per_sec", 2.0)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.rate_per_sec", 5.0)
	v.SetDefault("cache.driver", "file")
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("checkpoint.enabled", true)
	v.SetDefault("checkpoint.driver", "file")
	v.SetDefault("checkpoint.dir", "checkpoints")
	v.SetDefault("batch.size", 100)
	v.SetDefault("batch.workers", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.timeout", 30*time.Second)
	v.SetDefault("retry.initial_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.1)
	v.SetDefault("breaker.failure_threshold", 10)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)
	v.SetDefault("export.format", "shopify")
	v.SetDefault("export.output", "output/shopify_products.csv")
	v.SetDefault("export.records_per_file", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	for _, fs := range flags {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return eris.Wrapf(err, "config: bind flag %s", name)
		}
	}
	if f := fs.Lookup("no-checkpoints"); f != nil && f.Changed && f.Value.String() == "true" {
		v.Set("checkpoint.enabled", false)
	}
	return nil
}

// Validate checks the settings a run depends on. Online runs need all three
// API keys.
func (c *Config) Validate(offline bool) error {
	var problems []string
	if c.Batch.Size <= 0 {
		problems = append(problems, "batch.size must be positive")
	}
	if c.Batch.Workers <= 0 {
		problems = append(problems, "batch.workers must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		problems = append(problems, "retry.max_attempts must be positive")
	}
	if c.Retry.Timeout <= 0 {
		problems = append(problems, "retry.timeout must be positive")
	}
	if c.Export.RecordsPerFile <= 0 {
		problems = append(problems, "export.records_per_file must be positive")
	}
	switch c.Export.Format {
	case "shopify", "json":
	default:
		problems = append(problems, "export.format must be shopify or json")
	}
	if !offline {
		if c.Tavily.Key == "" {
			problems = append(problems, "tavily.key is required")
		}
		if c.Firecrawl.Key == "" {
			problems = append(problems, "firecrawl.key is required")
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	}
	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
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
