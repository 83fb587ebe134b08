// Package config loads application configuration from file and
// environment and bootstraps the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/sitewatch-cli/internal/scoring"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Scoring   scoring.Config  `yaml:"scoring" mapstructure:"scoring"`
	Probe     ProbeConfig     `yaml:"probe" mapstructure:"probe"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProbeConfig configures website probing.
type ProbeConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRedirects      int     `yaml:"max_redirects" mapstructure:"max_redirects"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	SlowResponseMs    int     `yaml:"slow_response_ms" mapstructure:"slow_response_ms"`
	RedirectChainLen  int     `yaml:"redirect_chain_len" mapstructure:"redirect_chain_len"`
	LastModifiedYears int     `yaml:"last_modified_years" mapstructure:"last_modified_years"`
	CopyrightStaleYrs int     `yaml:"copyright_stale_years" mapstructure:"copyright_stale_years"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	RequestBurst      int     `yaml:"request_burst" mapstructure:"request_burst"`
}

// RetryConfig configures retry/backoff for network probes.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	RunBudget        int     `yaml:"run_budget" mapstructure:"run_budget"`
}

// DiscoveryConfig configures the candidate source.
type DiscoveryConfig struct {
	Cities      []string `yaml:"cities" mapstructure:"cities"`
	Queries     []string `yaml:"queries" mapstructure:"queries"`
	MaxPerQuery int      `yaml:"max_per_query" mapstructure:"max_per_query"`
}

// ExportConfig configures qualification and delivery of leads.
type ExportConfig struct {
	FreshnessWindowDays int    `yaml:"freshness_window_days" mapstructure:"freshness_window_days"`
	Limit               int    `yaml:"limit" mapstructure:"limit"`
	OutputDir           string `yaml:"output_dir" mapstructure:"output_dir"`
	Format              string `yaml:"format" mapstructure:"format"`
	SubscribersFile     string `yaml:"subscribers_file" mapstructure:"subscribers_file"`
}

// PipelineConfig configures run orchestration.
type PipelineConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SITEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/leads.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.concurrency", 8)
	v.SetDefault("probe.timeout_secs", 15)
	v.SetDefault("probe.max_redirects", 5)
	v.SetDefault("probe.slow_response_ms", 4000)
	v.SetDefault("probe.redirect_chain_len", 3)
	v.SetDefault("probe.last_modified_years", 2)
	v.SetDefault("probe.copyright_stale_years", 2)
	v.SetDefault("probe.requests_per_second", 2.0)
	v.SetDefault("probe.request_burst", 4)
	v.SetDefault("probe.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 2000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("retry.run_budget", 50)
	v.SetDefault("discovery.max_per_query", 50)
	v.SetDefault("export.freshness_window_days", 90)
	v.SetDefault("export.limit", 500)
	v.SetDefault("export.output_dir", "output")
	v.SetDefault("export.format", "csv")
	v.SetDefault("scoring.threshold", 40)
	v.SetDefault("scoring.social_only_policy", scoring.SocialOnlyScore)
	v.SetDefault("scoring.tiers.hot", 80)
	v.SetDefault("scoring.tiers.warm", 60)
	v.SetDefault("scoring.tiers.cool", 40)

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

	// The weight table is code-driven; the file/env layer only overrides it.
	defaults := scoring.DefaultConfig()
	if len(cfg.Scoring.Weights) == 0 {
		cfg.Scoring.Weights = defaults.Weights
	}
	if len(cfg.Scoring.Bonuses) == 0 {
		cfg.Scoring.Bonuses = defaults.Bonuses
	}
	if cfg.Scoring.RulesFile != "" {
		sc, err := scoring.ApplyRulesFile(cfg.Scoring, cfg.Scoring.RulesFile)
		if err != nil {
			return nil, err
		}
		cfg.Scoring = sc
	}
	if err := scoring.Validate(cfg.Scoring); err != nil {
		return nil, err
	}

	return &cfg, nil
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
