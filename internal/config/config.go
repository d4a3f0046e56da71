// Package config loads application configuration from config.yaml and the
// environment and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/contact-intel/internal/discovery"
	"github.com/sells-group/contact-intel/internal/learning"
	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/pattern"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig            `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig        `yaml:"anthropic" mapstructure:"anthropic"`
	Discovery  discovery.Config       `yaml:"discovery" mapstructure:"discovery"`
	Validation model.ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Learning   learning.Config        `yaml:"learning" mapstructure:"learning"`
	Monitoring MonitoringConfig       `yaml:"monitoring" mapstructure:"monitoring"`
	Scheduler  SchedulerConfig        `yaml:"scheduler" mapstructure:"scheduler"`
	Server     ServerConfig           `yaml:"server" mapstructure:"server"`
	Log        LogConfig              `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string             `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string             `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string             `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        pattern.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings for the feedback interpreter.
// An empty key disables the interpreter; the rule table takes over.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`

	// Circuit breaker settings for the interpreter calls.
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// MonitoringConfig configures health thresholds and alert delivery.
type MonitoringConfig struct {
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FeedbackBacklogThreshold int     `yaml:"feedback_backlog_threshold" mapstructure:"feedback_backlog_threshold"`
	MinValidationSuccessRate float64 `yaml:"min_validation_success_rate" mapstructure:"min_validation_success_rate"`
	MinLearningConfidence    float64 `yaml:"min_learning_confidence" mapstructure:"min_learning_confidence"`
}

// SchedulerConfig configures the background job loops.
type SchedulerConfig struct {
	DiscoveryIntervalHours  int `yaml:"discovery_interval_hours" mapstructure:"discovery_interval_hours"`
	ValidationIntervalHours int `yaml:"validation_interval_hours" mapstructure:"validation_interval_hours"`
	FeedbackIntervalSecs    int `yaml:"feedback_interval_secs" mapstructure:"feedback_interval_secs"`
	EmergencyLookbackDays   int `yaml:"emergency_lookback_days" mapstructure:"emergency_lookback_days"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("CONTACT_INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "contact-intel.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.requests_per_minute", 60)
	v.SetDefault("anthropic.circuit_failure_threshold", 5)
	v.SetDefault("anthropic.circuit_reset_secs", 60)
	v.SetDefault("discovery.min_supporting_sessions", 4)
	v.SetDefault("discovery.min_confidence", 0.5)
	v.SetDefault("discovery.baseline_lift", 1.2)
	v.SetDefault("discovery.lookback_days", 30)
	v.SetDefault("discovery.max_concurrency", 4)
	v.SetDefault("validation.min_users_per_group", 5)
	v.SetDefault("validation.duration_days", 14)
	v.SetDefault("validation.significance_threshold", 0.05)
	v.SetDefault("validation.min_effect_size", 0.05)
	v.SetDefault("validation.desired_power", 0.8)
	v.SetDefault("validation.early_stopping", true)
	v.SetDefault("learning.persist_threshold", 0.8)
	v.SetDefault("learning.working_set_floor", 0.7)
	v.SetDefault("learning.adjustment_scale", 0.05)
	v.SetDefault("learning.batch_size", 200)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.feedback_backlog_threshold", 500)
	v.SetDefault("monitoring.min_validation_success_rate", 0.3)
	v.SetDefault("monitoring.min_learning_confidence", 0.2)
	v.SetDefault("scheduler.discovery_interval_hours", 24)
	v.SetDefault("scheduler.validation_interval_hours", 6)
	v.SetDefault("scheduler.feedback_interval_secs", 60)
	v.SetDefault("scheduler.emergency_lookback_days", 2)

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

// Validate checks that the configuration is usable for the given mode.
// Modes: "serve", "discover", "validate", "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve", "discover", "validate", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if c.Discovery.MinConfidence < 0 || c.Discovery.MinConfidence > 1 {
		problems = append(problems, "discovery.min_confidence must be between 0 and 1")
	}
	if c.Discovery.MaxConcurrency < 0 || c.Discovery.MaxConcurrency > 64 {
		problems = append(problems, "discovery.max_concurrency must be between 0 and 64")
	}
	if c.Validation.SignificanceThreshold < 0 || c.Validation.SignificanceThreshold > 1 {
		problems = append(problems, "validation.significance_threshold must be between 0 and 1")
	}
	if c.Learning.PersistThreshold < 0 || c.Learning.PersistThreshold > 1 {
		problems = append(problems, "learning.persist_threshold must be between 0 and 1")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
