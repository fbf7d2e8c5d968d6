// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. RESULTS_SCHEDULER_CONCURRENCY.
const EnvPrefix = "RESULTS"

// Config captures all service configuration knobs.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

// AuthConfig toggles API key checks.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PortalConfig drives the browser session against the result portal.
type PortalConfig struct {
	URL               string  `mapstructure:"url"`
	ProgramSelector   string  `mapstructure:"program_selector"`
	NavTimeoutSeconds int     `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs     int     `mapstructure:"settle_delay_ms"`
	Headless          bool    `mapstructure:"headless"`
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CaptchaConfig points at the recognition service.
type CaptchaConfig struct {
	ServiceURL            string `mapstructure:"service_url"`
	TimeoutMs             int    `mapstructure:"timeout_ms"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// SchedulerConfig governs batching and retries.
type SchedulerConfig struct {
	Concurrency  int `mapstructure:"concurrency"`
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
	MaxAttempts  int `mapstructure:"max_attempts"`
	QueueDepth   int `mapstructure:"queue_depth"`
	MaxRange     int `mapstructure:"max_range"`
}

// StorageConfig sets where journals and exports are written.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig enables the Postgres stores when DSN is set.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	ResultsTable string `mapstructure:"results_table"`
	RunsTable    string `mapstructure:"runs_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables run notifications when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig selects progress sinks.
type ProgressConfig struct {
	LogEvents bool `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := applyPlainEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("portal.url", "http://result.rgpv.ac.in/Result/ProgramSelect.aspx")
	v.SetDefault("portal.program_selector", "#radlstProgram_1")
	v.SetDefault("portal.nav_timeout_seconds", 90)
	v.SetDefault("portal.settle_delay_ms", 2000)
	v.SetDefault("portal.headless", true)
	v.SetDefault("portal.requests_per_second", 0)
	v.SetDefault("portal.burst", 1)
	v.SetDefault("captcha.service_url", "https://captcha-solver-api-fucaezhgcca0dwda.centralindia-01.azurewebsites.net/solve_captcha")
	v.SetDefault("captcha.timeout_ms", 20000)
	v.SetDefault("captcha.request_timeout_seconds", 30)
	v.SetDefault("scheduler.concurrency", 10)
	v.SetDefault("scheduler.retry_delay_ms", 2000)
	v.SetDefault("scheduler.max_attempts", 0)
	v.SetDefault("scheduler.queue_depth", 16)
	v.SetDefault("scheduler.max_range", 100000)
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("db.results_table", "results")
	v.SetDefault("db.runs_table", "runs")
	v.SetDefault("progress.log_events", false)
	v.SetDefault("logging.development", true)
}

// applyPlainEnv honors the unprefixed variables the service has always read.
func applyPlainEnv(cfg *Config) error {
	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if origin := os.Getenv("CORS_ORIGIN"); origin != "" {
		cfg.Server.CORSOrigin = origin
	}
	if url := os.Getenv("CAPTCHA_SERVICE_URL"); url != "" {
		cfg.Captcha.ServiceURL = url
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("server.port must be > 0")
	case c.Auth.Enabled && c.Auth.APIKey == "":
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	case c.Scheduler.Concurrency <= 0:
		return fmt.Errorf("scheduler.concurrency must be > 0")
	case c.Scheduler.RetryDelayMs < 0:
		return fmt.Errorf("scheduler.retry_delay_ms must be >= 0")
	case c.Scheduler.MaxAttempts < 0:
		return fmt.Errorf("scheduler.max_attempts must be >= 0 (0 means unbounded)")
	case c.Scheduler.QueueDepth <= 0:
		return fmt.Errorf("scheduler.queue_depth must be > 0")
	case c.Scheduler.MaxRange <= 0:
		return fmt.Errorf("scheduler.max_range must be > 0")
	case c.Captcha.ServiceURL == "":
		return fmt.Errorf("captcha.service_url is required")
	case c.Captcha.TimeoutMs <= 0:
		return fmt.Errorf("captcha.timeout_ms must be > 0")
	case c.Portal.NavTimeoutSeconds <= 0:
		return fmt.Errorf("portal.nav_timeout_seconds must be > 0")
	case c.Portal.RequestsPerSecond < 0:
		return fmt.Errorf("portal.requests_per_second must be >= 0")
	case c.Storage.OutputDir == "":
		return fmt.Errorf("storage.output_dir is required")
	case (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == ""):
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// RetryDelay is the pause between attempts of one roll.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Scheduler.RetryDelayMs) * time.Millisecond
}

// CaptchaTimeout bounds one CAPTCHA solve.
func (c Config) CaptchaTimeout() time.Duration {
	return time.Duration(c.Captcha.TimeoutMs) * time.Millisecond
}

// NavigationTimeout bounds one whole portal attempt.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Portal.NavTimeoutSeconds) * time.Second
}

// SettleDelay is the pause between portal form steps.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Portal.SettleDelayMs) * time.Millisecond
}
