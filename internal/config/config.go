package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/tsinsight/internal/analysis/changepoint"
	"github.com/aaronlmathis/tsinsight/internal/analysis/outlier"
	"github.com/aaronlmathis/tsinsight/internal/source"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
	"github.com/aaronlmathis/tsinsight/internal/timeseries/aggregator"
)

// Source kinds
const (
	SourceMemory     = "memory"
	SourcePrometheus = "prometheus"
	SourceSQLite     = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Logging    LoggingConfig     `yaml:"logging"`
	Analysis   AnalysisConfig    `yaml:"analysis"`
	Source     SourceConfig      `yaml:"source"`
	Store      timeseries.Config `yaml:"store"`
	Kubernetes KubernetesConfig  `yaml:"kubernetes"`
	Collector  CollectorConfig   `yaml:"collector"`
	RateLimits RateLimitsConfig  `yaml:"rate_limits"`
	Aggregator aggregator.Config `yaml:"aggregator"`
}

// ServerConfig represents the server configuration
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	BasePath       string        `yaml:"base_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxBodyBytes caps analysis request bodies
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AnalysisConfig holds the engine defaults applied when a request omits them
type AnalysisConfig struct {
	Penalty           *float64          `yaml:"penalty"`
	WindowSize        int               `yaml:"window_size"`
	ResidualThreshold float64           `yaml:"residual_threshold"`
	Policies          map[string]string `yaml:"policies"`
	OverrideKey       string            `yaml:"override_key"`
}

// SourceConfig selects where entity series are read from
type SourceConfig struct {
	Kind       string                  `yaml:"kind"`
	Prometheus source.PrometheusConfig `yaml:"prometheus"`
	SQLite     source.SQLiteConfig     `yaml:"sqlite"`
}

// KubernetesConfig represents the Kubernetes configuration
type KubernetesConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"`
	KubeconfigPath string `yaml:"kubeconfig_path"`
}

// CollectorConfig configures the PodMetrics poller
type CollectorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Namespace string        `yaml:"namespace"`
}

// MaxAnalysisPerMinute caps the per-client analysis rate
const MaxAnalysisPerMinute = 60000

// RateLimitsConfig represents the rate limits configuration
type RateLimitsConfig struct {
	AnalysisPerMinute int `yaml:"analysis_per_minute"`
}

// Default returns the built-in configuration
func Default() *Config {
	outlierDefaults := outlier.DefaultConfig()
	table := aggregator.DefaultPolicyTable()
	collector := source.DefaultCollectorConfig()

	return &Config{
		Server: ServerConfig{
			Addr:           "0.0.0.0:8080",
			BasePath:       "/",
			RequestTimeout: 60 * time.Second,
			MaxBodyBytes:   8 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Analysis: AnalysisConfig{
			WindowSize:        outlierDefaults.WindowSize,
			ResidualThreshold: outlierDefaults.ResidualThreshold,
			Policies:          table.Policies,
			OverrideKey:       table.OverrideKey,
		},
		Source: SourceConfig{
			Kind:       SourceMemory,
			Prometheus: source.DefaultPrometheusConfig(),
			SQLite:     source.DefaultSQLiteConfig(),
		},
		Store: timeseries.DefaultConfig(),
		Kubernetes: KubernetesConfig{
			Mode: "kubeconfig",
		},
		Collector: CollectorConfig{
			Interval: collector.Interval,
		},
		RateLimits: RateLimitsConfig{
			AnalysisPerMinute: 120,
		},
		Aggregator: aggregator.DefaultConfig(),
	}
}

// Load loads the configuration from environment variables and defaults
func Load() (*Config, error) {
	return loadWithDefaults("")
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

// loadWithDefaults layers defaults, then the optional file, then the environment
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFromYAMLFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// loadFromYAMLFile decodes the file over cfg; keys absent from the file keep
// their current values.
func loadFromYAMLFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("TSI_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.BasePath = getEnv("TSI_BASE_PATH", cfg.Server.BasePath)
	cfg.Server.RequestTimeout = getEnvDuration("TSI_REQUEST_TIMEOUT", cfg.Server.RequestTimeout)
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Level = getEnv("TSI_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("TSI_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("TSI_LOG_FILE", cfg.Logging.File)

	if value := os.Getenv("TSI_PENALTY"); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.Analysis.Penalty = &parsed
		}
	}
	cfg.Analysis.WindowSize = getEnvInt("TSI_WINDOW_SIZE", cfg.Analysis.WindowSize)
	cfg.Analysis.ResidualThreshold = getEnvFloat("TSI_RESIDUAL_THRESHOLD", cfg.Analysis.ResidualThreshold)
	cfg.Analysis.OverrideKey = getEnv("TSI_OVERRIDE_KEY", cfg.Analysis.OverrideKey)

	cfg.Source.Kind = getEnv("TSI_SOURCE_KIND", cfg.Source.Kind)
	cfg.Source.Prometheus.URL = getEnv("TSI_PROMETHEUS_URL", cfg.Source.Prometheus.URL)
	cfg.Source.Prometheus.Timeout = getEnvDuration("TSI_PROMETHEUS_TIMEOUT", cfg.Source.Prometheus.Timeout)
	cfg.Source.Prometheus.Lookback = getEnvDuration("TSI_PROMETHEUS_LOOKBACK", cfg.Source.Prometheus.Lookback)
	cfg.Source.Prometheus.Step = getEnvDuration("TSI_PROMETHEUS_STEP", cfg.Source.Prometheus.Step)
	cfg.Source.SQLite.Path = getEnv("TSI_SQLITE_PATH", cfg.Source.SQLite.Path)

	cfg.Kubernetes.Enabled = getEnvBool("TSI_KUBE_ENABLED", cfg.Kubernetes.Enabled)
	cfg.Kubernetes.Mode = getEnv("TSI_KUBE_MODE", cfg.Kubernetes.Mode)
	cfg.Kubernetes.KubeconfigPath = getEnv("KUBECONFIG", cfg.Kubernetes.KubeconfigPath)

	cfg.Collector.Enabled = getEnvBool("TSI_COLLECTOR_ENABLED", cfg.Collector.Enabled)
	cfg.Collector.Interval = getEnvDuration("TSI_COLLECTOR_INTERVAL", cfg.Collector.Interval)
	cfg.Collector.Namespace = getEnv("TSI_COLLECTOR_NAMESPACE", cfg.Collector.Namespace)

	cfg.RateLimits.AnalysisPerMinute = getEnvInt("TSI_ANALYSIS_PER_MINUTE", cfg.RateLimits.AnalysisPerMinute)

	cfg.Aggregator.MaxConcurrentFetches = getEnvInt("TSI_MAX_CONCURRENT_FETCHES", cfg.Aggregator.MaxConcurrentFetches)
	cfg.Aggregator.FetchTimeout = getEnvDuration("TSI_FETCH_TIMEOUT", cfg.Aggregator.FetchTimeout)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be 'debug', 'info', 'warn' or 'error'")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if err := c.ChangepointConfig().Validate(); err != nil {
		return fmt.Errorf("invalid analysis penalty: %w", err)
	}
	// a series exactly one window long is the smallest the defaults accept
	if err := c.OutlierConfig().Validate(c.Analysis.WindowSize); err != nil {
		return fmt.Errorf("invalid outlier defaults: %w", err)
	}
	if err := c.PolicyTable().Validate(); err != nil {
		return fmt.Errorf("invalid aggregation policies: %w", err)
	}

	switch c.Source.Kind {
	case SourceMemory, SourceSQLite:
	case SourcePrometheus:
		if c.Source.Prometheus.URL == "" {
			return fmt.Errorf("prometheus URL is required when source kind is 'prometheus'")
		}
	default:
		return fmt.Errorf("source kind must be 'memory', 'prometheus' or 'sqlite'")
	}

	if c.Kubernetes.Enabled && c.Kubernetes.Mode != string(source.InClusterMode) && c.Kubernetes.Mode != string(source.KubeconfigMode) {
		return fmt.Errorf("kubernetes mode must be 'incluster' or 'kubeconfig'")
	}
	if c.Collector.Enabled {
		if !c.Kubernetes.Enabled {
			return fmt.Errorf("the pod CPU collector requires kubernetes to be enabled")
		}
		if c.Collector.Interval <= 0 {
			return fmt.Errorf("collector interval must be positive")
		}
	}

	if c.RateLimits.AnalysisPerMinute < 0 {
		return fmt.Errorf("analysis rate limit cannot be negative")
	}
	if c.RateLimits.AnalysisPerMinute > MaxAnalysisPerMinute {
		return fmt.Errorf("analysis rate limit cannot exceed %d per minute (use 0 to disable limiting)", MaxAnalysisPerMinute)
	}
	if c.Aggregator.MaxConcurrentFetches < 0 {
		return fmt.Errorf("max concurrent fetches cannot be negative")
	}

	return nil
}

// ChangepointConfig returns the segmentation defaults
func (c *Config) ChangepointConfig() changepoint.Config {
	return changepoint.Config{Penalty: c.Analysis.Penalty}
}

// OutlierConfig returns the outlier scoring defaults
func (c *Config) OutlierConfig() outlier.Config {
	return outlier.Config{
		WindowSize:        c.Analysis.WindowSize,
		ResidualThreshold: c.Analysis.ResidualThreshold,
	}
}

// PolicyTable returns the metric to policy table used for group aggregation
func (c *Config) PolicyTable() aggregator.PolicyTable {
	return aggregator.PolicyTable{
		Policies:    c.Analysis.Policies,
		OverrideKey: c.Analysis.OverrideKey,
	}
}

// CollectorSettings returns the collector configuration in the source package's terms
func (c *Config) CollectorSettings() source.CollectorConfig {
	return source.CollectorConfig{
		Interval:  c.Collector.Interval,
		Namespace: c.Collector.Namespace,
	}
}
