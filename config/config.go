package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so values can be written as "500ms" or "2m"
// in the YAML configuration file.
type Duration time.Duration

// UnmarshalYAML parses either a Go duration string or a plain number of
// seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if _, err := fmt.Sscanf(raw, "%f", &seconds); err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Cascadeflow CascadeflowConfig `yaml:"cascadeflow"`
	Logging     LoggingConfig     `yaml:"logging"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Engine      EngineConfig      `yaml:"engine"`
	Velocity    VelocityConfig    `yaml:"velocity"`
	Profile     ProfileConfig     `yaml:"profile"`
	Threshold   ThresholdConfig   `yaml:"threshold"`
	Risk        RiskConfig        `yaml:"risk"`
	Alert       AlertConfig       `yaml:"alert"`
	Source      SourceConfig      `yaml:"source"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Storage     StorageConfig     `yaml:"storage"`
}

type CascadeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

type ProcessorConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// EngineConfig controls the per-symbol cascade engine.
type EngineConfig struct {
	RingCapacity     int      `yaml:"ring_capacity"`
	ClusterWindow    Duration `yaml:"cluster_window"`
	MinClusterSize   int      `yaml:"min_cluster_size"`
	SymbolTTL        Duration `yaml:"symbol_ttl"`
	EvictionInterval Duration `yaml:"eviction_interval"`
}

type VelocityConfig struct {
	HistorySize int `yaml:"history_size"`
}

type ProfileConfig struct {
	TTL               Duration `yaml:"ttl"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	RequestBurst      int      `yaml:"request_burst"`
}

type ThresholdConfig struct {
	CacheTTL Duration `yaml:"cache_ttl"`
}

// RiskConfig carries the cascade risk factor weights. Weights must sum to 1.
type RiskConfig struct {
	VolumeConcentrationWeight float64 `yaml:"volume_concentration_weight"`
	TimeCompressionWeight     float64 `yaml:"time_compression_weight"`
	PriceConcentrationWeight  float64 `yaml:"price_concentration_weight"`
	SideImbalanceWeight       float64 `yaml:"side_imbalance_weight"`
	InstitutionalWeight       float64 `yaml:"institutional_weight"`
	SessionWeight             float64 `yaml:"session_weight"`
	InstitutionalCutoffUSD    float64 `yaml:"institutional_cutoff_usd"`
}

type AlertConfig struct {
	Cooldown          Duration `yaml:"cooldown"`
	WebhookURL        string   `yaml:"webhook_url"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	RequestBurst      int      `yaml:"request_burst"`
}

type SourceConfig struct {
	Binance ExchangeSourceConfig `yaml:"binance"`
	Bybit   ExchangeSourceConfig `yaml:"bybit"`
	Okx     ExchangeSourceConfig `yaml:"okx"`
	Kucoin  ExchangeSourceConfig `yaml:"kucoin"`
}

type ExchangeSourceConfig struct {
	Enabled        bool     `yaml:"enabled"`
	URL            string   `yaml:"url"`
	Symbols        []string `yaml:"symbols"`
	ReconnectDelay Duration `yaml:"reconnect_delay"`
}

type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type CloudWatchConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Region    string   `yaml:"region"`
	Namespace string   `yaml:"namespace"`
	Interval  Duration `yaml:"interval"`
}

type DashboardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Address         string   `yaml:"address"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	LogHistory      int      `yaml:"log_history"`
	MetricsHistory  int      `yaml:"metrics_history"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool     `yaml:"enabled"`
	Bucket          string   `yaml:"bucket"`
	Region          string   `yaml:"region"`
	AccessKeyID     string   `yaml:"access_key_id"`
	SecretAccessKey string   `yaml:"secret_access_key"`
	Endpoint        string   `yaml:"endpoint"`
	PathStyle       bool     `yaml:"path_style"`
	FlushInterval   Duration `yaml:"flush_interval"`
	MaxBuffer       int      `yaml:"max_buffer"`
}

// LoadConfig reads, expands and validates the YAML configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// S3 credentials may also come from the standard AWS environment.
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} placeholders with environment values. Unset
// variables expand to the empty string.
func expandEnv(in string) string {
	return envPattern.ReplaceAllStringFunc(in, func(m string) string {
		name := m[2 : len(m)-1]
		return os.Getenv(name)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Channels.RawBuffer <= 0 {
		cfg.Channels.RawBuffer = 4096
	}
	if cfg.Processor.MaxWorkers <= 0 {
		cfg.Processor.MaxWorkers = 4
	}
	if cfg.Engine.RingCapacity <= 0 {
		cfg.Engine.RingCapacity = 500
	}
	if cfg.Engine.ClusterWindow <= 0 {
		cfg.Engine.ClusterWindow = Duration(60 * time.Second)
	}
	if cfg.Engine.MinClusterSize <= 0 {
		cfg.Engine.MinClusterSize = 3
	}
	if cfg.Engine.SymbolTTL <= 0 {
		cfg.Engine.SymbolTTL = Duration(2 * time.Hour)
	}
	if cfg.Engine.EvictionInterval <= 0 {
		cfg.Engine.EvictionInterval = Duration(10 * time.Minute)
	}
	if cfg.Velocity.HistorySize <= 0 {
		cfg.Velocity.HistorySize = 100
	}
	if cfg.Profile.TTL <= 0 {
		cfg.Profile.TTL = Duration(time.Hour)
	}
	if cfg.Profile.RequestsPerSecond <= 0 {
		cfg.Profile.RequestsPerSecond = 2
	}
	if cfg.Profile.RequestBurst <= 0 {
		cfg.Profile.RequestBurst = 4
	}
	if cfg.Threshold.CacheTTL <= 0 {
		cfg.Threshold.CacheTTL = Duration(15 * time.Minute)
	}
	if cfg.Alert.Cooldown <= 0 {
		cfg.Alert.Cooldown = Duration(2 * time.Minute)
	}
	if cfg.Alert.RequestsPerSecond <= 0 {
		cfg.Alert.RequestsPerSecond = 1
	}
	if cfg.Alert.RequestBurst <= 0 {
		cfg.Alert.RequestBurst = 5
	}
	if zeroRiskWeights(&cfg.Risk) {
		cfg.Risk.VolumeConcentrationWeight = 0.30
		cfg.Risk.TimeCompressionWeight = 0.20
		cfg.Risk.PriceConcentrationWeight = 0.20
		cfg.Risk.SideImbalanceWeight = 0.15
		cfg.Risk.InstitutionalWeight = 0.10
		cfg.Risk.SessionWeight = 0.05
	}
	if cfg.Risk.InstitutionalCutoffUSD <= 0 {
		cfg.Risk.InstitutionalCutoffUSD = 500_000
	}
	if cfg.Dashboard.RefreshInterval <= 0 {
		cfg.Dashboard.RefreshInterval = Duration(5 * time.Second)
	}
	if cfg.Dashboard.LogHistory <= 0 {
		cfg.Dashboard.LogHistory = 200
	}
	if cfg.Dashboard.MetricsHistory <= 0 {
		cfg.Dashboard.MetricsHistory = 200
	}
	if cfg.Metrics.CloudWatch.Interval <= 0 {
		cfg.Metrics.CloudWatch.Interval = Duration(time.Minute)
	}
	if cfg.Metrics.CloudWatch.Namespace == "" {
		cfg.Metrics.CloudWatch.Namespace = "Cascadeflow"
	}
	if cfg.Storage.S3.FlushInterval <= 0 {
		cfg.Storage.S3.FlushInterval = Duration(time.Minute)
	}
	if cfg.Storage.S3.MaxBuffer <= 0 {
		cfg.Storage.S3.MaxBuffer = 5000
	}
}

func zeroRiskWeights(r *RiskConfig) bool {
	return r.VolumeConcentrationWeight == 0 &&
		r.TimeCompressionWeight == 0 &&
		r.PriceConcentrationWeight == 0 &&
		r.SideImbalanceWeight == 0 &&
		r.InstitutionalWeight == 0 &&
		r.SessionWeight == 0
}

func validateConfig(cfg *Config) error {
	if cfg.Cascadeflow.Name == "" {
		return fmt.Errorf("cascadeflow.name is required")
	}
	if cfg.Cascadeflow.Version == "" {
		return fmt.Errorf("cascadeflow.version is required")
	}

	sum := cfg.Risk.VolumeConcentrationWeight +
		cfg.Risk.TimeCompressionWeight +
		cfg.Risk.PriceConcentrationWeight +
		cfg.Risk.SideImbalanceWeight +
		cfg.Risk.InstitutionalWeight +
		cfg.Risk.SessionWeight
	if sum < 1-1e-9 || sum > 1+1e-9 {
		return fmt.Errorf("risk factor weights must sum to 1.0, got %f", sum)
	}

	if !cfg.Source.Binance.Enabled && !cfg.Source.Bybit.Enabled &&
		!cfg.Source.Okx.Enabled && !cfg.Source.Kucoin.Enabled {
		return fmt.Errorf("at least one exchange source must be enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if !bucketPattern.MatchString(name) {
		return false
	}
	return !strings.Contains(name, "..")
}
