package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config/config.yml"

	envWSURL  = "BACKEND_WS_URL"
	envAPIURL = "BACKEND_API_URL"
)

type Config struct {
	FundingDesk FundingDeskConfig `yaml:"fundingdesk"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	API         APIConfig         `yaml:"api"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Preview     PreviewConfig     `yaml:"preview"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type FundingDeskConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RealtimeConfig describes the single backend websocket connection.
type RealtimeConfig struct {
	URL                 string          `yaml:"url"`
	HandshakeTimeout    time.Duration   `yaml:"handshake_timeout"`
	WriteTimeout        time.Duration   `yaml:"write_timeout"`
	ReadTimeout         time.Duration   `yaml:"read_timeout"`
	HeartbeatInterval   time.Duration   `yaml:"heartbeat_interval"`
	ClosedPositionsDays int             `yaml:"closed_positions_days"`
	Reconnect           ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig is the backoff applied after an abnormal closure.
// MaxAttempts of zero retries forever.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count"`
	RetryWait         time.Duration `yaml:"retry_wait"`
	RetryMaxWait      time.Duration `yaml:"retry_max_wait"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type ChannelsConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// PreviewConfig holds the venue fee schedule used for trade previews.
type PreviewConfig struct {
	BybitTakerFee       float64 `yaml:"bybit_taker_fee"`
	HyperliquidTakerFee float64 `yaml:"hyperliquid_taker_fee"`
	Leverage            int     `yaml:"leverage"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	LogHistory      int           `yaml:"log_history"`
	ResourceHistory int           `yaml:"resource_history"`
	SampleInterval  time.Duration `yaml:"sample_interval"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig enables publishing every state update to a topic.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	Compression     string        `yaml:"compression"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used for every key the file leaves out.
func Default() Config {
	return Config{
		Realtime: RealtimeConfig{
			URL:                 "ws://localhost:8000/ws",
			HandshakeTimeout:    10 * time.Second,
			WriteTimeout:        5 * time.Second,
			ReadTimeout:         90 * time.Second,
			HeartbeatInterval:   30 * time.Second,
			ClosedPositionsDays: 7,
			Reconnect: ReconnectConfig{
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
				MaxAttempts: 5,
			},
		},
		API: APIConfig{
			BaseURL:           "http://localhost:8000",
			Timeout:           15 * time.Second,
			RetryCount:        2,
			RetryWait:         500 * time.Millisecond,
			RetryMaxWait:      5 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Channels: ChannelsConfig{SubscriberBuffer: 64},
		Preview: PreviewConfig{
			BybitTakerFee:       0.00055,
			HyperliquidTakerFee: 0.00035,
			Leverage:            1,
		},
		Dashboard: DashboardConfig{
			Address:         "0.0.0.0:8080",
			LogHistory:      200,
			ResourceHistory: 120,
			SampleInterval:  5 * time.Second,
		},
		Storage: StorageConfig{
			S3: S3Config{
				Prefix:        "closed_positions",
				Compression:   "snappy",
				FlushInterval: 5 * time.Minute,
			},
			Kafka: KafkaConfig{
				Topic:        "fundingdesk.updates",
				BatchTimeout: time.Second,
			},
		},
		Metrics: MetricsConfig{ReportInterval: 30 * time.Second},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv(envWSURL); v != "" {
		config.Realtime.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv(envAPIURL); v != "" {
		config.API.BaseURL = strings.TrimSpace(v)
	}

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

	if v := os.Getenv("KAFKA_BROKERS"); v != "" && config.Storage.Kafka.Enabled {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Storage.Kafka.Brokers = brokers
	}
}

func validateConfig(cfg *Config) error {
	if cfg.FundingDesk.Name == "" {
		return fmt.Errorf("fundingdesk.name is required")
	}
	if cfg.FundingDesk.Version == "" {
		return fmt.Errorf("fundingdesk.version is required")
	}

	if err := validateURL(cfg.Realtime.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("realtime.url: %w", err)
	}
	if cfg.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_interval must be greater than 0")
	}
	if cfg.Realtime.ReadTimeout < 0 {
		return fmt.Errorf("realtime.read_timeout must not be negative")
	}
	if cfg.Realtime.ReadTimeout > 0 && cfg.Realtime.ReadTimeout <= cfg.Realtime.HeartbeatInterval {
		return fmt.Errorf("realtime.read_timeout must exceed realtime.heartbeat_interval")
	}
	if cfg.Realtime.ClosedPositionsDays <= 0 {
		return fmt.Errorf("realtime.closed_positions_days must be greater than 0")
	}

	rc := cfg.Realtime.Reconnect
	if rc.BaseDelay <= 0 {
		return fmt.Errorf("realtime.reconnect.base_delay must be greater than 0")
	}
	if rc.MaxDelay < rc.BaseDelay {
		return fmt.Errorf("realtime.reconnect.max_delay must be at least base_delay")
	}
	if rc.MaxAttempts < 0 {
		return fmt.Errorf("realtime.reconnect.max_attempts must not be negative")
	}

	if err := validateURL(cfg.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if cfg.API.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.requests_per_second must be greater than 0")
	}
	if cfg.API.Burst <= 0 {
		return fmt.Errorf("api.burst must be greater than 0")
	}

	if cfg.Channels.SubscriberBuffer <= 0 {
		return fmt.Errorf("channels.subscriber_buffer must be greater than 0")
	}
	if cfg.Preview.Leverage <= 0 {
		return fmt.Errorf("preview.leverage must be greater than 0")
	}
	if cfg.Metrics.ReportInterval <= 0 {
		return fmt.Errorf("metrics.report_interval must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.FlushInterval <= 0 {
			return fmt.Errorf("storage.s3.flush_interval must be greater than 0")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("url %q must use one of %v with a host", raw, schemes)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
