// Package config handles configuration loading for sentinel-ir.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel-ir/internal/alerting"
	"sentinel-ir/internal/correlation"
	"sentinel-ir/internal/enrich"
	"sentinel-ir/internal/intel"
	"sentinel-ir/internal/kafka"
	"sentinel-ir/internal/notify"
	"sentinel-ir/internal/playbook"
	"sentinel-ir/internal/schema"
	"sentinel-ir/internal/sla"
	"sentinel-ir/internal/stats"
)

// Config holds the complete application configuration.
type Config struct {
	Logging     LoggingConfig          `yaml:"logging"`
	Pipeline    PipelineConfig         `yaml:"pipeline"`
	Validation  schema.ValidatorConfig `yaml:"validation"`
	Enrich      enrich.Config          `yaml:"enrich"`
	Intel       IntelConfig            `yaml:"intel"`
	Correlation correlation.Config     `yaml:"correlation"`
	Alerting    alerting.Config        `yaml:"alerting"`
	SLA         sla.Config             `yaml:"sla"`
	Playbooks   playbook.Config        `yaml:"playbooks"`
	Notify      NotifyConfig           `yaml:"notify"`
	Anomaly     stats.AnomalyConfig    `yaml:"anomaly"`
	Storage     StorageConfig          `yaml:"storage"`
	Kafka       KafkaConfig            `yaml:"kafka"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PipelineConfig holds settings for the processing pipeline.
type PipelineConfig struct {
	// QueueSize is the capacity of the ingest ring buffer.
	QueueSize int `yaml:"queue_size"`

	// Debounce is how long the realtime loop coalesces queued events
	// before processing a burst.
	Debounce time.Duration `yaml:"debounce"`

	// BatchInterval is how often the correlation pass runs.
	BatchInterval time.Duration `yaml:"batch_interval"`

	// BatchMaxSize caps the events examined per correlation pass.
	BatchMaxSize int `yaml:"batch_max_size"`

	// HealthInterval is how often health stats are sampled.
	HealthInterval time.Duration `yaml:"health_interval"`

	// DedupWindow suppresses repeat alerts for the same fingerprint
	// and rule within this window.
	DedupWindow time.Duration `yaml:"dedup_window"`
}

// IntelConfig holds threat intelligence settings.
type IntelConfig struct {
	Enabled bool              `yaml:"enabled"`
	Service intel.Config      `yaml:"service"`
	Redis   intel.RedisConfig `yaml:"redis"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	Dispatcher notify.Config `yaml:"dispatcher"`

	Webhook struct {
		Enabled bool              `yaml:"enabled"`
		Name    string            `yaml:"name"`
		URL     string            `yaml:"url"`
		Headers map[string]string `yaml:"headers"`
	} `yaml:"webhook"`

	Slack struct {
		Enabled    bool   `yaml:"enabled"`
		WebhookURL string `yaml:"webhook_url"`
		Channel    string `yaml:"channel"`
		Username   string `yaml:"username"`
	} `yaml:"slack"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Enabled     bool                `yaml:"enabled"`
	ClickHouse  ClickHouseSettings  `yaml:"clickhouse"`
	BatchWriter BatchWriterSettings `yaml:"batch_writer"`
}

// ClickHouseSettings mirrors storage.ClickHouseConfig so the config
// package stays free of a driver dependency.
type ClickHouseSettings struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// BatchWriterSettings mirrors storage.BatchWriterConfig.
type BatchWriterSettings struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Enabled bool         `yaml:"enabled"`
	Client  kafka.Config `yaml:"client"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Pipeline: PipelineConfig{
			QueueSize:      100000,
			Debounce:       250 * time.Millisecond,
			BatchInterval:  time.Minute,
			BatchMaxSize:   10000,
			HealthInterval: 30 * time.Second,
			DedupWindow:    5 * time.Minute,
		},
		Validation:  schema.DefaultValidatorConfig(),
		Enrich:      enrich.DefaultConfig(),
		Intel: IntelConfig{
			Enabled: false,
			Service: intel.DefaultConfig(),
			Redis:   intel.DefaultRedisConfig(),
		},
		Correlation: correlation.DefaultConfig(),
		Alerting:    alerting.DefaultConfig(),
		SLA:         sla.DefaultConfig(),
		Playbooks:   playbook.DefaultConfig(),
		Notify: NotifyConfig{
			Dispatcher: notify.DefaultConfig(),
		},
		Anomaly: stats.DefaultAnomalyConfig(),
		Storage: StorageConfig{
			Enabled: false,
			ClickHouse: ClickHouseSettings{
				Hosts:           []string{"localhost:9000"},
				Database:        "sentinel",
				Username:        "default",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				DialTimeout:     10 * time.Second,
			},
			BatchWriter: BatchWriterSettings{
				BatchSize:     1000,
				FlushInterval: 5 * time.Second,
				MaxRetries:    3,
				RetryDelay:    time.Second,
			},
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Client:  *kafka.DefaultConfig(),
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTINEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if enabled := os.Getenv("SENTINEL_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}
	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if enabled := os.Getenv("SENTINEL_KAFKA_ENABLED"); enabled == "true" {
		c.Kafka.Enabled = true
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Client.Brokers = splitAndTrim(brokers, ",")
	}

	if enabled := os.Getenv("SENTINEL_INTEL_ENABLED"); enabled == "true" {
		c.Intel.Enabled = true
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Intel.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Intel.Redis.Password = pass
	}

	if url := os.Getenv("SENTINEL_WEBHOOK_URL"); url != "" {
		c.Notify.Webhook.Enabled = true
		c.Notify.Webhook.URL = url
		if c.Notify.Webhook.Name == "" {
			c.Notify.Webhook.Name = "webhook"
		}
	}
	if url := os.Getenv("SENTINEL_SLACK_WEBHOOK_URL"); url != "" {
		c.Notify.Slack.Enabled = true
		c.Notify.Slack.WebhookURL = url
	}
}

// splitAndTrim splits a string by separator, trims whitespace from each part
// and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline queue_size must be positive")
	}
	if c.Pipeline.Debounce <= 0 {
		return fmt.Errorf("pipeline debounce must be positive")
	}
	if c.Pipeline.BatchInterval <= 0 {
		return fmt.Errorf("pipeline batch_interval must be positive")
	}
	if c.Pipeline.DedupWindow < 0 {
		return fmt.Errorf("pipeline dedup_window must not be negative")
	}

	if c.Kafka.Enabled {
		if err := c.Kafka.Client.Validate(); err != nil {
			return err
		}
	}

	if c.Storage.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage enabled but no clickhouse hosts configured")
	}

	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("webhook notifications enabled but no url configured")
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		return fmt.Errorf("slack notifications enabled but no webhook url configured")
	}

	return nil
}
