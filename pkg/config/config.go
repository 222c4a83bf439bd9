package config

import (
	"strings"
	"time"

	"github.com/84hero/evm-activity/internal/webhook"
	"github.com/84hero/evm-activity/pkg/explorer"
	"github.com/84hero/evm-activity/pkg/scanner"
	"github.com/spf13/viper"
)

type Config struct {
	Project  string          `mapstructure:"project"`
	Log      LogConfig       `mapstructure:"log"`
	Explorer explorer.Config `mapstructure:"explorer"`
	Scanner  scanner.Config  `mapstructure:"scanner"`
	Cache    CacheConfig     `mapstructure:"cache"`
	Check    CheckConfig     `mapstructure:"check"`
	Outputs  OutputsConfig   `mapstructure:"outputs"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`

	// Contracts overrides deployed month contracts: chain slug -> month name -> address.
	Contracts map[string]map[string]string `mapstructure:"contracts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type CacheConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, redis, postgres
	Prefix   string         `mapstructure:"prefix"`  // Redis key prefix or PG table prefix
	TTL      time.Duration  `mapstructure:"ttl"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// CheckConfig selects what the CLI verifies.
type CheckConfig struct {
	Address  string        `mapstructure:"address"`
	Chain    string        `mapstructure:"chain"`
	Month    string        `mapstructure:"month"`   // Empty checks every configured month
	Refresh  bool          `mapstructure:"refresh"` // Invalidate cached verdicts first
	Interval time.Duration `mapstructure:"interval"` // > 0 repeats the check until stopped
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // Listen address for /metrics in watch mode
}

type OutputsConfig struct {
	Webhook  WebhookOutputConfig  `mapstructure:"webhook"`
	File     FileOutputConfig     `mapstructure:"file"`
	Console  ConsoleOutputConfig  `mapstructure:"console"`
	Postgres PostgresOutputConfig `mapstructure:"postgres"`
	Redis    RedisOutputConfig    `mapstructure:"redis"`
	Kafka    KafkaOutputConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQOutputConfig `mapstructure:"rabbitmq"`
}

type WebhookOutputConfig struct {
	Enabled    bool        `mapstructure:"enabled"`
	URL        string      `mapstructure:"url"`
	Secret     string      `mapstructure:"secret"`
	Retry      RetryConfig `mapstructure:"retry"`
	Async      bool        `mapstructure:"async"`
	BufferSize int         `mapstructure:"buffer_size"`
	Workers    int         `mapstructure:"workers"`
}

// Client returns the delivery settings for the webhook client.
func (w WebhookOutputConfig) Client() webhook.Config {
	return webhook.Config{
		URL:            w.URL,
		Secret:         w.Secret,
		MaxAttempts:    w.Retry.MaxAttempts,
		InitialBackoff: w.Retry.InitialBackoff,
		MaxBackoff:     w.Retry.MaxBackoff,
	}
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type FileOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ConsoleOutputConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type PostgresOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Table   string `mapstructure:"table"`
}

type RedisOutputConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Mode     string `mapstructure:"mode"` // list, pubsub
}

type KafkaOutputConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type RabbitMQOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	QueueName  string `mapstructure:"queue_name"`
	Durable    bool   `mapstructure:"durable"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ACTIVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Project == "" {
		cfg.Project = "evm_activity"
	}
	if cfg.Scanner.ChunkSize == 0 {
		cfg.Scanner.ChunkSize = scanner.DefaultChunkSize
	}
	if cfg.Scanner.MaxConcurrent <= 0 {
		cfg.Scanner.MaxConcurrent = scanner.DefaultMaxConcurrent
	}
	if cfg.Explorer.Timeout == 0 {
		cfg.Explorer.Timeout = 10 * time.Second
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}

	return &cfg, nil
}
