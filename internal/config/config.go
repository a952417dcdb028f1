package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Rabbit     RabbitConfig    `mapstructure:"rabbit"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Outbox     OutboxConfig    `mapstructure:"outbox"`
	Consumer   ConsumerConfig  `mapstructure:"consumer"`
	Inventory  InventoryConfig `mapstructure:"inventory"`
	Payment    PaymentConfig   `mapstructure:"payment"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	DedupTTL    time.Duration `mapstructure:"dedup_ttl"`
}

type RabbitConfig struct {
	URL                string        `mapstructure:"url"`
	MaxConnectAttempts int           `mapstructure:"max_connect_attempts"`
	ConnectBaseBackoff time.Duration `mapstructure:"connect_base_backoff"`
	ConnectMaxBackoff  time.Duration `mapstructure:"connect_max_backoff"`
	PublishTimeout     time.Duration `mapstructure:"publish_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	AuditTopic     string   `mapstructure:"audit_topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type ConsumerConfig struct {
	DefaultMaxAttempts int           `mapstructure:"default_max_attempts"`
	HandleTimeout      time.Duration `mapstructure:"handle_timeout"`

	// RetryBudgets overrides the attempt budget per event name.
	RetryBudgets map[string]int `mapstructure:"retry_budgets"`
}

type InventoryConfig struct {
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
}

type PaymentConfig struct {
	MaxRetries          int              `mapstructure:"max_retries"`
	DispatchMaxAttempts int              `mapstructure:"dispatch_max_attempts"`
	Providers           []ProviderConfig `mapstructure:"providers"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type ProviderConfig struct {
	Name       string        `mapstructure:"name"`
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`
	ChargePath string        `mapstructure:"charge_path"`
	TimeoutMs  int           `mapstructure:"timeout_ms"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (BKSAGA_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (BKSAGA_*)
	v.SetEnvPrefix("BKSAGA")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
