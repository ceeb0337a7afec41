package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
	MaxConns int32  `mapstructure:"max-conns"`
}

// ConnString builds the postgres URL used by both goose and pgxpool.
func (d Database) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type Gateway struct {
	BaseURL     string `mapstructure:"base-url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ChannelID   string `mapstructure:"channel-id"`
	Provider    string `mapstructure:"provider"`
	CallbackURL string `mapstructure:"callback-url"`
	TimeoutMs   int    `mapstructure:"timeout-ms"`
}

type Activation struct {
	Fee             int64  `mapstructure:"fee"`
	Currency        string `mapstructure:"currency"`
	ReferencePrefix string `mapstructure:"reference-prefix"`
}

type Relay struct {
	URL       string `mapstructure:"url"`
	TimeoutMs int    `mapstructure:"timeout-ms"`
}

type Snapshot struct {
	TTLMs    int    `mapstructure:"ttl-ms"`
	RedisURL string `mapstructure:"redis-url"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	ActivationJobs string `mapstructure:"activation-jobs"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

// Enabled reports whether jobs travel through Kafka instead of the in-process publisher.
func (k Kafka) Enabled() bool {
	return strings.TrimSpace(k.Broker.URL) != ""
}

type Outbox struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	LeaseMs            int `mapstructure:"lease-ms"`
	RetryDelayMs       int `mapstructure:"retry-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
	MaxAttempts        int `mapstructure:"max-attempts"`
	InlineGraceMs      int `mapstructure:"inline-grace-ms"`
}

type Poller struct {
	IntervalMs      int `mapstructure:"interval-ms"`
	TimeoutMs       int `mapstructure:"timeout-ms"`
	CompleteDelayMs int `mapstructure:"complete-delay-ms"`
}

type Reconcile struct {
	Schedule     string `mapstructure:"schedule"`
	StaleAfterMs int    `mapstructure:"stale-after-ms"`
	ReportLimit  int    `mapstructure:"report-limit"`
}

type Server struct {
	Port               string   `mapstructure:"port"`
	CORSAllowedOrigins []string `mapstructure:"cors-allowed-origins"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Database   Database   `mapstructure:"database"`
	Gateway    Gateway    `mapstructure:"gateway"`
	Activation Activation `mapstructure:"activation"`
	Relay      Relay      `mapstructure:"relay"`
	Snapshot   Snapshot   `mapstructure:"snapshot"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Outbox     Outbox     `mapstructure:"outbox"`
	Poller     Poller     `mapstructure:"poller"`
	Reconcile  Reconcile  `mapstructure:"reconcile"`
	Server     Server     `mapstructure:"server"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Logs       Logs       `mapstructure:"logs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "activation")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.ssl-mode", "disable")
	v.SetDefault("database.max-conns", 20)

	v.SetDefault("gateway.base-url", "https://backend.payhero.co.ke")
	v.SetDefault("gateway.username", "")
	v.SetDefault("gateway.password", "")
	v.SetDefault("gateway.channel-id", "")
	v.SetDefault("gateway.provider", "m-pesa")
	v.SetDefault("gateway.callback-url", "")
	v.SetDefault("gateway.timeout-ms", 15_000)

	v.SetDefault("activation.fee", 500)
	v.SetDefault("activation.currency", "KES")
	v.SetDefault("activation.reference-prefix", "ACTIVATION")

	v.SetDefault("relay.url", "http://localhost:3000")
	v.SetDefault("relay.timeout-ms", 30_000)

	v.SetDefault("snapshot.ttl-ms", 3_600_000)
	v.SetDefault("snapshot.redis-url", "")
	v.SetDefault("snapshot.prefix", "activation:snapshot")

	v.SetDefault("kafka.writer.batch-size", 100)
	v.SetDefault("kafka.writer.batch-timeout-ms", 100)
	v.SetDefault("kafka.broker.url", "")
	v.SetDefault("kafka.topic.activation-jobs", "activation-jobs")
	v.SetDefault("kafka.reader.group-id", "activation-relay")

	v.SetDefault("outbox.polling-interval-ms", 1_000)
	v.SetDefault("outbox.fetch-size", 100)
	v.SetDefault("outbox.lease-ms", 60_000)
	v.SetDefault("outbox.retry-delay-ms", 10_000)
	v.SetDefault("outbox.max-publish-attempts", 5)
	v.SetDefault("outbox.max-attempts", 10)
	v.SetDefault("outbox.inline-grace-ms", 30_000)

	v.SetDefault("poller.interval-ms", 5_000)
	v.SetDefault("poller.timeout-ms", 180_000)
	v.SetDefault("poller.complete-delay-ms", 2_000)

	v.SetDefault("reconcile.schedule", "@every 10m")
	v.SetDefault("reconcile.stale-after-ms", 1_800_000)
	v.SetDefault("reconcile.report-limit", 20)

	v.SetDefault("server.port", "3000")
	v.SetDefault("server.cors-allowed-origins", []string{"*"})

	v.SetDefault("metrics.url", "")
	v.SetDefault("metrics.interval-ms", 10_000)
	v.SetDefault("metrics.common-labels", "")

	v.SetDefault("logs.url", "")
	v.SetDefault("logs.level", "info")
}

// LoadConfig reads config.yaml from path when present; environment variables
// (GATEWAY_PASSWORD, DATABASE_HOST, ...) override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

// Validate rejects values the relay cannot run with.
func (c *Config) Validate() error {
	if c.Activation.Fee <= 0 {
		return errors.Errorf("activation.fee must be positive, got %d", c.Activation.Fee)
	}
	if c.Poller.IntervalMs <= 0 {
		return errors.Errorf("poller.interval-ms must be positive, got %d", c.Poller.IntervalMs)
	}
	if c.Outbox.PollingIntervalMs <= 0 {
		return errors.Errorf("outbox.polling-interval-ms must be positive, got %d", c.Outbox.PollingIntervalMs)
	}
	if c.Outbox.MaxAttempts <= 0 || c.Outbox.MaxPublishAttempts <= 0 {
		return errors.New("outbox attempt limits must be positive")
	}
	return nil
}

func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
