package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env"
	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// BrokerType selects the pub/sub backend events are published to
type BrokerType string

const (
	BrokerNATS  BrokerType = "nats"  // NATS JetStream
	BrokerKafka BrokerType = "kafka" // Apache Kafka
)

// CheckpointStoreType selects where the catalog position is persisted
type CheckpointStoreType string

const (
	CheckpointZero   CheckpointStoreType = "zero"   // Always 0, full replay every cycle
	CheckpointMemory CheckpointStoreType = "memory" // Process lifetime only
	CheckpointPebble CheckpointStoreType = "pebble" // Local durable store
	CheckpointRedis  CheckpointStoreType = "redis"  // Shared durable store
)

// DefaultTopic is the topic the full catalog is published to
const DefaultTopic = "all_games_json"

// UpstreamConfiguration describes the catalog HTTP source
type UpstreamConfiguration struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// BrokerConfiguration describes the pub/sub connection
type BrokerConfiguration struct {
	Type                  BrokerType `toml:"type"`
	CredentialsPath       string     `toml:"credentials_path"` // NATS .creds file or Kafka SASL TOML file
	NATSURL               string     `toml:"nats_url"`
	KafkaBrokers          []string   `toml:"kafka_brokers"`
	MaxPending            int        `toml:"max_pending"` // In-flight async publishes before submission blocks
	ConnectTimeoutSeconds int        `toml:"connect_timeout_seconds"`
}

// PublisherConfiguration controls the poll/publish loop
type PublisherConfiguration struct {
	Topic               string   `toml:"topic"`
	Format              string   `toml:"format"` // "json" or "msgpack"
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	IncludeNames        []string `toml:"include_names"` // Glob patterns, empty matches all
	ExcludeNames        []string `toml:"exclude_names"`
}

// CheckpointConfiguration selects and configures the checkpoint store
type CheckpointConfiguration struct {
	Store         CheckpointStoreType `toml:"store"`
	DataDir       string              `toml:"data_dir"`
	RedisAddr     string              `toml:"redis_addr"`
	RedisPassword string              `toml:"redis_password"`
	RedisDB       int                 `toml:"redis_db"`
	KeyPrefix     string              `toml:"key_prefix"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics and the ops endpoint
type PrometheusConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	Address     string `toml:"address"`
	Port        int    `toml:"port"`
	StatusToken string `toml:"status_token"` // Bearer token for /status, empty disables auth
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`

	Upstream   UpstreamConfiguration   `toml:"upstream"`
	Broker     BrokerConfiguration     `toml:"broker"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Checkpoint CheckpointConfiguration `toml:"checkpoint"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// environment holds the variables that may override the config file.
// Empty values leave the file (or default) value untouched.
type environment struct {
	SteamAPIKey         string `env:"STEAM_API_KEY"`
	CredentialsPath     string `env:"BROKER_CREDENTIALS_PATH"`
	Topic               string `env:"CATALOGBRIDGE_TOPIC"`
	PollIntervalSeconds int    `env:"CATALOGBRIDGE_POLL_INTERVAL_SECONDS"`
	NATSURL             string `env:"NATS_URL"`
	KafkaBrokers        string `env:"KAFKA_BROKERS"` // Comma separated
	RedisAddr           string `env:"REDIS_ADDR"`
	RedisPassword       string `env:"REDIS_PASSWORD"`
	StatusToken         string `env:"CATALOGBRIDGE_STATUS_TOKEN"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "catalogbridge.toml", "Path to configuration file")
	EnvFileFlag    = flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	TopicFlag      = flag.String("topic", "", "Target topic (overrides config)")
	BrokerFlag     = flag.String("broker", "", "Broker type: nats or kafka (overrides config)")
)

// Default configuration
var Config = Default()

// Default returns a fresh configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		InstanceID: 0, // Auto-generate

		Upstream: UpstreamConfiguration{
			URL:            "https://api.steampowered.com/ISteamApps/GetAppList/v2/",
			TimeoutSeconds: 30,
		},

		Broker: BrokerConfiguration{
			Type:                  BrokerNATS,
			NATSURL:               "nats://127.0.0.1:4222",
			KafkaBrokers:          []string{},
			MaxPending:            4096,
			ConnectTimeoutSeconds: 10,
		},

		Publisher: PublisherConfiguration{
			Topic:               DefaultTopic,
			Format:              "json",
			PollIntervalSeconds: 300, // 5 minutes
			IncludeNames:        []string{},
			ExcludeNames:        []string{},
		},

		Checkpoint: CheckpointConfiguration{
			Store:     CheckpointMemory,
			DataDir:   "./catalogbridge-data",
			RedisAddr: "127.0.0.1:6379",
			KeyPrefix: "catalogbridge:checkpoint:",
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9090,
		},
	}
}

// Load loads configuration from file, the environment and CLI overrides
func Load(configPath string) error {
	return LoadInto(Config, configPath, *EnvFileFlag)
}

// LoadInto decodes configPath into c and applies environment and flag overrides.
// A missing config file or dotenv file is not an error.
func LoadInto(c *Configuration, configPath, envFile string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, c); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
			log.Debug().Str("path", envFile).Msg("Loaded environment file")
		}
	}

	if err := applyEnvironment(c); err != nil {
		return err
	}

	// Apply CLI overrides
	if *TopicFlag != "" {
		c.Publisher.Topic = *TopicFlag
	}
	if *BrokerFlag != "" {
		c.Broker.Type = BrokerType(*BrokerFlag)
	}

	if c.InstanceID == 0 {
		var err error
		c.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", c.InstanceID).Msg("Auto-generated instance ID")
	}

	return nil
}

func applyEnvironment(c *Configuration) error {
	var e environment
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if e.SteamAPIKey != "" {
		c.Upstream.APIKey = e.SteamAPIKey
	}
	if e.CredentialsPath != "" {
		c.Broker.CredentialsPath = e.CredentialsPath
	}
	if e.Topic != "" {
		c.Publisher.Topic = e.Topic
	}
	if e.PollIntervalSeconds > 0 {
		c.Publisher.PollIntervalSeconds = e.PollIntervalSeconds
	}
	if e.NATSURL != "" {
		c.Broker.NATSURL = e.NATSURL
	}
	if e.KafkaBrokers != "" {
		brokers := make([]string, 0)
		for _, b := range strings.Split(e.KafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Broker.KafkaBrokers = brokers
	}
	if e.RedisAddr != "" {
		c.Checkpoint.RedisAddr = e.RedisAddr
	}
	if e.RedisPassword != "" {
		c.Checkpoint.RedisPassword = e.RedisPassword
	}
	if e.StatusToken != "" {
		c.Prometheus.StatusToken = e.StatusToken
	}

	return nil
}

// generateInstanceID creates a stable instance ID based on machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("catalogbridge")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks the global configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks configuration for errors
func (c *Configuration) Validate() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream url is required")
	}

	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream api key is required (set STEAM_API_KEY or upstream.api_key)")
	}

	if c.Upstream.TimeoutSeconds < 1 {
		return fmt.Errorf("upstream timeout must be >= 1 second")
	}

	switch c.Broker.Type {
	case BrokerNATS:
		if c.Broker.NATSURL == "" {
			return fmt.Errorf("nats broker requires nats_url")
		}
	case BrokerKafka:
		if len(c.Broker.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka broker requires at least one address in kafka_brokers")
		}
	default:
		return fmt.Errorf("invalid broker type: %s", c.Broker.Type)
	}

	if c.Broker.CredentialsPath != "" {
		if _, err := os.Stat(c.Broker.CredentialsPath); err != nil {
			return fmt.Errorf("broker credentials not readable at %s: %w", c.Broker.CredentialsPath, err)
		}
	}

	if c.Broker.MaxPending < 1 {
		return fmt.Errorf("broker max pending must be >= 1")
	}

	if c.Broker.ConnectTimeoutSeconds < 1 {
		return fmt.Errorf("broker connect timeout must be >= 1 second")
	}

	if c.Publisher.Topic == "" {
		return fmt.Errorf("publisher topic is required")
	}

	if c.Publisher.Format != "json" && c.Publisher.Format != "msgpack" {
		return fmt.Errorf("invalid publisher format: %s", c.Publisher.Format)
	}

	if c.Publisher.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll interval must be >= 1 second")
	}

	switch c.Checkpoint.Store {
	case CheckpointZero, CheckpointMemory:
	case CheckpointPebble:
		if c.Checkpoint.DataDir == "" {
			return fmt.Errorf("pebble checkpoint store requires data_dir")
		}
	case CheckpointRedis:
		if c.Checkpoint.RedisAddr == "" {
			return fmt.Errorf("redis checkpoint store requires redis_addr")
		}
		if c.Checkpoint.RedisDB < 0 {
			return fmt.Errorf("redis db must be >= 0")
		}
	default:
		return fmt.Errorf("invalid checkpoint store: %s", c.Checkpoint.Store)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Prometheus.Enabled && (c.Prometheus.Port < 1 || c.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", c.Prometheus.Port)
	}

	return nil
}
