package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Configuration {
	c := Default()
	c.InstanceID = 1
	c.Upstream.APIKey = "test-key"
	return c
}

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = validConfig()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for valid config, got: %v", err)
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"missing api key", func(c *Configuration) { c.Upstream.APIKey = "" }},
		{"missing upstream url", func(c *Configuration) { c.Upstream.URL = "" }},
		{"zero timeout", func(c *Configuration) { c.Upstream.TimeoutSeconds = 0 }},
		{"unknown broker", func(c *Configuration) { c.Broker.Type = "ensign" }},
		{"nats without url", func(c *Configuration) { c.Broker.NATSURL = "" }},
		{"kafka without brokers", func(c *Configuration) {
			c.Broker.Type = BrokerKafka
			c.Broker.KafkaBrokers = nil
		}},
		{"missing credentials file", func(c *Configuration) {
			c.Broker.CredentialsPath = filepath.Join(os.TempDir(), "does-not-exist.creds")
		}},
		{"zero max pending", func(c *Configuration) { c.Broker.MaxPending = 0 }},
		{"empty topic", func(c *Configuration) { c.Publisher.Topic = "" }},
		{"unknown format", func(c *Configuration) { c.Publisher.Format = "xml" }},
		{"zero poll interval", func(c *Configuration) { c.Publisher.PollIntervalSeconds = 0 }},
		{"unknown checkpoint store", func(c *Configuration) { c.Checkpoint.Store = "etcd" }},
		{"pebble without dir", func(c *Configuration) {
			c.Checkpoint.Store = CheckpointPebble
			c.Checkpoint.DataDir = ""
		}},
		{"redis without addr", func(c *Configuration) {
			c.Checkpoint.Store = CheckpointRedis
			c.Checkpoint.RedisAddr = ""
		}},
		{"unknown log format", func(c *Configuration) { c.Logging.Format = "xml" }},
		{"bad prometheus port", func(c *Configuration) { c.Prometheus.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidate_PrometheusDisabledIgnoresPort(t *testing.T) {
	c := validConfig()
	c.Prometheus.Enabled = false
	c.Prometheus.Port = 0
	assert.NoError(t, c.Validate())
}

func TestLoadInto_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogbridge.toml")

	content := `
instance_id = 42

[upstream]
api_key = "from-file"
timeout_seconds = 5

[broker]
type = "kafka"
kafka_brokers = ["localhost:9092"]

[publisher]
topic = "games"
format = "msgpack"
poll_interval_seconds = 60
exclude_names = ["*Soundtrack*"]

[checkpoint]
store = "pebble"
data_dir = "/var/lib/catalogbridge"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("STEAM_API_KEY", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CATALOGBRIDGE_STATUS_TOKEN", "ops-token")

	c := Default()
	require.NoError(t, LoadInto(c, path, ""))

	assert.Equal(t, uint64(42), c.InstanceID)
	assert.Equal(t, "from-env", c.Upstream.APIKey)
	assert.Equal(t, 5, c.Upstream.TimeoutSeconds)
	assert.Equal(t, BrokerKafka, c.Broker.Type)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Broker.KafkaBrokers)
	assert.Equal(t, "games", c.Publisher.Topic)
	assert.Equal(t, "msgpack", c.Publisher.Format)
	assert.Equal(t, 60, c.Publisher.PollIntervalSeconds)
	assert.Equal(t, []string{"*Soundtrack*"}, c.Publisher.ExcludeNames)
	assert.Equal(t, CheckpointPebble, c.Checkpoint.Store)
	assert.Equal(t, "ops-token", c.Prometheus.StatusToken)

	// Untouched sections keep their defaults
	assert.Equal(t, "https://api.steampowered.com/ISteamApps/GetAppList/v2/", c.Upstream.URL)
	assert.Equal(t, 4096, c.Broker.MaxPending)

	require.NoError(t, c.Validate())
}

func TestLoadInto_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("CATALOGBRIDGE_TOPIC=dotenv_topic\n"), 0644))

	// godotenv never overrides variables that are already set
	t.Setenv("CATALOGBRIDGE_TOPIC", "")
	os.Unsetenv("CATALOGBRIDGE_TOPIC")
	t.Cleanup(func() { os.Unsetenv("CATALOGBRIDGE_TOPIC") })

	c := Default()
	c.InstanceID = 7
	require.NoError(t, LoadInto(c, filepath.Join(dir, "missing.toml"), envPath))

	assert.Equal(t, "dotenv_topic", c.Publisher.Topic)
}

func TestLoadInto_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[upstream\nurl = "), 0644))

	c := Default()
	c.InstanceID = 1
	assert.Error(t, LoadInto(c, path, ""))
}
