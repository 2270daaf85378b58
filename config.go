package shepherd

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	defaultShardManagerHost = "127.0.0.1"
	defaultShardManagerPort = 8888
)

// Configuration represents the configuration file.
type Configuration struct {
	Logging LoggingConfiguration `json:"logging" yaml:"logging"`

	Bot BotConfiguration `json:"bot" yaml:"bot"`

	ShardManager ShardManagerConfiguration `json:"shard_manager" yaml:"shard_manager"`

	Prometheus PrometheusConfiguration `json:"prometheus" yaml:"prometheus"`

	HTTP HTTPConfiguration `json:"http" yaml:"http"`

	Producer ProducerConfiguration `json:"producer" yaml:"producer"`

	// Webhooks to POST alert embeds to on fatal conditions.
	Webhooks []string `json:"webhooks" yaml:"webhooks"`
}

type LoggingConfiguration struct {
	Level              string `json:"level" yaml:"level"`
	FileLoggingEnabled bool   `json:"file_logging_enabled" yaml:"file_logging_enabled"`

	EncodeAsJSON bool `json:"encode_as_json" yaml:"encode_as_json"`

	Directory  string `json:"directory" yaml:"directory"`
	Filename   string `json:"filename" yaml:"filename"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

type BotConfiguration struct {
	// Total shard count across the whole fleet.
	ShardCount int32 `json:"shard_count" yaml:"shard_count"`

	// ShardIDs is a range string such as "0-4,6-7" listing the shard ids
	// owned by this process. When empty, all shards are owned.
	ShardIDs string `json:"shard_ids" yaml:"shard_ids"`
}

type ShardManagerConfiguration struct {
	// When disabled, admission requests pass through immediately and the
	// coordinator is never dialed.
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

// Address returns the host:port pair of the coordinator.
func (smc ShardManagerConfiguration) Address() string {
	return net.JoinHostPort(smc.Host, strconv.Itoa(smc.Port))
}

type PrometheusConfiguration struct {
	Host string `json:"host" yaml:"host"`
}

type HTTPConfiguration struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
}

type ProducerConfiguration struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Channel string `json:"channel" yaml:"channel"`
}

// LoadConfiguration reads and validates a configuration file.
func LoadConfiguration(path string) (*Configuration, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	configuration := &Configuration{}

	err = yaml.Unmarshal(file, configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	configuration.applyDefaults()

	err = configuration.Validate()
	if err != nil {
		return nil, err
	}

	return configuration, nil
}

func (cfg *Configuration) applyDefaults() {
	cfg.ShardManager.Host = replaceIfEmpty(cfg.ShardManager.Host, defaultShardManagerHost)

	if cfg.ShardManager.Port == 0 {
		cfg.ShardManager.Port = defaultShardManagerPort
	}

	cfg.Producer.Channel = replaceIfEmpty(cfg.Producer.Channel, "shepherd")
	cfg.Logging.Level = replaceIfEmpty(cfg.Logging.Level, "info")
}

// Validate returns an error when the configuration cannot be used.
func (cfg *Configuration) Validate() error {
	if cfg.Bot.ShardCount < 1 {
		return ErrConfigurationValidateShardCount
	}

	if cfg.Producer.Enabled && cfg.Producer.Address == "" {
		return ErrConfigurationValidateProducer
	}

	return nil
}
