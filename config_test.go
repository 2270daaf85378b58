package shepherd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfiguration(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shepherd.yaml")

	err := os.WriteFile(path, []byte(contents), 0o600)
	if err != nil {
		t.Fatalf("failed to write configuration: %v", err)
	}

	return path
}

func TestLoadConfiguration(t *testing.T) {
	path := writeTestConfiguration(t, `
bot:
  shard_count: 4
  shard_ids: "0-3"
shard_manager:
  enabled: true
  port: 9100
`)

	configuration, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if configuration.Bot.ShardCount != 4 {
		t.Errorf("Expected shard count 4, but got %d", configuration.Bot.ShardCount)
	}

	if !configuration.ShardManager.Enabled {
		t.Error("Expected shard manager to be enabled")
	}

	if configuration.ShardManager.Address() != "127.0.0.1:9100" {
		t.Errorf("Expected default host with configured port, but got %q", configuration.ShardManager.Address())
	}

	if configuration.Logging.Level != "info" {
		t.Errorf("Expected default log level info, but got %q", configuration.Logging.Level)
	}

	if configuration.Producer.Channel != "shepherd" {
		t.Errorf("Expected default producer channel, but got %q", configuration.Producer.Channel)
	}
}

func TestLoadConfigurationInvalidShardCount(t *testing.T) {
	path := writeTestConfiguration(t, `
shard_manager:
  enabled: false
`)

	_, err := LoadConfiguration(path)
	if !errors.Is(err, ErrConfigurationValidateShardCount) {
		t.Errorf("Expected ErrConfigurationValidateShardCount, but got %v", err)
	}
}

func TestLoadConfigurationMissingProducerAddress(t *testing.T) {
	path := writeTestConfiguration(t, `
bot:
  shard_count: 1
producer:
  enabled: true
`)

	_, err := LoadConfiguration(path)
	if !errors.Is(err, ErrConfigurationValidateProducer) {
		t.Errorf("Expected ErrConfigurationValidateProducer, but got %v", err)
	}
}

func TestLoadConfigurationMissingFile(t *testing.T) {
	_, err := LoadConfiguration(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("Expected an error for a missing configuration file")
	}
}
