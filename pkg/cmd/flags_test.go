package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/imageflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func parseConfig(t *testing.T, args ...string) config.Config {
	t.Helper()

	var cfg config.Config

	command := &cli.Command{
		Name:  "test",
		Flags: append(append(EngineFlags(), TriggerFlags()...), PortFlag()),
		Action: func(_ context.Context, command *cli.Command) error {
			cfg = ConfigFromCommand(command)

			return nil
		},
	}

	require.NoError(t, command.Run(context.Background(), append([]string{"test"}, args...)))

	return cfg
}

func TestConfigFromCommand_Defaults(t *testing.T) {
	cfg := parseConfig(t)

	assert.Equal(t, config.Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestConfigFromCommand_Flags(t *testing.T) {
	cfg := parseConfig(t,
		"--database-url", "postgres://u:p@db/imageflow",
		"--results-url", "redis://cache:6379/1",
		"--event-bus", "kafka",
		"--kafka-brokers", "k1:9092, k2:9092",
		"--pool-size", "8",
		"--task-timeout", "90s",
		"--port", "8080",
		"--minio-endpoint", "minio:9000",
		"--minio-access-key", "key",
		"--minio-secret-key", "secret",
		"--minio-bucket", "uploads",
		"--queue-redis-url", "redis://cache:6379/2",
	)

	assert.Equal(t, "postgres://u:p@db/imageflow", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/1", cfg.ResultStoreURL())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 90*time.Second, cfg.TaskTimeout)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.MinIO.Enabled())
	assert.Equal(t, "images/", cfg.MinIO.Prefix)
	assert.True(t, cfg.Queue.Enabled())
	assert.Equal(t, "imageflow:images", cfg.Queue.Name)
	require.NoError(t, cfg.Validate())
}
