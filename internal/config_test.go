package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("NODE_ID", "node-test")
	t.Setenv("LOG_LEVEL", "INFO")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("KAFKA_BROKERS", "localhost:9092,localhost:9093")
	t.Setenv("BADGER_FILEPATH", t.TempDir())
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	req := require.New(t)
	setRequiredEnv(t)

	config, err := LoadConfig()

	req.NoError(err)
	req.Equal("localhost", config.Host)
	req.Equal(8080, config.Port)
	req.Equal([]string{"localhost:9092", "localhost:9093"}, config.KafkaBrokers)
	req.Equal("chat.messages", config.ChatTopic)
	req.Equal("notifications.user", config.NotificationTopic)
	req.Empty(config.ChatDeadLetterTopic)
	req.Equal(4, config.InboundWorkers)
	req.True(config.FanoutAllDevices)
	req.Equal(5*time.Second, config.RestartInterval)
	req.Nil(config.LimitMessages)
}

func TestLoadConfig_RejectsMissingRequired(t *testing.T) {
	req := require.New(t)
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()

	req.Error(err)
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	req := require.New(t)
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "LOUD")

	_, err := LoadConfig()

	req.Error(err)
	req.Contains(err.Error(), "validation")
}

func TestLoadConfig_ShortSecretIsRejected(t *testing.T) {
	req := require.New(t)
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "too-short")

	_, err := LoadConfig()

	req.Error(err)
}
