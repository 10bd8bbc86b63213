package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is shared by every binary of the module. Values come from the
// environment, with an optional .env file for local runs.
type Config struct {
	NodeID               string        `env:"NODE_ID,required=true" validate:"required"`
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080" validate:"gt=0,lte=65535"`
	LogLevel             string        `env:"LOG_LEVEL,required=true" validate:"oneof=DEBUG INFO WARN ERROR"`
	JWTSecret            string        `env:"JWT_SECRET,required=true" validate:"min=16"`
	TokenDuration        time.Duration `env:"TOKEN_DURATION,default=24h"`
	RedisURL             string        `env:"REDIS_URL,required=true" validate:"required"`
	SessionTTL           time.Duration `env:"SESSION_TTL,default=2m" validate:"gt=0"`
	KafkaBrokers         []string      `env:"KAFKA_BROKERS,required=true" validate:"min=1"`
	ChatTopic            string        `env:"CHAT_TOPIC,default=chat.messages"`
	NotificationTopic    string        `env:"NOTIFICATION_TOPIC,default=notifications.user"`
	ChatDeadLetterTopic  string        `env:"CHAT_DEAD_LETTER_TOPIC"`
	ConsumerGroup        string        `env:"CONSUMER_GROUP,default=relay-lab"`
	PublishQueueSize     int           `env:"PUBLISH_QUEUE_SIZE,default=1024" validate:"gt=0"`
	InboundBufferSize    int           `env:"INBOUND_BUFFER_SIZE,default=512" validate:"gt=0"`
	InboundWorkers       int           `env:"INBOUND_WORKERS,default=4" validate:"gt=0"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"gt=0"`
	FanoutAllDevices     bool          `env:"FANOUT_ALL_DEVICES,default=true"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=5s"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true" validate:"required"`
	LimitMessages        *int          `env:"LIMIT_MESSAGES"`
}

// LoadConfig reads the optional .env file, unmarshals the environment
// and validates the result. The .env file never overrides variables
// already set in the environment.
func LoadConfig() (Config, error) {
	// Missing .env is fine: containers inject the environment directly
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}
