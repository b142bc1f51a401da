// Package config holds the process configuration shared by the imageflow binaries.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Event bus providers.
const (
	BusLocal     = "local"
	BusGoChannel = "gochannel"
	BusKafka     = "kafka"
)

type MinIOConfig struct {
	Endpoint  string
	AccessKey string `validate:"required_with=Endpoint"`
	SecretKey string `validate:"required_with=Endpoint"`
	Bucket    string `validate:"required_with=Endpoint"`
	Prefix    string
	UseSSL    bool
}

func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

type QueueConfig struct {
	RedisURL string
	Name     string `validate:"required_with=RedisURL"`
}

func (q QueueConfig) Enabled() bool {
	return q.RedisURL != ""
}

type Config struct {
	LogLevel    string `validate:"oneof=debug info warn error"`
	DatabaseURL string `validate:"required"`
	// ResultsURL selects a separate result store. Empty means DatabaseURL.
	ResultsURL string

	EventBus     string   `validate:"oneof=local gochannel kafka"`
	KafkaBrokers []string `validate:"required_if=EventBus kafka"`
	ServiceName  string   `validate:"required"`
	WorkerID     string

	PoolSize         int           `validate:"min=1"`
	MaxAttempts      int           `validate:"min=1"`
	TaskTimeout      time.Duration `validate:"gt=0"`
	ConflictRetries  int           `validate:"min=0"`
	RecoverySchedule string        `validate:"required"`

	Port    int `validate:"min=1,max=65535"`
	Tracing bool

	MinIO MinIOConfig
	Queue QueueConfig
}

func Default() Config {
	return Config{
		LogLevel:         "info",
		DatabaseURL:      "file://./data",
		EventBus:         BusLocal,
		ServiceName:      "imageflow",
		PoolSize:         4,
		MaxAttempts:      3,
		TaskTimeout:      5 * time.Minute,
		ConflictRetries:  3,
		RecoverySchedule: "@every 30s",
		Port:             9091,
		MinIO:            MinIOConfig{Prefix: "images/"},
		Queue:            QueueConfig{Name: "imageflow:images"},
	}
}

// ResultStoreURL returns the URL of the store reports are written to.
func (c Config) ResultStoreURL() string {
	if c.ResultsURL != "" {
		return c.ResultsURL
	}

	return c.DatabaseURL
}

// Validate checks the configuration with its validate tags.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// SplitList parses a comma separated flag value, dropping blanks.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}

	return items
}
