package cmd

import (
	"github.com/dukex/imageflow/pkg/config"
	cli "github.com/urfave/cli/v3"
)

// EngineFlags are the flags every engine or worker process reads into config.Config.
func EngineFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   defaults.LogLevel,
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Connection URL of the history store (file://, postgres://)",
			Value:   defaults.DatabaseURL,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "results-url",
			Usage:   "Connection URL of the result store when it differs from the history store (file://, postgres://, redis://)",
			Sources: cli.EnvVars("RESULTS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Task transport (local, gochannel, kafka)",
			Value:   defaults.EventBus,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "service-name",
			Usage:   "Service name used for tracing and consumer groups",
			Value:   defaults.ServiceName,
			Sources: cli.EnvVars("SERVICE_NAME"),
		},
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Worker ID stamped on task outcomes",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "pool-size",
			Usage:   "Maximum number of activities running at once",
			Value:   defaults.PoolSize,
			Sources: cli.EnvVars("POOL_SIZE"),
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Attempts per activity before it is reported failed",
			Value:   defaults.MaxAttempts,
			Sources: cli.EnvVars("MAX_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "task-timeout",
			Usage:   "Age after which an unanswered task is dispatched again",
			Value:   defaults.TaskTimeout,
			Sources: cli.EnvVars("TASK_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "conflict-retries",
			Usage:   "Retries after a history sequence conflict",
			Value:   defaults.ConflictRetries,
			Sources: cli.EnvVars("CONFLICT_RETRIES"),
		},
		&cli.StringFlag{
			Name:    "recovery-schedule",
			Usage:   "Cron schedule of the recovery sweep",
			Value:   defaults.RecoverySchedule,
			Sources: cli.EnvVars("RECOVERY_SCHEDULE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

// TriggerFlags configure the MinIO and Redis queue ingestion triggers.
func TriggerFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "minio-endpoint",
			Usage:   "MinIO endpoint; enables bucket notification ingestion",
			Sources: cli.EnvVars("MINIO_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "minio-access-key",
			Usage:   "MinIO access key",
			Sources: cli.EnvVars("MINIO_ACCESS_KEY"),
		},
		&cli.StringFlag{
			Name:    "minio-secret-key",
			Usage:   "MinIO secret key",
			Sources: cli.EnvVars("MINIO_SECRET_KEY"),
		},
		&cli.StringFlag{
			Name:    "minio-bucket",
			Usage:   "Bucket to watch for uploads",
			Sources: cli.EnvVars("MINIO_BUCKET"),
		},
		&cli.StringFlag{
			Name:    "minio-prefix",
			Usage:   "Object prefix to watch",
			Value:   defaults.MinIO.Prefix,
			Sources: cli.EnvVars("MINIO_PREFIX"),
		},
		&cli.BoolFlag{
			Name:    "minio-use-ssl",
			Usage:   "Connect to MinIO over TLS",
			Sources: cli.EnvVars("MINIO_USE_SSL"),
		},
		&cli.StringFlag{
			Name:    "queue-redis-url",
			Usage:   "Redis URL; enables list queue ingestion",
			Sources: cli.EnvVars("QUEUE_REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-name",
			Usage:   "Redis list holding queued images",
			Value:   defaults.Queue.Name,
			Sources: cli.EnvVars("QUEUE_NAME"),
		},
	}
}

// PortFlag is the HTTP port of the API server.
func PortFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Usage:   "Port to run the API server on",
		Value:   config.Default().Port,
		Sources: cli.EnvVars("PORT"),
	}
}

// ConfigFromCommand reads the flags of command into a config. Flags the command
// does not define keep their defaults.
func ConfigFromCommand(command *cli.Command) config.Config {
	cfg := config.Default()

	setString := func(name string, target *string) {
		if command.IsSet(name) || command.String(name) != "" {
			*target = command.String(name)
		}
	}

	setInt := func(name string, target *int) {
		if command.IsSet(name) {
			*target = command.Int(name)
		}
	}

	setString("log-level", &cfg.LogLevel)
	setString("database-url", &cfg.DatabaseURL)
	setString("results-url", &cfg.ResultsURL)
	setString("event-bus", &cfg.EventBus)
	setString("service-name", &cfg.ServiceName)
	setString("worker-id", &cfg.WorkerID)
	setString("recovery-schedule", &cfg.RecoverySchedule)
	setInt("pool-size", &cfg.PoolSize)
	setInt("max-attempts", &cfg.MaxAttempts)
	setInt("conflict-retries", &cfg.ConflictRetries)
	setInt("port", &cfg.Port)

	if command.IsSet("task-timeout") {
		cfg.TaskTimeout = command.Duration("task-timeout")
	}

	if brokers := command.String("kafka-brokers"); brokers != "" {
		cfg.KafkaBrokers = config.SplitList(brokers)
	}

	cfg.Tracing = command.Bool("tracing")

	setString("minio-endpoint", &cfg.MinIO.Endpoint)
	setString("minio-access-key", &cfg.MinIO.AccessKey)
	setString("minio-secret-key", &cfg.MinIO.SecretKey)
	setString("minio-bucket", &cfg.MinIO.Bucket)
	setString("minio-prefix", &cfg.MinIO.Prefix)
	cfg.MinIO.UseSSL = command.Bool("minio-use-ssl")

	setString("queue-redis-url", &cfg.Queue.RedisURL)
	setString("queue-name", &cfg.Queue.Name)

	return cfg
}
