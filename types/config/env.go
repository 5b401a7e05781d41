package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/RezaEskandarii/notifire/internal/engine"
	"github.com/RezaEskandarii/notifire/internal/greeter"
)

// EnvConfig is the process environment of the notifire binary.
type EnvConfig struct {
	Instance  string `envconfig:"INSTANCE" default:"notifire"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	DatabaseURL   string `envconfig:"DATABASE_URL" validate:"required"`
	RedisAddress  string `envconfig:"REDIS_ADDRESS" default:"localhost:6379" validate:"required,hostname_port"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`

	RabbitMQURL      string `envconfig:"RABBITMQ_URL" validate:"omitempty,url"`
	RabbitMQExchange string `envconfig:"RABBITMQ_EXCHANGE" default:"notifire"`
	RabbitMQQueue    string `envconfig:"RABBITMQ_QUEUE" default:"notifire_jobs"`

	WorkerCount      int `envconfig:"WORKER_COUNT" default:"5" validate:"gte=1"`
	EnqueueInterval  int `envconfig:"ENQUEUE_INTERVAL" default:"15" validate:"gte=1"`
	ScheduleInterval int `envconfig:"SCHEDULE_INTERVAL" default:"60" validate:"gte=1"`
	QueueBatchSize   int `envconfig:"QUEUE_BATCH_SIZE" default:"100" validate:"gte=1"`

	BatchSize        int           `envconfig:"BATCH_SIZE" default:"50" validate:"gte=1"`
	MaxRunLifetime   time.Duration `envconfig:"MAX_RUN_LIFETIME" default:"24h" validate:"gt=0"`
	CheckpointTTL    time.Duration `envconfig:"CHECKPOINT_TTL" default:"1h" validate:"gt=0"`
	SendConcurrency  int           `envconfig:"SEND_CONCURRENCY" default:"0" validate:"gte=0"`
	LeaseTTL         time.Duration `envconfig:"LEASE_TTL" default:"5m" validate:"gt=0"`
	DeleteOnComplete bool          `envconfig:"DELETE_ON_COMPLETE" default:"false"`

	MailProviderURL   string        `envconfig:"MAIL_PROVIDER_URL" validate:"required,url"`
	RecipientEmail    string        `envconfig:"RECIPIENT_EMAIL" validate:"required,email"`
	ScheduledSendTime string        `envconfig:"SCHEDULED_SEND_TIME" default:"09:00" validate:"datetime=15:04"`
	RecurringSchedule string        `envconfig:"RECURRING_SCHEDULE" default:"*/15 * * * *"`
	RetryDelay        time.Duration `envconfig:"RETRY_DELAY" default:"300s" validate:"gt=0"`
	HTTPTimeout       time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s" validate:"gt=0"`
}

// LoadEnv reads .env when present, then the process environment, and
// validates the result.
func LoadEnv() (*EnvConfig, error) {
	_ = godotenv.Load()

	var env EnvConfig
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := validator.New().Struct(env); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return &env, nil
}

// Options converts the environment into config options.
func (e *EnvConfig) Options() []ContainerOption {
	opts := []ContainerOption{
		WithPostgresConfig(PostgresConfig{ConnectionUrl: e.DatabaseURL}),
		WithRedisConfig(RedisConfig{Address: e.RedisAddress, Password: e.RedisPassword, DB: e.RedisDB}),
		WithWorkerCount(e.WorkerCount),
		WithEnqueueInterval(e.EnqueueInterval),
		WithScheduleInterval(e.ScheduleInterval),
		WithBatchSize(e.QueueBatchSize),
		WithEngineConfig(engine.Config{
			BatchSize:        e.BatchSize,
			MaxRunLifetime:   e.MaxRunLifetime,
			CheckpointTTL:    e.CheckpointTTL,
			SendConcurrency:  e.SendConcurrency,
			LeaseTTL:         e.LeaseTTL,
			DeleteOnComplete: e.DeleteOnComplete,
		}),
		WithGreeterConfig(greeter.Config{
			MailProviderURL:   e.MailProviderURL,
			RecipientEmail:    e.RecipientEmail,
			ScheduledSendTime: e.ScheduledSendTime,
			RecurringSchedule: e.RecurringSchedule,
			RetryDelay:        e.RetryDelay,
			HTTPTimeout:       e.HTTPTimeout,
		}),
	}
	if e.RabbitMQURL != "" {
		opts = append(opts, WithRabbitMQConfig(RabbitMQConfig{
			URL:      e.RabbitMQURL,
			Exchange: e.RabbitMQExchange,
			Queue:    e.RabbitMQQueue,
		}))
	}
	return opts
}

// LoadFromEnv builds a NotifireConfig from the environment.
func LoadFromEnv() (*NotifireConfig, *EnvConfig, error) {
	env, err := LoadEnv()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := NewNotifireConfig(env.Instance, env.Options()...)
	if err != nil {
		return nil, env, err
	}
	return cfg, env, nil
}
