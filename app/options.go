package app

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/notifire/internal/greeter"
	"github.com/RezaEskandarii/notifire/internal/message_broaker"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject custom connections instead of creating them from config
	db     *sql.DB
	redis  *redis.Client
	broker message_broaker.MessageBroker
	sender greeter.Sender
	logger *slog.Logger
}

// WithDB injects a custom database connection. Useful for testing.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a custom Redis client. Useful for testing.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithMessageBroker replaces the RabbitMQ broker built from config.
func WithMessageBroker(b message_broaker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = b
	}
}

// WithSender replaces the HTTP mail sender of the greeter.
func WithSender(s greeter.Sender) ContainerOption {
	return func(c *containerConfig) {
		c.sender = s
	}
}

func WithLogger(l *slog.Logger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = l
	}
}
