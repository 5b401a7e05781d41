package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/notifire/client"
	"github.com/RezaEskandarii/notifire/internal/checkpoint"
	"github.com/RezaEskandarii/notifire/internal/engine"
	"github.com/RezaEskandarii/notifire/internal/greeter"
	"github.com/RezaEskandarii/notifire/internal/lock"
	"github.com/RezaEskandarii/notifire/internal/message_broaker"
	"github.com/RezaEskandarii/notifire/internal/store"
	"github.com/RezaEskandarii/notifire/internal/store/postgres"
	"github.com/RezaEskandarii/notifire/types/config"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.NotifireConfig
	Logger *slog.Logger

	// Storage connections (created once, shared by all stores)
	DB    *sql.DB
	Redis *redis.Client

	EnqueuedJobStore store.EnqueuedJobStore
	CronJobStore     store.CronJobStore
	Checkpoints      *checkpoint.RedisStore

	// Infrastructure
	LockManager   *lock.PostgresDistributedLockManager
	RunLease      *lock.RedisRunLease
	MessageBroker message_broaker.MessageBroker

	// Job handlers and managers
	JobHandler       *config.JobHandler
	EnqueueScheduler *client.EnqueueJobsManager
	CronJobManager   *client.CronJobManager
	JobManager       *client.JobManager

	// Greeter is the birthday greeting engine, registered under greeter.JobName.
	Greeter *engine.Engine[greeter.Recipient]
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle.
// Pass optional WithDB, WithRedis to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.NotifireConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}
	logger := opt.logger
	if logger == nil {
		logger = slog.Default()
	}

	db, redisClient, err := initStorageConnections(cfg, opt)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	messageBroker := opt.broker
	if messageBroker == nil && cfg.UseQueueWriter {
		mBroker, err := message_broaker.NewRabbitMQ(
			cfg.RabbitMQConfig.URL,
			cfg.RabbitMQConfig.Exchange,
			cfg.RabbitMQConfig.Queue,
			cfg.RabbitMQConfig.RoutingKey,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("init rabbitmq: %w", err)
		}
		messageBroker = mBroker
	}

	enqueuedStore := postgres.NewPostgresEnqueuedJobStore(db)
	cronStore := postgres.NewPostgresCronJobStore(db)
	lockMgr := lock.NewPostgresDistributedLockManager(db)

	jobHandler := config.NewJobHandler()
	for _, h := range cfg.Handlers {
		if err := jobHandler.Register(h.JobName, h.Func); err != nil {
			return nil, err
		}
	}

	jobManager := client.NewJobManager(
		enqueuedStore,
		cronStore,
		jobHandler,
		lockMgr,
		messageBroker,
		cfg.UseQueueWriter,
		cfg.RabbitMQConfig.Queue,
		client.WithLogger(logger),
	)

	sender := opt.sender
	if sender == nil {
		sender = greeter.NewMailSender(cfg.Greeter.MailProviderURL, cfg.Greeter.HTTPTimeout)
	}
	checkpoints := checkpoint.NewRedisStore(redisClient, greeter.Scope, checkpoint.WithLogger(logger))
	runLease := lock.NewRedisRunLease(redisClient, greeter.Scope)

	greeterEngine := engine.New[greeter.Recipient](
		greeter.NewJob(cfg.Greeter, sender, logger),
		greeter.NewSource(db),
		checkpoints,
		jobManager,
		cfg.Engine,
		engine.WithLogger(logger),
		engine.WithLease(runLease),
	)
	if err := jobHandler.Register(greeter.JobName, greeterEngine.Process); err != nil {
		return nil, err
	}

	return &Container{
		Config:           cfg,
		Logger:           logger,
		DB:               db,
		Redis:            redisClient,
		EnqueuedJobStore: enqueuedStore,
		CronJobStore:     cronStore,
		Checkpoints:      checkpoints,
		LockManager:      lockMgr,
		RunLease:         runLease,
		MessageBroker:    messageBroker,
		JobHandler:       jobHandler,
		EnqueueScheduler: client.NewEnqueueScheduler(enqueuedStore, lockMgr, jobHandler, messageBroker, cfg.Instance, client.WithLogger(logger)),
		CronJobManager:   client.NewCronJobManager(cronStore, jobManager, jobHandler, cfg.Instance, client.WithLogger(logger)),
		JobManager:       jobManager,
		Greeter:          greeterEngine,
	}, nil
}

// Close releases locks and closes every connection the container owns.
func (c *Container) Close(ctx context.Context) error {
	c.LockManager.ReleaseAll(ctx)
	err := c.JobManager.Close(ctx)
	if c.Redis != nil {
		err = errors.Join(err, c.Redis.Close())
	}
	return err
}

// initStorageConnections creates database connections based on config.
func initStorageConnections(cfg *config.NotifireConfig, opt *containerConfig) (*sql.DB, *redis.Client, error) {
	db := opt.db
	if db == nil {
		switch cfg.StorageDriver {
		case config.Postgres:
			var err error
			if db, err = openPostgresDB(cfg.PostgresConfig.ConnectionUrl); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, fmt.Errorf("unsupported storage driver: %v", cfg.StorageDriver)
		}
	}

	redisClient := opt.redis
	if redisClient == nil {
		if cfg.RedisConfig.Address == "" {
			return nil, nil, errors.New("redis address is required for run checkpoints")
		}
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
	}
	return db, redisClient, nil
}

func openPostgresDB(connectionURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return db, nil
}
