package app

import (
	"context"

	"cronguard/config"
	"cronguard/internals/modules/alert"
	"cronguard/internals/modules/checkin"
	"cronguard/internals/modules/monitor"
	"cronguard/internals/modules/schedule"
	"cronguard/internals/modules/sweeper"
	"cronguard/pkg/rabbitmq"
	"cronguard/pkg/redisstore"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type Container struct {
	DB          *pgxpool.Pool
	RedisClient *redisstore.Client
	Logger      *zerolog.Logger

	Sweeper  *sweeper.Sweeper
	Notifier *alert.Notifier

	checkinHandler *checkin.Handler
	monitorHandler *monitor.Handler
	cfg            *config.Config

	amqpConn  *amqp091.Connection
	publisher *rabbitmq.Publisher
	eventChan chan alert.Event
}

func NewContainer(ctx context.Context, db *pgxpool.Pool, cfg *config.Config, logger *zerolog.Logger) (*Container, error) {

	redisClient, err := redisstore.New(cfg.Redis)
	if err != nil {
		return nil, err
	}

	amqpConn, err := rabbitmq.NewConnection(cfg.RabbitMQ)
	if err != nil {
		return nil, err
	}
	if err := rabbitmq.SetupTopology(amqpConn, cfg.RabbitMQ); err != nil {
		return nil, err
	}
	publisher, err := rabbitmq.NewPublisher(amqpConn, cfg.RabbitMQ.ExchangeName, cfg.RabbitMQ.RoutingKey)
	if err != nil {
		return nil, err
	}

	eventChan := make(chan alert.Event, 500)

	validator := validator.New()
	eval := schedule.NewEvaluator()
	limiter := redisstore.NewLimiter(redisClient, cfg.RateLimit.Quota, cfg.RateLimit.Window)

	monitorRepo := monitor.NewRepository(db, logger)
	checkinRepo := checkin.NewRepository(db, logger)

	monitorSvc := monitor.NewService(monitorRepo, eventChan, cfg.Ingest.CASAttempts, cfg.Ingest.CASBackoffBase, logger)
	checkinSvc := checkin.NewService(monitorRepo, monitorSvc, checkinRepo, eval, limiter, logger)

	notifier := alert.NewNotifier(cfg.RabbitMQ.WorkerCount, eventChan, publisher, logger)

	leader := sweeper.NewLeader(db, cfg.Sweeper.LeaderLockKey, logger)
	sw := sweeper.NewSweeper(ctx, monitorRepo, monitorSvc, eval, leader, cfg.Sweeper, logger)

	monitorHandler := monitor.NewHandler(monitorSvc)
	checkinHandler := checkin.NewHandler(checkinSvc, validator)

	return &Container{
		DB:             db,
		RedisClient:    redisClient,
		Logger:         logger,
		Sweeper:        sw,
		Notifier:       notifier,
		checkinHandler: checkinHandler,
		monitorHandler: monitorHandler,
		cfg:            cfg,
		amqpConn:       amqpConn,
		publisher:      publisher,
		eventChan:      eventChan,
	}, nil
}

func (c *Container) Shutdown() error {
	// 1. Wait for the sweep loop to exit (the caller cancelled the root
	// context); an in-flight pass must not emit on a closed channel
	c.Sweeper.Wait()

	// 2. Stop feeding the notifier, then wait for in-flight publishes
	close(c.eventChan)
	c.Notifier.WorkerClosingWait()

	// 3. Close messaging
	if c.publisher != nil {
		_ = c.publisher.Close()
	}
	if c.amqpConn != nil {
		_ = c.amqpConn.Close()
	}

	// 4. Close redis
	if c.RedisClient != nil {
		_ = c.RedisClient.Close()
	}

	// 5. Close DB pool
	if c.DB != nil {
		c.DB.Close()
	}
	return nil
}
