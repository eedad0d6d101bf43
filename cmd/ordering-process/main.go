// cmd/ordering-process/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"eshop-ordering/internal/pkg/actor"
	"eshop-ordering/internal/pkg/bootstrap"
	"eshop-ordering/internal/pkg/logger"
	"eshop-ordering/internal/pkg/metrics"
	"eshop-ordering/internal/pkg/mq"
	"eshop-ordering/internal/pkg/redis"
	"eshop-ordering/internal/pkg/tracing"
	"eshop-ordering/internal/pkg/zookeeper"
	"eshop-ordering/internal/service/ordering/application"
	"eshop-ordering/internal/service/ordering/infrastructure"
	"eshop-ordering/internal/service/ordering/interfaces"
	"eshop-ordering/internal/service/ordering/port"
)

// main 是组装根: 创建并组装所有依赖，然后启动 HTTP、reminder 轮询和通知消费三个循环
func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.App.ServiceName, cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.L().Error().Err(err).Msg("ordering process exited with error")
		os.Exit(1)
	}
	logger.L().Info().Msgf("Service %s gracefully shut down.", cfg.App.ServiceName)
}

func run(ctx context.Context, cfg *bootstrap.Config) error {
	tp, err := tracing.InitTracerProvider(cfg.App.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.L().Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}()

	var redisClient *redis.Client
	if cfg.Infra.StateStore == "redis" || cfg.Infra.Scheduler == "redis" {
		if redisClient, err = redis.NewClient(ctx, cfg.Infra.Redis.Addr); err != nil {
			return err
		}
		defer redisClient.Close()
	}

	store, err := buildStateStore(cfg, redisClient)
	if err != nil {
		return err
	}
	scheduler, err := buildScheduler(cfg, redisClient)
	if err != nil {
		return err
	}

	writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, "")
	defer writer.Close()
	publisher := infrastructure.NewKafkaEventPublisher(writer)

	runtimeOpts := actor.Options{IdleTimeout: cfg.App.IdleTimeout}
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return err
		}
		defer conn.Close()
		runtimeOpts.Locker = zookeeper.NewTurnLocker(conn, "ordering-")
	}
	runtime := actor.NewRuntime(runtimeOpts)
	defer runtime.Close()

	svc := application.NewOrderingProcessService(store, scheduler, publisher, runtime,
		application.Settings{
			GracePeriod:        cfg.App.GracePeriod,
			SimulatedWorkDelay: cfg.App.SimulatedWorkDelay,
			TurnTimeout:        cfg.App.TurnTimeout,
		},
		otel.Tracer(cfg.App.ServiceName),
		metrics.NewOrderingMetrics(nil),
	)

	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic, cfg.Infra.Kafka.GroupID)
	consumer := interfaces.NewNotificationConsumer(reader, svc).
		WithDeadLetter(writer, cfg.Infra.Kafka.DeadLetterTopic)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bootstrap.Serve(gctx, bootstrap.AppInfo{
			ServiceName: cfg.App.ServiceName,
			Port:        cfg.App.HTTPPort,
			Nacos:       cfg.Infra.Nacos,
			Ready: func(ctx context.Context) error {
				if redisClient == nil {
					return nil
				}
				return redisClient.GetClient().Ping(ctx).Err()
			},
		})
	})
	g.Go(func() error {
		return scheduler.Run(gctx, svc.ReceiveReminder)
	})
	g.Go(func() error {
		return consumer.Run(gctx)
	})

	logger.L().Info().
		Str("state_store", cfg.Infra.StateStore).
		Str("scheduler", cfg.Infra.Scheduler).
		Str("topic", cfg.Infra.Kafka.NotificationTopic).
		Msg("✅ Ordering process started")
	return g.Wait()
}

func buildStateStore(cfg *bootstrap.Config, redisClient *redis.Client) (port.StateStore, error) {
	switch cfg.Infra.StateStore {
	case "redis":
		return infrastructure.NewRedisStateStore(redisClient), nil
	case "mysql":
		db, err := infrastructure.OpenMySQL(infrastructure.MySQLConfig{
			User:     cfg.Infra.MySQL.User,
			Password: cfg.Infra.MySQL.Password,
			Host:     cfg.Infra.MySQL.Host,
			DB:       cfg.Infra.MySQL.DB,
		})
		if err != nil {
			return nil, err
		}
		return infrastructure.NewGormStateStore(db), nil
	case "memory":
		logger.L().Warn().Msg("Using in-memory state store, state is lost on restart")
		return infrastructure.NewMemoryStateStore(), nil
	}
	return nil, errors.Errorf("unknown state store %q", cfg.Infra.StateStore)
}

func buildScheduler(cfg *bootstrap.Config, redisClient *redis.Client) (port.ReminderDispatcher, error) {
	switch cfg.Infra.Scheduler {
	case "redis":
		s, err := infrastructure.NewRedisReminderScheduler(redisClient, infrastructure.RedisSchedulerOptions{
			PollInterval: cfg.Infra.Reminders.PollInterval,
			RetryBackoff: cfg.Infra.Reminders.RetryBackoff,
			Lease:        cfg.App.TurnTimeout + cfg.Infra.Reminders.RetryBackoff,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		logger.L().Warn().Msg("Using in-memory reminder scheduler, reminders are lost on restart")
		return infrastructure.NewMemoryReminderScheduler(), nil
	}
	return nil, errors.Errorf("unknown reminder scheduler %q", cfg.Infra.Scheduler)
}
