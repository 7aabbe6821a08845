// cmd/cart-service/main.go
package main

import (
	"context"
	"time"

	"nexus-cart/internal/pkg/bootstrap"
	"nexus-cart/internal/pkg/logger"
	"nexus-cart/internal/pkg/mq"
	"nexus-cart/internal/pkg/redis"
	"nexus-cart/internal/pkg/zookeeper"
	"nexus-cart/internal/service/cart/application"
	"nexus-cart/internal/service/cart/domain"
	"nexus-cart/internal/service/cart/domain/port"
	"nexus-cart/internal/service/cart/infrastructure/boltstore"
	"nexus-cart/internal/service/cart/infrastructure/event"
	"nexus-cart/internal/service/cart/infrastructure/gormstore"
	"nexus-cart/internal/service/cart/infrastructure/lock"
	"nexus-cart/internal/service/cart/infrastructure/mongostore"
	"nexus-cart/internal/service/cart/infrastructure/rule"
	"nexus-cart/internal/service/cart/interfaces"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

const (
	serviceName    = "cart-service"
	connectTimeout = 10 * time.Second

	reclaimLockKey      = "cart:reclaimer:lock"
	reclaimLockResource = "cart-reclaimer"
	zkLockWait          = 2 * time.Second
)

type cleanupFunc = func(ctx context.Context) error

func main() {
	cfg, err := bootstrap.Init()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(logger.Options{Service: cfg.Service.Name, Level: cfg.Service.LogLevel, Env: cfg.Service.Env})

	app, err := buildApp(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to assemble cart-service")
	}
	if err := bootstrap.StartService(app); err != nil {
		zlog.Fatal().Err(err).Msg("cart-service exited with error")
	}
}

// buildApp 组装服务；失败时关闭已经打开的资源
func buildApp(cfg *bootstrap.Config) (app bootstrap.AppInfo, err error) {
	var cleanups []cleanupFunc
	defer func() {
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			bootstrap.RunCleanups(ctx, reversed(cleanups))
		}
	}()
	tracer := otel.Tracer(serviceName)

	// 1. 存储
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return app, err
	}
	cleanups = append(cleanups, closeStore)

	// 2. 事件发布
	var publisher port.EventPublisher = event.NoopPublisher{}
	if len(cfg.Infra.Kafka.Brokers) > 0 {
		writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.ReclaimTopic)
		publisher = event.NewKafkaPublisher(writer)
		cleanups = append(cleanups, func(context.Context) error { return writer.Close() })
	}

	// 3. 购物车服务
	options := []application.Option{application.WithPublisher(publisher)}
	if cfg.Cart.Policy != "" {
		policy, err := rule.NewCELPolicy(cfg.Cart.Policy)
		if err != nil {
			return app, err
		}
		options = append(options, application.WithPolicy(policy))
	}
	svc := application.NewCartService(store, tracer, application.Options{
		TTL:              cfg.Cart.TTL,
		TouchOnRead:      cfg.Cart.TouchOnRead,
		TxMaxAttempts:    cfg.Cart.TxMaxAttempts,
		DefaultPageLimit: cfg.Cart.DefaultPageLimit,
		MaxPageLimit:     cfg.Cart.MaxPageLimit,
	}, options...)

	// 4. 回收任务
	var background []func(ctx context.Context) error
	if cfg.Reclaimer.Enabled {
		cycleLock, closeLock, err := newCycleLock(cfg)
		if err != nil {
			return app, err
		}
		cleanups = append(cleanups, closeLock)

		reclaimer := application.NewReclaimer(store, tracer, application.ReclaimerOptions{
			Interval:   cfg.Reclaimer.Interval,
			BatchSize:  cfg.Reclaimer.BatchSize,
			RunOnStart: cfg.Reclaimer.RunOnStart,
		}, cycleLock, publisher)
		background = append(background, reclaimer.Start)
	}

	handler := interfaces.NewCartHandler(svc)
	return bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Service.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Router)
			appCtx.Router.Handle("/metrics", promhttp.Handler())
		},
		Background: background,
		Cleanup:    reversed(cleanups),
	}, nil
}

// reversed 关闭顺序与创建顺序相反
func reversed(cleanups []cleanupFunc) []cleanupFunc {
	out := make([]cleanupFunc, 0, len(cleanups))
	for i := len(cleanups) - 1; i >= 0; i-- {
		out = append(out, cleanups[i])
	}
	return out
}

func openStore(cfg *bootstrap.Config) (domain.Store, cleanupFunc, error) {
	switch cfg.Store.Driver {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		s, err := mongostore.Connect(ctx, cfg.Store.Mongo.URI, cfg.Store.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureIndexes(ctx, cfg.Store.Mongo.TTLGrace); err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "mysql":
		s, err := gormstore.Open(cfg.Store.MySQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func(context.Context) error { return s.Close() }, nil
	default:
		s, err := boltstore.Open(cfg.Store.Bolt.Path)
		if err != nil {
			return nil, nil, err
		}
		zlog.Info().Str("path", cfg.Store.Bolt.Path).Msg("✅ Opened bolt store")
		return s, func(context.Context) error { return s.Close() }, nil
	}
}

// newCycleLock 多副本部署时保证同一时刻只有一个回收任务在执行
func newCycleLock(cfg *bootstrap.Config) (port.CycleLock, cleanupFunc, error) {
	switch cfg.Reclaimer.Lock {
	case "redis":
		client, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			return nil, nil, errors.WithMessage(err, "redis ping")
		}
		l, err := lock.NewRedisLock(client, reclaimLockKey, cfg.Reclaimer.LockTTL)
		if err != nil {
			return nil, nil, err
		}
		return l, func(context.Context) error { return client.Close() }, nil
	case "zookeeper":
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, nil, err
		}
		return lock.NewZookeeperLock(conn, reclaimLockResource, zkLockWait), func(context.Context) error {
			conn.Close()
			return nil
		}, nil
	default:
		return lock.Noop{}, func(context.Context) error { return nil }, nil
	}
}
